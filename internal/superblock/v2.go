package superblock

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/h5path/internal/binary"
)

/*
Version 2/3 superblock:

	8  signature
	1  version
	1  size of offsets (O)
	1  size of lengths
	1  file consistency flags
	O  base address
	O  superblock extension address
	O  end of file address
	O  root group object header address
	4  lookup3 checksum of everything above
*/

func readV2(r io.ReaderAt, off int64) (*Superblock, error) {
	head := make([]byte, 12)
	if _, err := r.ReadAt(head, off); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	sb := &Superblock{
		Version:              head[8],
		OffsetSize:           head[9],
		LengthSize:           head[10],
		FileConsistencyFlags: head[11],
	}
	cfg := sb.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	size := sb.Size()
	raw := make([]byte, size)
	if _, err := r.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	br := binpkg.BytesReader(raw, cfg).At(12)
	sb.BaseAddress, _ = br.ReadOffset()
	sb.ExtensionAddress, _ = br.ReadOffset()
	sb.EOFAddress, _ = br.ReadOffset()
	sb.RootGroupAddress, _ = br.ReadOffset()
	stored, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	if !binpkg.VerifyLookup3(raw[:size-4], stored) {
		return nil, ErrChecksum
	}
	return sb, nil
}

// Size returns the encoded size of a v2/v3 superblock.
func (sb *Superblock) Size() int {
	o := int(sb.OffsetSize)
	if o == 0 {
		o = 8
	}
	return 12 + 4*o + 4
}

// Encode serializes a v2/v3 superblock.
func (sb *Superblock) Encode() ([]byte, error) {
	if sb.IsLegacy() {
		return nil, fmt.Errorf("%w: cannot write version %d", ErrUnsupportedVersion, sb.Version)
	}
	cfg := sb.Config()
	w, buf := binpkg.NewBufferWriter(cfg, sb.Size())

	ext := sb.ExtensionAddress
	if ext == 0 {
		ext = binpkg.Undefined(cfg.OffsetSize)
	}
	_ = w.WriteBytes(Signature)
	_ = w.WriteUint8(sb.Version)
	_ = w.WriteUint8(sb.OffsetSize)
	_ = w.WriteUint8(sb.LengthSize)
	_ = w.WriteUint8(sb.FileConsistencyFlags)
	_ = w.WriteOffset(sb.BaseAddress)
	_ = w.WriteOffset(ext)
	_ = w.WriteOffset(sb.EOFAddress)
	_ = w.WriteOffset(sb.RootGroupAddress)
	if err := w.WriteUint32(binpkg.Lookup3Checksum(buf.Bytes())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the encoded superblock at FileOffset.
func (sb *Superblock) WriteTo(w io.WriterAt) error {
	raw, err := sb.Encode()
	if err != nil {
		return err
	}
	_, err = w.WriteAt(raw, sb.FileOffset)
	return err
}

package superblock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/h5path/internal/binary"
)

// Signature is the 8-byte HDF5 format signature.
var Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// The superblock may sit at 0 or any power of two from 512 upward when a
// user block precedes it.
var searchOffsets = []int64{0, 512, 1024, 2048, 4096, 8192}

var (
	ErrNotHDF5            = errors.New("not an HDF5 file: signature not found")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrChecksum           = errors.New("superblock checksum mismatch")
)

// Superblock holds the file-level metadata needed to navigate the file.
type Superblock struct {
	Version    uint8
	OffsetSize uint8
	LengthSize uint8

	// FileConsistencyFlags is only meaningful for v2/v3.
	FileConsistencyFlags uint8

	BaseAddress      uint64
	ExtensionAddress uint64 // v2/v3, undefined when absent
	EOFAddress       uint64
	RootGroupAddress uint64 // object header of the root group

	// v0/v1 only.
	GroupLeafNodeK     uint16
	GroupInternalNodeK uint16
	IndexedStorageK    uint16

	// Root symbol table entry scratch pad (v0/v1, cache type 1 only).
	RootBTreeAddress     uint64
	RootLocalHeapAddress uint64

	// FileOffset is where the signature was found.
	FileOffset int64
}

// New returns a version 3 superblock using the widths in cfg.
func New(cfg binpkg.Config) *Superblock {
	return &Superblock{
		Version:          3,
		OffsetSize:       uint8(cfg.OffsetSize),
		LengthSize:       uint8(cfg.LengthSize),
		ExtensionAddress: binpkg.Undefined(cfg.OffsetSize),
	}
}

// Read locates and parses the superblock.
func Read(r io.ReaderAt) (*Superblock, error) {
	sig := make([]byte, len(Signature)+1)
	for _, off := range searchOffsets {
		n, err := r.ReadAt(sig, off)
		if n < len(sig) {
			if err == nil || errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if !bytes.Equal(sig[:8], Signature) {
			continue
		}

		var sb *Superblock
		switch version := sig[8]; version {
		case 0, 1:
			sb, err = readLegacy(r, off, version)
		case 2, 3:
			sb, err = readV2(r, off)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}
		if err != nil {
			return nil, err
		}
		sb.FileOffset = off
		return sb, nil
	}
	return nil, ErrNotHDF5
}

// Config returns the binary configuration described by this superblock.
func (sb *Superblock) Config() binpkg.Config {
	return binpkg.Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: int(sb.OffsetSize),
		LengthSize: int(sb.LengthSize),
	}
}

// IsLegacy reports whether the file uses the v0/v1 superblock.
func (sb *Superblock) IsLegacy() bool { return sb.Version < 2 }

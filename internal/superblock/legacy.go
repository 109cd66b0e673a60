package superblock

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/h5path/internal/binary"
)

/*
Version 0/1 superblock, after the 8-byte signature:

	1  version
	1  free-space storage version
	1  root group symbol table entry version
	1  reserved
	1  shared header message format version
	1  size of offsets (O)
	1  size of lengths
	1  reserved
	2  group leaf node K
	2  group internal node K
	4  file consistency flags
	2  indexed storage K        (v1 only)
	2  reserved                 (v1 only)
	O  base address
	O  free-space info address
	O  end of file address
	O  driver information block address
	   root group symbol table entry:
	O    link name offset
	O    object header address
	4    cache type
	4    reserved
	16   scratch pad (cache type 1: B-tree address, local heap address)
*/

func readLegacy(r io.ReaderAt, off int64, version uint8) (*Superblock, error) {
	fixed := make([]byte, 16)
	if _, err := r.ReadAt(fixed, off+8); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}

	sb := &Superblock{
		Version:            version,
		OffsetSize:         fixed[5],
		LengthSize:         fixed[6],
		GroupLeafNodeK:     uint16(fixed[8]) | uint16(fixed[9])<<8,
		GroupInternalNodeK: uint16(fixed[10]) | uint16(fixed[11])<<8,
	}
	cfg := sb.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	br := binpkg.NewReader(r, cfg).At(off + 24)
	if version == 1 {
		k, err := br.ReadUint16()
		if err != nil {
			return nil, err
		}
		sb.IndexedStorageK = k
		br.Skip(2)
	}

	var err error
	if sb.BaseAddress, err = br.ReadOffset(); err != nil {
		return nil, err
	}
	br.Skip(int64(cfg.OffsetSize)) // free-space info
	if sb.EOFAddress, err = br.ReadOffset(); err != nil {
		return nil, err
	}
	br.Skip(int64(cfg.OffsetSize)) // driver info
	br.Skip(int64(cfg.OffsetSize)) // link name offset
	if sb.RootGroupAddress, err = br.ReadOffset(); err != nil {
		return nil, err
	}

	cacheType, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	br.Skip(4)
	if cacheType == 1 {
		if sb.RootBTreeAddress, err = br.ReadOffset(); err != nil {
			return nil, err
		}
		if sb.RootLocalHeapAddress, err = br.ReadOffset(); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

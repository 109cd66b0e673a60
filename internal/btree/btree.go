package btree

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/heap"
)

// ErrCorrupt is returned for a malformed node.
var ErrCorrupt = errors.New("corrupt v1 B-tree")

const (
	nodeGroup = 0
	nodeChunk = 1
)

// maxDepth bounds recursion on cyclic or corrupt trees.
const maxDepth = 64

type node struct {
	level   uint8
	entries int
	r       *binary.Reader // positioned at the first key
}

func readNode(r *binary.Reader, addr uint64, kind uint8) (*node, error) {
	nr := r.At(int64(addr))
	hdr, err := nr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading B-tree node at 0x%x: %w", addr, err)
	}
	if string(hdr[:4]) != "TREE" {
		return nil, fmt.Errorf("%w: bad signature %q at 0x%x", ErrCorrupt, hdr[:4], addr)
	}
	if hdr[4] != kind {
		return nil, fmt.Errorf("%w: node type %d at 0x%x, want %d", ErrCorrupt, hdr[4], addr, kind)
	}
	nr.Skip(2 * int64(nr.OffsetSize())) // siblings
	return &node{level: hdr[5], entries: int(hdr[6]) | int(hdr[7])<<8, r: nr}, nil
}

// Chunk locates one stored chunk.
type Chunk struct {
	Offset     []uint64 // element coordinates of the chunk origin
	Size       uint32   // stored size in bytes
	FilterMask uint32
	Address    uint64
}

// ReadChunks returns every chunk indexed by the tree rooted at addr for a
// dataset of the given rank.
func ReadChunks(r *binary.Reader, addr uint64, rank int) ([]Chunk, error) {
	var out []Chunk
	err := walkChunks(r, addr, rank, 0, &out)
	return out, err
}

func walkChunks(r *binary.Reader, addr uint64, rank, depth int, out *[]Chunk) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, maxDepth)
	}
	n, err := readNode(r, addr, nodeChunk)
	if err != nil {
		return err
	}
	// keys and children interleave: key0 child0 key1 ... childN-1 keyN
	for range n.entries {
		size, err := n.r.ReadUint32()
		if err != nil {
			return err
		}
		mask, err := n.r.ReadUint32()
		if err != nil {
			return err
		}
		offset := make([]uint64, rank+1)
		for d := range offset {
			if offset[d], err = n.r.ReadUint64(); err != nil {
				return err
			}
		}
		child, err := n.r.ReadOffset()
		if err != nil {
			return err
		}
		if n.level > 0 {
			if err := walkChunks(r, child, rank, depth+1, out); err != nil {
				return err
			}
			continue
		}
		if n.r.IsUndefinedOffset(child) {
			continue
		}
		*out = append(*out, Chunk{Offset: offset[:rank], Size: size, FilterMask: mask, Address: child})
	}
	return nil
}

// Symbol is one member of a symbol-table group.
type Symbol struct {
	Name     string
	Address  uint64
	SoftPath string // set for soft links
}

// cache types of a symbol table entry
const (
	cacheNone     = 0
	cacheGroup    = 1
	cacheSoftLink = 2
)

// ReadGroup returns the members of a symbol-table group whose B-tree and
// local heap are at the given addresses.
func ReadGroup(r *binary.Reader, btreeAddr, heapAddr uint64) ([]Symbol, error) {
	names, err := heap.ReadLocal(r, heapAddr)
	if err != nil {
		return nil, err
	}
	var out []Symbol
	err = walkGroup(r, btreeAddr, names, 0, &out)
	return out, err
}

func walkGroup(r *binary.Reader, addr uint64, names *heap.Local, depth int, out *[]Symbol) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, maxDepth)
	}
	n, err := readNode(r, addr, nodeGroup)
	if err != nil {
		return err
	}
	for range n.entries {
		n.r.Skip(int64(n.r.LengthSize())) // key: heap offset of the boundary name
		child, err := n.r.ReadOffset()
		if err != nil {
			return err
		}
		if n.level > 0 {
			err = walkGroup(r, child, names, depth+1, out)
		} else {
			err = readSymbolNode(r, child, names, out)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readSymbolNode(r *binary.Reader, addr uint64, names *heap.Local, out *[]Symbol) error {
	nr := r.At(int64(addr))
	hdr, err := nr.ReadBytes(8)
	if err != nil {
		return fmt.Errorf("reading symbol node at 0x%x: %w", addr, err)
	}
	if string(hdr[:4]) != "SNOD" {
		return fmt.Errorf("%w: bad symbol node signature %q at 0x%x", ErrCorrupt, hdr[:4], addr)
	}
	if hdr[4] != 1 {
		return fmt.Errorf("%w: symbol node version %d", ErrCorrupt, hdr[4])
	}
	count := int(hdr[6]) | int(hdr[7])<<8
	for range count {
		nameOff, err := nr.ReadOffset()
		if err != nil {
			return err
		}
		objAddr, err := nr.ReadOffset()
		if err != nil {
			return err
		}
		cache, err := nr.ReadUint32()
		if err != nil {
			return err
		}
		nr.Skip(4)
		scratch, err := nr.ReadBytes(16)
		if err != nil {
			return err
		}
		name, err := names.String(nameOff)
		if err != nil {
			return err
		}
		sym := Symbol{Name: name, Address: objAddr}
		if cache == cacheSoftLink {
			off := uint64(scratch[0]) | uint64(scratch[1])<<8 | uint64(scratch[2])<<16 | uint64(scratch[3])<<24
			if sym.SoftPath, err = names.String(off); err != nil {
				return err
			}
		}
		*out = append(*out, sym)
	}
	return nil
}

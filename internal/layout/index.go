package layout

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/h5path/internal/alloc"
	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/btree"
	"github.com/robert-malhotra/h5path/internal/message"
)

// ErrUnsupportedIndex is returned for chunk index types this package does
// not read.
var ErrUnsupportedIndex = errors.New("unsupported chunk index")

// Undefined marks a chunk with no storage.
const Undefined = ^uint64(0)

// Entry locates one stored chunk.
type Entry struct {
	Addr uint64
	Size uint64 // stored bytes, after filters
	Mask uint32 // filters skipped for this chunk
}

// Stored reports whether the chunk has file space.
func (e Entry) Stored() bool { return e.Addr != Undefined }

// Empty returns n entries with no storage.
func Empty(n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i].Addr = Undefined
	}
	return out
}

// Index is a chunk index read from a file.
type Index struct {
	Entries []Entry

	// Blocks lists the file space of the index structures themselves. It
	// is nil when the index has no separate structures or their extent is
	// not tracked (v1 B-trees).
	Blocks []alloc.Block
}

// ReadIndex returns one entry per chunk of g for the dataset described by
// dl. chunkBytes is the unfiltered size of a full chunk.
func ReadIndex(r *binary.Reader, dl *message.DataLayout, g Grid, chunkBytes int) (*Index, error) {
	entries := Empty(g.NumChunks())
	idx := &Index{Entries: entries}
	if dl.Address == Undefined || r.IsUndefinedOffset(dl.Address) {
		return idx, nil
	}

	switch dl.IndexType {
	case message.IndexSingleChunk:
		e := Entry{Addr: dl.Address, Size: uint64(chunkBytes)}
		if dl.Flags&message.LayoutFlagSingleFiltered != 0 {
			e.Size, e.Mask = dl.SingleFilteredSize, dl.SingleFilterMask
		}
		entries[0] = e

	case message.IndexImplicit:
		for i := range entries {
			entries[i] = Entry{Addr: dl.Address + uint64(i*chunkBytes), Size: uint64(chunkBytes)}
		}

	case message.IndexFixedArray:
		var err error
		idx.Entries, idx.Blocks, err = ReadFixedArray(r, dl.Address, g.NumChunks(), chunkBytes)
		if err != nil {
			return nil, err
		}

	case message.IndexBTreeV1:
		chunks, err := btree.ReadChunks(r, dl.Address, g.Rank())
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			i, ok := g.IndexOf(c.Offset)
			if !ok {
				return nil, fmt.Errorf("chunk at %v is not on the chunk grid", c.Offset)
			}
			entries[i] = Entry{Addr: c.Address, Size: uint64(c.Size), Mask: c.FilterMask}
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedIndex, dl.IndexType)
	}
	return idx, nil
}

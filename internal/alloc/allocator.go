package alloc

import (
	"fmt"
	"sort"
	"sync"
)

// Block is a contiguous range of file space.
type Block struct {
	Addr uint64
	Size uint64
}

// End returns the first address past the block.
func (b Block) End() uint64 { return b.Addr + b.Size }

// Stats contains allocation statistics.
type Stats struct {
	Allocations  uint64 // number of Alloc calls that returned space
	BytesAlloc   uint64 // total bytes handed out
	BytesReused  uint64 // bytes satisfied from the free list
	BytesFreed   uint64 // bytes returned through Free or Release
	LargestAlloc uint64
}

// Allocator tracks file space. It is safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	base uint64
	eof  uint64

	free    []Block // reusable now, sorted by address, coalesced
	pending []Block // reusable after the next Commit

	live  map[uint64]uint64 // addr -> size, for Validate
	tags  map[uint64]string
	stats Stats
}

// New creates an allocator whose first allocatable address is base.
func New(base uint64) *Allocator {
	return &Allocator{
		base: base,
		eof:  base,
		live: make(map[uint64]uint64),
		tags: make(map[uint64]string),
	}
}

// Alloc returns the address of size fresh bytes.
func (a *Allocator) Alloc(size uint64) uint64 {
	return a.AllocTagged(size, "")
}

// AllocTagged is Alloc with a tag recorded for diagnostics.
func (a *Allocator) AllocTagged(size uint64, tag string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return a.eof
	}

	addr, reused := a.takeFree(size)
	if !reused {
		addr = a.eof
		a.eof += size
	} else {
		a.stats.BytesReused += size
	}

	a.live[addr] = size
	if tag != "" {
		a.tags[addr] = tag
	}
	a.stats.Allocations++
	a.stats.BytesAlloc += size
	a.stats.LargestAlloc = max(a.stats.LargestAlloc, size)
	return addr
}

// takeFree carves size bytes from the first free block large enough.
func (a *Allocator) takeFree(size uint64) (uint64, bool) {
	for i, b := range a.free {
		if b.Size < size {
			continue
		}
		if b.Size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = Block{Addr: b.Addr + size, Size: b.Size - size}
		}
		return b.Addr, true
	}
	return 0, false
}

// Free marks a block as garbage once the current transaction commits.
func (a *Allocator) Free(addr, size uint64) {
	if size == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forget(addr)
	a.pending = append(a.pending, Block{Addr: addr, Size: size})
	a.stats.BytesFreed += size
}

// Release returns a block that no committed structure references, making it
// reusable immediately.
func (a *Allocator) Release(addr, size uint64) {
	if size == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forget(addr)
	a.insertFree(Block{Addr: addr, Size: size})
	a.stats.BytesFreed += size
}

func (a *Allocator) forget(addr uint64) {
	delete(a.live, addr)
	delete(a.tags, addr)
}

// Commit makes pending frees reusable and trims free space at the end of
// the file. It returns the new end-of-file address.
func (a *Allocator) Commit() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.pending {
		a.insertFree(b)
	}
	a.pending = a.pending[:0]

	for n := len(a.free); n > 0 && a.free[n-1].End() == a.eof; n = len(a.free) {
		a.eof = a.free[n-1].Addr
		a.free = a.free[:n-1]
	}
	return a.eof
}

// insertFree adds b to the free list, merging with neighbours.
func (a *Allocator) insertFree(b Block) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Addr >= b.Addr })
	a.free = append(a.free, Block{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = b

	if i+1 < len(a.free) && a.free[i].End() == a.free[i+1].Addr {
		a.free[i].Size += a.free[i+1].Size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].End() == a.free[i].Addr {
		a.free[i-1].Size += a.free[i].Size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// EOFAddr returns the current end-of-file address.
func (a *Allocator) EOFAddr() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eof
}

// SetEOFAddr sets the end-of-file address of an existing file.
func (a *Allocator) SetEOFAddr(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eof = addr
}

// BaseAddr returns the first allocatable address.
func (a *Allocator) BaseAddr() uint64 { return a.base }

// Stats returns a copy of the allocation statistics.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// FreeBlocks returns the blocks reusable right now.
func (a *Allocator) FreeBlocks() []Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Block(nil), a.free...)
}

// PendingBlocks returns the blocks waiting for Commit.
func (a *Allocator) PendingBlocks() []Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Block(nil), a.pending...)
}

// Tag returns the diagnostic tag of a live allocation.
func (a *Allocator) Tag(addr uint64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tags[addr]
}

// Validate checks that live allocations lie inside [base, eof) and neither
// overlap each other nor any free block.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	blocks := make([]Block, 0, len(a.live)+len(a.free))
	for addr, size := range a.live {
		blocks = append(blocks, Block{Addr: addr, Size: size})
	}
	blocks = append(blocks, a.free...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Addr < blocks[j].Addr })

	for i, b := range blocks {
		if b.Addr < a.base {
			return fmt.Errorf("block at 0x%x is before base address 0x%x", b.Addr, a.base)
		}
		if b.End() > a.eof {
			return fmt.Errorf("block at 0x%x size %d extends past EOF 0x%x", b.Addr, b.Size, a.eof)
		}
		if i > 0 && blocks[i-1].End() > b.Addr {
			p := blocks[i-1]
			return fmt.Errorf("overlapping blocks: [0x%x, size %d] and [0x%x, size %d]",
				p.Addr, p.Size, b.Addr, b.Size)
		}
	}
	return nil
}

package layout

// Grid is the chunk grid of a dataset. Edge chunks may extend past the
// dataset shape.
type Grid struct {
	Shape  []int
	Chunk  []int
	counts []int
}

// NewGrid returns the grid covering shape with chunk-sized cells.
func NewGrid(shape, chunk []int) Grid {
	counts := make([]int, len(shape))
	for i := range shape {
		counts[i] = (shape[i] + chunk[i] - 1) / chunk[i]
	}
	return Grid{Shape: shape, Chunk: chunk, counts: counts}
}

func (g Grid) Rank() int { return len(g.Shape) }

// Counts returns the number of chunks along each axis.
func (g Grid) Counts() []int { return g.counts }

// NumChunks returns the total number of chunks.
func (g Grid) NumChunks() int {
	n := 1
	for _, c := range g.counts {
		n *= c
	}
	return n
}

// ChunkElems returns the number of elements in one full chunk.
func (g Grid) ChunkElems() int {
	n := 1
	for _, c := range g.Chunk {
		n *= c
	}
	return n
}

// Origin returns the element coordinates where chunk i starts.
func (g Grid) Origin(i int) []int {
	origin := make([]int, len(g.counts))
	for d := len(g.counts) - 1; d >= 0; d-- {
		origin[d] = i % g.counts[d] * g.Chunk[d]
		i /= g.counts[d]
	}
	return origin
}

// IndexOf returns the chunk number for a chunk origin in element
// coordinates, or false if origin is not on the grid.
func (g Grid) IndexOf(origin []uint64) (int, bool) {
	if len(origin) != len(g.counts) {
		return 0, false
	}
	i := 0
	for d, o := range origin {
		if int(o)%g.Chunk[d] != 0 {
			return 0, false
		}
		c := int(o) / g.Chunk[d]
		if c >= g.counts[d] {
			return 0, false
		}
		i = i*g.counts[d] + c
	}
	return i, true
}

// Overlapping returns the chunks intersecting the box at start with extent
// count, in row-major order.
func (g Grid) Overlapping(start, count []int) []int {
	rank := len(g.counts)
	for _, c := range count {
		if c == 0 {
			return nil
		}
	}
	lo := make([]int, rank)
	hi := make([]int, rank)
	for d := range rank {
		lo[d] = start[d] / g.Chunk[d]
		hi[d] = (start[d] + count[d] - 1) / g.Chunk[d]
	}

	var out []int
	cur := append([]int(nil), lo...)
	for {
		i := 0
		for d := range rank {
			i = i*g.counts[d] + cur[d]
		}
		out = append(out, i)

		d := rank - 1
		for ; d >= 0; d-- {
			if cur[d] < hi[d] {
				cur[d]++
				break
			}
			cur[d] = lo[d]
		}
		if d < 0 {
			return out
		}
	}
}

// Intersect clips the chunk at origin against the box (start, count). It
// returns the overlap's offset inside the chunk, inside the box, and its
// extent.
func (g Grid) Intersect(origin, start, count []int) (inChunk, inBox, extent []int) {
	rank := len(origin)
	inChunk = make([]int, rank)
	inBox = make([]int, rank)
	extent = make([]int, rank)
	for d := range rank {
		lo := max(origin[d], start[d])
		hi := min(origin[d]+g.Chunk[d], start[d]+count[d])
		inChunk[d] = lo - origin[d]
		inBox[d] = lo - start[d]
		extent[d] = hi - lo
	}
	return inChunk, inBox, extent
}

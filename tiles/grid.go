package tiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-malhotra/h5path/hdf5"
)

// Grid returns the top-left coordinates of tiles of tileShape laid over an
// array of shape bounds, stepping by stride along each tiled axis. A nil
// stride tiles without overlap. Tiles that would cross the array edge are
// dropped, or with pad shifted back to end on the edge so the whole array
// is covered. Coordinates come back in row-major order and have one entry
// per tileShape axis; trailing axes are not tiled.
func Grid(bounds, tileShape, stride []int, pad bool) ([][]int, error) {
	if len(tileShape) == 0 || len(tileShape) > len(bounds) {
		return nil, fmt.Errorf("%w: tile shape %v for array of shape %v", hdf5.ErrShapeMismatch, tileShape, bounds)
	}
	if stride == nil {
		stride = tileShape
	}
	if len(stride) != len(tileShape) {
		return nil, fmt.Errorf("%w: stride %v for tile shape %v", hdf5.ErrShapeMismatch, stride, tileShape)
	}

	axes := make([][]int, len(tileShape))
	for d, t := range tileShape {
		if t <= 0 || stride[d] <= 0 {
			return nil, fmt.Errorf("%w: tile shape %v with stride %v", hdf5.ErrShapeMismatch, tileShape, stride)
		}
		if t > bounds[d] {
			return nil, fmt.Errorf("%w: tile shape %v for array of shape %v", hdf5.ErrOutOfBounds, tileShape, bounds)
		}
		var starts []int
		for s := 0; s+t <= bounds[d]; s += stride[d] {
			starts = append(starts, s)
		}
		if last := starts[len(starts)-1]; pad && last+t < bounds[d] {
			starts = append(starts, bounds[d]-t)
		}
		axes[d] = starts
	}

	n := 1
	for _, a := range axes {
		n *= len(a)
	}
	out := make([][]int, 0, n)
	idx := make([]int, len(axes))
	for range n {
		c := make([]int, len(axes))
		for d, i := range idx {
			c[d] = axes[d][i]
		}
		out = append(out, c)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(axes[d]) {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// Key formats coords as a tuple string such as "(0, 256)", the key format
// older containers use for tiles.
func Key(coords []int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, c := range coords {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(c))
	}
	if len(coords) == 1 {
		b.WriteByte(',')
	}
	b.WriteByte(')')
	return b.String()
}

// ParseCoords parses a tuple string written by Key, or by older containers
// that stored coords as text.
func ParseCoords(s string) ([]int, error) {
	t := strings.TrimSpace(s)
	if len(t) < 2 || (t[0] != '(' && t[0] != '[') || (t[len(t)-1] != ')' && t[len(t)-1] != ']') {
		return nil, fmt.Errorf("%w: coords %q", hdf5.ErrCorrupt, s)
	}
	t = strings.TrimSpace(t[1 : len(t)-1])
	if t == "" {
		return []int{}, nil
	}
	parts := strings.Split(strings.TrimSuffix(t, ","), ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: coords %q", hdf5.ErrCorrupt, s)
		}
		out[i] = v
	}
	return out, nil
}

package array

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// End as a Range stop means the end of the axis.
const End = math.MaxInt

// Range selects [Start, Stop) along one axis. Negative values count from
// the end of the axis, as in Python slicing.
type Range struct {
	Start, Stop int
}

// All selects a whole axis.
func All() Range { return Range{0, End} }

// R selects [start, stop).
func R(start, stop int) Range { return Range{start, stop} }

// At selects the single index i, keeping the axis.
func At(i int) Range { return Range{i, i + 1} }

// Selection is a box with one Range per leading axis. Axes past the end
// of the selection are selected whole.
type Selection []Range

// Box returns the selection starting at start with extent count.
func Box(start, count []int) Selection {
	sel := make(Selection, len(start))
	for i := range start {
		sel[i] = Range{start[i], start[i] + count[i]}
	}
	return sel
}

// Resolve returns the start and extent of sel against shape.
func (sel Selection) Resolve(shape []int) (start, count []int, err error) {
	if len(sel) > len(shape) {
		return nil, nil, fmt.Errorf("%w: %d ranges for rank %d", ErrOutOfBounds, len(sel), len(shape))
	}
	start = make([]int, len(shape))
	count = make([]int, len(shape))
	for d, n := range shape {
		r := All()
		if d < len(sel) {
			r = sel[d]
		}
		lo, hi := r.Start, r.Stop
		if lo < 0 {
			lo += n
		}
		if hi == End {
			hi = n
		} else if hi < 0 {
			hi += n
		}
		if lo < 0 || hi > n || lo > hi {
			return nil, nil, fmt.Errorf("%w: range [%d:%d] on axis %d of size %d",
				ErrOutOfBounds, r.Start, r.Stop, d, n)
		}
		start[d], count[d] = lo, hi-lo
	}
	return start, count, nil
}

func (sel Selection) String() string {
	parts := make([]string, len(sel))
	for i, r := range sel {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (r Range) String() string {
	stop := ""
	if r.Stop != End {
		stop = strconv.Itoa(r.Stop)
	}
	start := ""
	if r.Start != 0 {
		start = strconv.Itoa(r.Start)
	}
	return start + ":" + stop
}

// ParseSelection parses numpy-style slice text such as "0:256, :, 1".
func ParseSelection(s string) (Selection, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	var sel Selection
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, ":")
		if !isRange {
			i, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad index %q: %w", part, err)
			}
			sel = append(sel, At(i))
			continue
		}
		r := All()
		var err error
		if lo = strings.TrimSpace(lo); lo != "" {
			if r.Start, err = strconv.Atoi(lo); err != nil {
				return nil, fmt.Errorf("bad range start %q: %w", lo, err)
			}
		}
		if hi = strings.TrimSpace(hi); hi != "" {
			if r.Stop, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("bad range stop %q: %w", hi, err)
			}
		}
		sel = append(sel, r)
	}
	return sel, nil
}

// Slice returns a copy of the region sel selects.
func (a *Array) Slice(sel Selection) (*Array, error) {
	start, count, err := sel.Resolve(a.shape)
	if err != nil {
		return nil, err
	}
	out := New(a.dtype, count...)
	copyBox(out.data, count, make([]int, len(count)), a.data, a.shape, start, count, a.dtype.Size())
	return out, nil
}

// SetSlice copies src into the region sel selects. src must have exactly
// the selected shape; it is converted to a's dtype.
func (a *Array) SetSlice(sel Selection, src *Array) error {
	start, count, err := sel.Resolve(a.shape)
	if err != nil {
		return err
	}
	if !SameShape(count, src.shape) {
		return fmt.Errorf("%w: selection %v has shape %v, source has %v", ErrShapeMismatch, sel, count, src.shape)
	}
	if src.dtype != a.dtype {
		src = src.AsType(a.dtype)
	}
	copyBox(a.data, a.shape, start, src.data, count, make([]int, len(count)), count, a.dtype.Size())
	return nil
}

// SameShape reports whether two shapes are equal.
func SameShape(a, b []int) bool { return slices.Equal(a, b) }

// copyBox copies a box of extent count between row-major buffers.
func copyBox(dst []byte, dstShape, dstOff []int, src []byte, srcShape, srcOff []int, count []int, elem int) {
	rank := len(count)
	if rank == 0 {
		copy(dst[:elem], src[:elem])
		return
	}
	if NumElements(count) == 0 {
		return
	}
	dstStride := make([]int, rank)
	srcStride := make([]int, rank)
	ds, ss := elem, elem
	for d := rank - 1; d >= 0; d-- {
		dstStride[d], srcStride[d] = ds, ss
		ds *= dstShape[d]
		ss *= srcShape[d]
	}
	row := count[rank-1] * elem
	idx := make([]int, rank)
	for {
		do, so := 0, 0
		for d := range rank {
			do += (dstOff[d] + idx[d]) * dstStride[d]
			so += (srcOff[d] + idx[d]) * srcStride[d]
		}
		copy(dst[do:do+row], src[so:so+row])

		d := rank - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < count[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

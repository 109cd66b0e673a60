package layout

// CopyRegion copies a box of extent count from src (row-major, srcShape)
// at srcOff into dst (row-major, dstShape) at dstOff. elem is the element
// size in bytes.
func CopyRegion(dst []byte, dstShape, dstOff []int, src []byte, srcShape, srcOff []int, count []int, elem int) {
	rank := len(count)
	if rank == 0 {
		copy(dst[:elem], src[:elem])
		return
	}
	for _, c := range count {
		if c == 0 {
			return
		}
	}

	dstStrides := strides(dstShape, elem)
	srcStrides := strides(srcShape, elem)
	row := count[rank-1] * elem

	idx := make([]int, rank-1)
	for {
		d, s := dstOff[rank-1]*elem, srcOff[rank-1]*elem
		for k, i := range idx {
			d += (dstOff[k] + i) * dstStrides[k]
			s += (srcOff[k] + i) * srcStrides[k]
		}
		copy(dst[d:d+row], src[s:s+row])

		k := rank - 2
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < count[k] {
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}

// strides returns the byte stride of each axis of a row-major array.
func strides(shape []int, elem int) []int {
	out := make([]int, len(shape))
	s := elem
	for d := len(shape) - 1; d >= 0; d-- {
		out[d] = s
		s *= shape[d]
	}
	return out
}

// Fill sets every element of buf to value.
func Fill(buf, value []byte) {
	if len(value) == 0 || len(buf) == 0 {
		return
	}
	n := copy(buf, value)
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

package layout

import "math"

const (
	chunkBase = 16 * 1024
	chunkMin  = 8 * 1024
	chunkMax  = 1024 * 1024
)

// GuessChunks picks a chunk shape for a dataset the way h5py does: start
// from the full shape and halve axes in turn until the chunk is near a
// target size that grows with the dataset.
func GuessChunks(shape []int, elemSize int) []int {
	rank := len(shape)
	if rank == 0 {
		return nil
	}
	chunks := make([]float64, rank)
	for i, s := range shape {
		if s == 0 {
			s = 1024
		}
		chunks[i] = float64(s)
	}
	prod := func() float64 {
		p := 1.0
		for _, c := range chunks {
			p *= c
		}
		return p
	}

	dsetSize := prod() * float64(elemSize)
	target := chunkBase * math.Pow(2, math.Log10(dsetSize/(1024*1024)))
	target = min(max(target, chunkMin), chunkMax)

	for idx := 0; ; idx++ {
		chunkBytes := prod() * float64(elemSize)
		if (chunkBytes < target || math.Abs(chunkBytes-target)/target < 0.5) && chunkBytes < chunkMax {
			break
		}
		if prod() == 1 {
			break
		}
		chunks[idx%rank] = math.Ceil(chunks[idx%rank] / 2)
	}

	out := make([]int, rank)
	for i, c := range chunks {
		out[i] = int(c)
	}
	return out
}

// ClampChunks limits chunk to shape on every axis and to at least one.
func ClampChunks(chunk, shape []int) []int {
	out := make([]int, len(chunk))
	for i := range chunk {
		out[i] = max(1, min(chunk[i], max(shape[i], 1)))
	}
	return out
}

package filter

import "github.com/robert-malhotra/h5path/internal/message"

// Shuffle groups byte k of every element together so numeric data
// compresses better.
type Shuffle struct {
	elemSize int
}

// NewShuffle takes the element size from client data, falling back to
// elemSize.
func NewShuffle(clientData []uint32, elemSize int) *Shuffle {
	if len(clientData) > 0 && clientData[0] > 0 {
		elemSize = int(clientData[0])
	}
	return &Shuffle{elemSize: max(elemSize, 1)}
}

func (f *Shuffle) ID() uint16 { return message.FilterShuffle }

func (f *Shuffle) Encode(input []byte) ([]byte, error) {
	n := len(input) / f.elemSize
	if f.elemSize == 1 || n <= 1 {
		return input, nil
	}
	out := make([]byte, len(input))
	for i := range n {
		for j := range f.elemSize {
			out[j*n+i] = input[i*f.elemSize+j]
		}
	}
	// trailing bytes that do not form an element are copied as-is
	copy(out[n*f.elemSize:], input[n*f.elemSize:])
	return out, nil
}

func (f *Shuffle) Decode(input []byte) ([]byte, error) {
	n := len(input) / f.elemSize
	if f.elemSize == 1 || n <= 1 {
		return input, nil
	}
	out := make([]byte, len(input))
	for i := range n {
		for j := range f.elemSize {
			out[i*f.elemSize+j] = input[j*n+i]
		}
	}
	copy(out[n*f.elemSize:], input[n*f.elemSize:])
	return out, nil
}

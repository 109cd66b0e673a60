package filter

import (
	"encoding/binary"
	"errors"
	"math/bits"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/message"
)

// ErrChecksum is returned when a chunk fails its fletcher32 check.
var ErrChecksum = errors.New("fletcher32 checksum mismatch")

// Fletcher32 appends a 4-byte checksum to each chunk.
type Fletcher32 struct{}

func (Fletcher32) ID() uint16 { return message.FilterFletcher32 }

func (Fletcher32) Encode(input []byte) ([]byte, error) {
	out := make([]byte, len(input)+4)
	copy(out, input)
	binary.LittleEndian.PutUint32(out[len(input):], h5bin.Fletcher32(input))
	return out, nil
}

func (Fletcher32) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, errors.New("fletcher32: input shorter than checksum")
	}
	data := input[:len(input)-4]
	stored := binary.LittleEndian.Uint32(input[len(data):])
	sum := h5bin.Fletcher32(data)
	// files from HDF5 releases before 1.6.3 stored the sum byte-swapped
	if stored != sum && stored != bits.ReverseBytes32(sum) {
		return nil, ErrChecksum
	}
	return data, nil
}

package filter

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/robert-malhotra/h5path/internal/message"
)

/*
HDF5 LZ4 plugin framing, all integers big-endian:

	original size (8), block size (4)
	per block: compressed size (4), data

A block whose compressed size equals its original size is stored raw.
*/

const defaultLZ4Block = 1 << 30

// LZ4 is the registered LZ4 filter.
type LZ4 struct {
	blockSize int
}

// NewLZ4 reads the block size from client data.
func NewLZ4(clientData []uint32) *LZ4 {
	bs := defaultLZ4Block
	if len(clientData) > 0 && clientData[0] > 0 {
		bs = int(clientData[0])
	}
	return &LZ4{blockSize: bs}
}

func (f *LZ4) ID() uint16 { return message.FilterLZ4 }

func (f *LZ4) Encode(input []byte) ([]byte, error) {
	bs := min(f.blockSize, max(len(input), 1))
	out := make([]byte, 12, 12+lz4.CompressBlockBound(len(input))+4*(len(input)/bs+1))
	binary.BigEndian.PutUint64(out, uint64(len(input)))
	binary.BigEndian.PutUint32(out[8:], uint32(bs))

	dst := make([]byte, lz4.CompressBlockBound(bs))
	for start := 0; start < len(input); start += bs {
		block := input[start:min(start+bs, len(input))]
		n, err := lz4.CompressBlock(block, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 || n >= len(block) {
			out = binary.BigEndian.AppendUint32(out, uint32(len(block)))
			out = append(out, block...)
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(n))
		out = append(out, dst[:n]...)
	}
	return out, nil
}

func (f *LZ4) Decode(input []byte) ([]byte, error) {
	if len(input) < 12 {
		return nil, errors.New("lz4: header truncated")
	}
	total := binary.BigEndian.Uint64(input)
	bs := int(binary.BigEndian.Uint32(input[8:]))
	if bs <= 0 && total > 0 {
		return nil, errors.New("lz4: zero block size")
	}
	out := make([]byte, total)
	pos := 12
	for start := 0; start < int(total); start += bs {
		want := min(bs, int(total)-start)
		if pos+4 > len(input) {
			return nil, errors.New("lz4: block header truncated")
		}
		n := int(binary.BigEndian.Uint32(input[pos:]))
		pos += 4
		if pos+n > len(input) {
			return nil, errors.New("lz4: block truncated")
		}
		src := input[pos : pos+n]
		pos += n
		if n == want {
			copy(out[start:], src)
			continue
		}
		got, err := lz4.UncompressBlock(src, out[start:start+want])
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if got != want {
			return nil, fmt.Errorf("lz4: block decoded to %d bytes, want %d", got, want)
		}
	}
	return out, nil
}

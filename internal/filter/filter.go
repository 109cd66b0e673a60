package filter

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/h5path/internal/message"
)

// ErrUnsupported is returned for a required filter with no implementation.
var ErrUnsupported = errors.New("unsupported filter")

// Filter transforms chunk bytes.
type Filter interface {
	ID() uint16
	Encode(input []byte) ([]byte, error)
	Decode(input []byte) ([]byte, error)
}

type constructor func(clientData []uint32, elemSize int) Filter

var registry = map[uint16]constructor{
	message.FilterDeflate:    func(cd []uint32, _ int) Filter { return NewDeflate(cd) },
	message.FilterShuffle:    func(cd []uint32, n int) Filter { return NewShuffle(cd, n) },
	message.FilterFletcher32: func([]uint32, int) Filter { return Fletcher32{} },
	message.FilterLZ4:        func(cd []uint32, _ int) Filter { return NewLZ4(cd) },
	message.FilterZstd:       func(cd []uint32, _ int) Filter { return NewZstd(cd) },
}

var names = map[uint16]string{
	message.FilterDeflate:    "deflate",
	message.FilterShuffle:    "shuffle",
	message.FilterFletcher32: "fletcher32",
	message.FilterSZIP:       "szip",
	message.FilterNBit:       "nbit",
	message.FilterScaleOff:   "scaleoffset",
	message.FilterLZ4:        "lz4",
	message.FilterZstd:       "zstd",
}

// Name returns a readable name for a filter id.
func Name(id uint16) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("filter-%d", id)
}

// Supported reports whether id has an implementation.
func Supported(id uint16) bool {
	_, ok := registry[id]
	return ok
}

// New returns the filter described by info. Optional filters without an
// implementation return nil and no error.
func New(info message.Filter, elemSize int) (Filter, error) {
	c, ok := registry[info.ID]
	if !ok {
		if info.Optional() {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s (id %d)", ErrUnsupported, Name(info.ID), info.ID)
	}
	return c(info.ClientData, elemSize), nil
}

// Pipeline descriptions for dataset creation.

// DeflateInfo describes a deflate stage at level 0-9.
func DeflateInfo(level int) message.Filter {
	return message.Filter{ID: message.FilterDeflate, ClientData: []uint32{uint32(level)}}
}

// ShuffleInfo describes a shuffle stage for elements of elemSize bytes.
func ShuffleInfo(elemSize int) message.Filter {
	return message.Filter{ID: message.FilterShuffle, ClientData: []uint32{uint32(elemSize)}}
}

// Fletcher32Info describes a checksum stage.
func Fletcher32Info() message.Filter {
	return message.Filter{ID: message.FilterFletcher32}
}

// LZ4Info describes an LZ4 stage.
func LZ4Info() message.Filter {
	return message.Filter{ID: message.FilterLZ4, Name: "lz4", Flags: message.FilterFlagOptional}
}

// ZstdInfo describes a Zstandard stage at level.
func ZstdInfo(level int) message.Filter {
	return message.Filter{
		ID:         message.FilterZstd,
		Name:       "zstd",
		Flags:      message.FilterFlagOptional,
		ClientData: []uint32{uint32(level)},
	}
}

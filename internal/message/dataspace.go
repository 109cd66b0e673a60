package message

import (
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
)

// DataspaceType distinguishes scalar, simple and null dataspaces.
type DataspaceType uint8

const (
	DataspaceScalar DataspaceType = 0
	DataspaceSimple DataspaceType = 1
	DataspaceNull   DataspaceType = 2
)

// Dataspace describes the shape of a dataset or attribute (type 0x0001).
type Dataspace struct {
	Version    uint8
	SpaceType  DataspaceType
	Dimensions []uint64
	MaxDims    []uint64 // nil when equal to Dimensions
}

func (m *Dataspace) Type() Type { return TypeDataspace }

// Rank returns the number of dimensions.
func (m *Dataspace) Rank() int { return len(m.Dimensions) }

// NumElements returns the number of elements the dataspace holds.
func (m *Dataspace) NumElements() uint64 {
	switch m.SpaceType {
	case DataspaceScalar:
		return 1
	case DataspaceSimple:
		n := uint64(1)
		for _, d := range m.Dimensions {
			n *= d
		}
		return n
	}
	return 0
}

// IsScalar reports whether the dataspace holds exactly one element.
func (m *Dataspace) IsScalar() bool { return m.SpaceType == DataspaceScalar }

// Shape returns the dimensions as ints.
func (m *Dataspace) Shape() []int {
	shape := make([]int, len(m.Dimensions))
	for i, d := range m.Dimensions {
		shape[i] = int(d)
	}
	return shape
}

// NewScalarDataspace returns a scalar dataspace.
func NewScalarDataspace() *Dataspace {
	return &Dataspace{Version: 2, SpaceType: DataspaceScalar}
}

// NewSimpleDataspace returns a fixed-size dataspace with the given shape.
func NewSimpleDataspace(shape []int) *Dataspace {
	dims := make([]uint64, len(shape))
	for i, d := range shape {
		dims[i] = uint64(d)
	}
	return &Dataspace{Version: 2, SpaceType: DataspaceSimple, Dimensions: dims}
}

/*
Version 1:  version, rank, flags, reserved(5), dims, [maxdims], [permutation]
Version 2:  version, rank, flags, type, dims, [maxdims]
*/

func parseDataspace(data []byte, r *binary.Reader) (*Dataspace, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("dataspace message too short")
	}
	ds := &Dataspace{Version: data[0]}
	rank := int(data[1])
	flags := data[2]

	pos := 4
	switch ds.Version {
	case 1:
		pos = 8
		ds.SpaceType = DataspaceSimple
		if rank == 0 {
			ds.SpaceType = DataspaceScalar
		}
	case 2:
		ds.SpaceType = DataspaceType(data[3])
	default:
		return nil, fmt.Errorf("unsupported dataspace version %d", ds.Version)
	}
	if ds.SpaceType != DataspaceSimple {
		return ds, nil
	}

	l := r.LengthSize()
	read := func() ([]uint64, error) {
		dims := make([]uint64, rank)
		for i := range dims {
			if pos+l > len(data) {
				return nil, fmt.Errorf("dataspace message truncated")
			}
			dims[i] = binary.DecodeUint(data[pos:], l, r.ByteOrder())
			pos += l
		}
		return dims, nil
	}

	var err error
	if ds.Dimensions, err = read(); err != nil {
		return nil, err
	}
	if flags&0x01 != 0 {
		if ds.MaxDims, err = read(); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Serialize writes a version 2 dataspace.
func (m *Dataspace) Serialize(w *binary.Writer) error {
	e := &encoder{w: w}
	var flags uint8
	if m.MaxDims != nil {
		flags = 0x01
	}
	e.u8(2)
	e.u8(uint8(len(m.Dimensions)))
	e.u8(flags)
	e.u8(uint8(m.SpaceType))
	for _, d := range m.Dimensions {
		e.length(d)
	}
	for _, d := range m.MaxDims {
		e.length(d)
	}
	return e.err
}

// SerializedSize returns the encoded size of the version 2 form.
func (m *Dataspace) SerializedSize(w *binary.Writer) int {
	return 4 + (len(m.Dimensions)+len(m.MaxDims))*w.LengthSize()
}

package dtype

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/message"
)

// ErrUnsupported is returned for datatypes with no array.DType or Go
// value mapping.
var ErrUnsupported = errors.New("unsupported datatype")

// FromArray returns the datatype written for dt.
func FromArray(dt array.DType) (*message.Datatype, error) {
	switch {
	case dt == array.Bool:
		return message.NewBool(), nil
	case dt.IsFloat():
		return message.NewFloat(uint32(dt.Size()), message.OrderLE), nil
	case dt.IsSigned(), dt.IsUnsigned():
		return message.NewFixedPoint(uint32(dt.Size()), dt.IsSigned(), message.OrderLE), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, dt)
}

// ToArray returns the array dtype holding values of m.
func ToArray(m *message.Datatype) (array.DType, error) {
	if m == nil {
		return array.Invalid, fmt.Errorf("%w: nil datatype", ErrUnsupported)
	}
	switch m.Class {
	case message.ClassFixedPoint, message.ClassBitfield:
		return intType(m.Size, m.Signed && m.Class == message.ClassFixedPoint)
	case message.ClassFloatPoint:
		switch m.Size {
		case 4:
			return array.Float32, nil
		case 8:
			return array.Float64, nil
		}
		return array.Invalid, fmt.Errorf("%w: %d-byte float", ErrUnsupported, m.Size)
	case message.ClassEnum:
		if m.IsBool() {
			return array.Bool, nil
		}
		if m.Base == nil {
			return array.Invalid, fmt.Errorf("%w: enum without base type", ErrUnsupported)
		}
		return ToArray(m.Base)
	}
	return array.Invalid, fmt.Errorf("%w: class %d", ErrUnsupported, m.Class)
}

func intType(size uint32, signed bool) (array.DType, error) {
	var dt array.DType
	switch size {
	case 1:
		dt = array.Uint8
	case 2:
		dt = array.Uint16
	case 4:
		dt = array.Uint32
	case 8:
		dt = array.Uint64
	default:
		return array.Invalid, fmt.Errorf("%w: %d-byte integer", ErrUnsupported, size)
	}
	if signed {
		// each signed type sits just before its unsigned twin
		dt--
	}
	return dt, nil
}

// IsNumeric reports whether m maps onto an array.DType.
func IsNumeric(m *message.Datatype) bool {
	_, err := ToArray(m)
	return err == nil
}

// numericOrder returns the byte order of a numeric or enum datatype.
func numericOrder(m *message.Datatype) message.ByteOrder {
	if m.Class == message.ClassEnum && m.Base != nil {
		return m.Base.ByteOrder
	}
	return m.ByteOrder
}

// ToNative returns data, holding elements of m, in little-endian order.
// Data that is already little-endian is returned as is.
func ToNative(m *message.Datatype, data []byte) []byte {
	size := int(m.Size)
	if size <= 1 || numericOrder(m) != message.OrderBE {
		return data
	}
	out := make([]byte, len(data))
	for i := 0; i+size <= len(data); i += size {
		for j := range size {
			out[i+j] = data[i+size-1-j]
		}
	}
	return out
}

// ToArrayValue wraps raw file data of datatype m and dataspace shape as an
// array.
func ToArrayValue(m *message.Datatype, shape []int, data []byte) (*array.Array, error) {
	dt, err := ToArray(m)
	if err != nil {
		return nil, err
	}
	return array.FromBytes(dt, shape, ToNative(m, data))
}

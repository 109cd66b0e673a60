package message

import (
	"encoding/binary"
	"fmt"
)

// DatatypeClass is the class of an HDF5 datatype.
type DatatypeClass uint8

const (
	ClassFixedPoint DatatypeClass = 0
	ClassFloatPoint DatatypeClass = 1
	ClassTime       DatatypeClass = 2
	ClassString     DatatypeClass = 3
	ClassBitfield   DatatypeClass = 4
	ClassOpaque     DatatypeClass = 5
	ClassCompound   DatatypeClass = 6
	ClassReference  DatatypeClass = 7
	ClassEnum       DatatypeClass = 8
	ClassVarLen     DatatypeClass = 9
	ClassArray      DatatypeClass = 10
)

// ByteOrder of numeric types.
type ByteOrder uint8

const (
	OrderLE ByteOrder = 0
	OrderBE ByteOrder = 1
)

// StringPadding describes how fixed-length strings are terminated.
type StringPadding uint8

const (
	PadNullTerm StringPadding = 0
	PadNullPad  StringPadding = 1
	PadSpacePad StringPadding = 2
)

// CharacterSet is the encoding of string data.
type CharacterSet uint8

const (
	CharsetASCII CharacterSet = 0
	CharsetUTF8  CharacterSet = 1
)

// Datatype is a datatype message (type 0x0003).
type Datatype struct {
	Version   uint8
	Class     DatatypeClass
	ClassBits uint32
	Size      uint32

	// Fixed-point, bitfield and float.
	ByteOrder    ByteOrder
	Signed       bool
	BitOffset    uint16
	BitPrecision uint16

	// String and variable-length string.
	StringPadding StringPadding
	CharSet       CharacterSet

	// Enum, variable-length and array element type.
	Base *Datatype

	EnumNames  []string
	EnumValues [][]byte

	ArrayDims []uint32

	// Properties holds the raw class properties for classes serialized
	// verbatim (float, opaque, compound, reference, time).
	Properties []byte
}

func (m *Datatype) Type() Type { return TypeDatatype }

func (m *Datatype) IsInteger() bool { return m.Class == ClassFixedPoint }
func (m *Datatype) IsFloat() bool   { return m.Class == ClassFloatPoint }

// IsString reports whether values are fixed or variable-length strings.
func (m *Datatype) IsString() bool {
	return m.Class == ClassString || m.IsVarLenString()
}

// IsVarLenString reports whether this is a variable-length string.
func (m *Datatype) IsVarLenString() bool {
	return m.Class == ClassVarLen && m.ClassBits&0x0F == 1
}

// IsBool reports whether this is the FALSE/TRUE enum h5py uses for bools.
func (m *Datatype) IsBool() bool {
	if m.Class != ClassEnum || len(m.EnumNames) != 2 || m.Base == nil || m.Base.Size != 1 {
		return false
	}
	return m.EnumNames[0] == "FALSE" && m.EnumNames[1] == "TRUE" &&
		m.EnumValues[0][0] == 0 && m.EnumValues[1][0] == 1
}

// Order returns the encoding/binary byte order for numeric classes.
func (m *Datatype) Order() binary.ByteOrder {
	if m.ByteOrder == OrderBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// NewFixedPoint returns an integer datatype.
func NewFixedPoint(size uint32, signed bool, order ByteOrder) *Datatype {
	bits := uint32(order)
	if signed {
		bits |= 0x08
	}
	return &Datatype{
		Version:      1,
		Class:        ClassFixedPoint,
		ClassBits:    bits,
		Size:         size,
		ByteOrder:    order,
		Signed:       signed,
		BitPrecision: uint16(size * 8),
	}
}

// NewFloat returns an IEEE 754 float datatype of 4 or 8 bytes.
func NewFloat(size uint32, order ByteOrder) *Datatype {
	// bit offset, precision, exponent location and size, mantissa location
	// and size, exponent bias
	props := []byte{0, 0, 32, 0, 23, 8, 0, 23, 127, 0, 0, 0}
	sign := uint32(31)
	if size == 8 {
		props = []byte{0, 0, 64, 0, 52, 11, 0, 52, 0xff, 0x03, 0, 0}
		sign = 63
	}
	return &Datatype{
		Version: 1,
		Class:   ClassFloatPoint,
		// byte order, implied-MSB mantissa normalization, sign bit position
		ClassBits:    uint32(order) | 2<<4 | sign<<8,
		Size:         size,
		ByteOrder:    order,
		BitPrecision: uint16(size * 8),
		Properties:   props,
	}
}

// NewString returns a fixed-length string datatype.
func NewString(size uint32, pad StringPadding, cset CharacterSet) *Datatype {
	if size == 0 {
		size = 1
	}
	return &Datatype{
		Version:       1,
		Class:         ClassString,
		ClassBits:     uint32(pad) | uint32(cset)<<4,
		Size:          size,
		StringPadding: pad,
		CharSet:       cset,
	}
}

// NewEnum returns an enumeration over base. values[i] must be base.Size bytes.
func NewEnum(base *Datatype, names []string, values [][]byte) *Datatype {
	return &Datatype{
		Version:    3,
		Class:      ClassEnum,
		ClassBits:  uint32(len(names)),
		Size:       base.Size,
		Base:       base,
		EnumNames:  names,
		EnumValues: values,
	}
}

// NewBool returns the enum h5py writes for numpy bool.
func NewBool() *Datatype {
	return NewEnum(NewFixedPoint(1, true, OrderLE), []string{"FALSE", "TRUE"}, [][]byte{{0}, {1}})
}

func parseDatatype(data []byte) (*Datatype, error) {
	dt, _, err := decodeDatatype(data)
	return dt, err
}

// decodeDatatype parses a datatype and returns the bytes consumed.
func decodeDatatype(data []byte) (*Datatype, int, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("datatype message too short")
	}
	dt := &Datatype{
		Version:   data[0] >> 4,
		Class:     DatatypeClass(data[0] & 0x0F),
		ClassBits: uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16,
		Size:      binary.LittleEndian.Uint32(data[4:8]),
	}
	props := data[8:]
	n := 0

	switch dt.Class {
	case ClassFixedPoint, ClassBitfield:
		if len(props) < 4 {
			return nil, 0, fmt.Errorf("fixed-point properties truncated")
		}
		dt.ByteOrder = ByteOrder(dt.ClassBits & 0x01)
		dt.Signed = dt.ClassBits&0x08 != 0
		dt.BitOffset = binary.LittleEndian.Uint16(props)
		dt.BitPrecision = binary.LittleEndian.Uint16(props[2:])
		n = 4

	case ClassFloatPoint:
		if len(props) < 12 {
			return nil, 0, fmt.Errorf("float properties truncated")
		}
		dt.ByteOrder = ByteOrder(dt.ClassBits & 0x01)
		if dt.ClassBits&0x40 != 0 {
			return nil, 0, fmt.Errorf("VAX float byte order is not supported")
		}
		dt.BitOffset = binary.LittleEndian.Uint16(props)
		dt.BitPrecision = binary.LittleEndian.Uint16(props[2:])
		n = 12
		dt.Properties = append([]byte(nil), props[:n]...)

	case ClassString:
		dt.StringPadding = StringPadding(dt.ClassBits & 0x0F)
		dt.CharSet = CharacterSet(dt.ClassBits >> 4 & 0x0F)

	case ClassOpaque:
		n = int(dt.ClassBits & 0xFF)
		if n > len(props) {
			return nil, 0, fmt.Errorf("opaque tag truncated")
		}
		dt.Properties = append([]byte(nil), props[:n]...)

	case ClassEnum:
		base, used, err := decodeDatatype(props)
		if err != nil {
			return nil, 0, fmt.Errorf("enum base type: %w", err)
		}
		dt.Base = base
		n = used
		count := int(dt.ClassBits & 0xFFFF)
		dt.EnumNames = make([]string, count)
		for i := range dt.EnumNames {
			name := cstring(props[n:])
			dt.EnumNames[i] = name
			if dt.Version >= 3 {
				n += len(name) + 1
			} else {
				n += pad8(len(name) + 1)
			}
			if n > len(props) {
				return nil, 0, fmt.Errorf("enum names truncated")
			}
		}
		dt.EnumValues = make([][]byte, count)
		for i := range dt.EnumValues {
			end := n + int(base.Size)
			if end > len(props) {
				return nil, 0, fmt.Errorf("enum values truncated")
			}
			dt.EnumValues[i] = append([]byte(nil), props[n:end]...)
			n = end
		}

	case ClassVarLen:
		dt.StringPadding = StringPadding(dt.ClassBits >> 4 & 0x0F)
		dt.CharSet = CharacterSet(dt.ClassBits >> 8 & 0x0F)
		base, used, err := decodeDatatype(props)
		if err != nil {
			return nil, 0, fmt.Errorf("variable-length base type: %w", err)
		}
		dt.Base = base
		n = used

	case ClassArray:
		if len(props) < 1 {
			return nil, 0, fmt.Errorf("array properties truncated")
		}
		rank := int(props[0])
		n = 1
		if dt.Version < 3 {
			n = 4
		}
		dt.ArrayDims = make([]uint32, rank)
		for i := range dt.ArrayDims {
			if n+4 > len(props) {
				return nil, 0, fmt.Errorf("array dimensions truncated")
			}
			dt.ArrayDims[i] = binary.LittleEndian.Uint32(props[n:])
			n += 4
		}
		if dt.Version < 3 {
			n += 4 * rank // permutation indices
		}
		base, used, err := decodeDatatype(props[n:])
		if err != nil {
			return nil, 0, fmt.Errorf("array base type: %w", err)
		}
		dt.Base = base
		n += used

	default:
		// compound, reference and time: keep the remainder verbatim
		n = len(props)
		dt.Properties = append([]byte(nil), props...)
	}
	return dt, 8 + n, nil
}

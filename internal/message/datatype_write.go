package message

import (
	"github.com/robert-malhotra/h5path/internal/binary"
)

// Serialize writes the datatype message.
func (m *Datatype) Serialize(w *binary.Writer) error {
	e := &encoder{w: w}
	m.encode(e)
	return e.err
}

func (m *Datatype) encode(e *encoder) {
	version := m.Version
	if version == 0 {
		version = 1
	}
	e.u8(uint8(m.Class) | version<<4)
	e.u8(uint8(m.ClassBits))
	e.u8(uint8(m.ClassBits >> 8))
	e.u8(uint8(m.ClassBits >> 16))
	e.u32(m.Size)

	switch m.Class {
	case ClassFixedPoint, ClassBitfield:
		e.u16(m.BitOffset)
		e.u16(m.BitPrecision)
	case ClassString:
	case ClassEnum:
		m.Base.encode(e)
		for _, name := range m.EnumNames {
			e.bytes([]byte(name))
			if version >= 3 {
				e.u8(0)
			} else {
				e.zeros(pad8(len(name)+1) - len(name))
			}
		}
		for _, v := range m.EnumValues {
			e.bytes(v)
		}
	case ClassVarLen:
		m.Base.encode(e)
	case ClassArray:
		e.u8(uint8(len(m.ArrayDims)))
		if version < 3 {
			e.zeros(3)
		}
		for _, d := range m.ArrayDims {
			e.u32(d)
		}
		if version < 3 {
			for i := range m.ArrayDims {
				e.u32(uint32(i))
			}
		}
		m.Base.encode(e)
	default:
		e.bytes(m.Properties)
	}
}

// SerializedSize returns the encoded size of the datatype.
func (m *Datatype) SerializedSize(w *binary.Writer) int {
	version := m.Version
	if version == 0 {
		version = 1
	}
	size := 8
	switch m.Class {
	case ClassFixedPoint, ClassBitfield:
		size += 4
	case ClassString:
	case ClassEnum:
		size += m.Base.SerializedSize(w)
		for _, name := range m.EnumNames {
			if version >= 3 {
				size += len(name) + 1
			} else {
				size += pad8(len(name) + 1)
			}
		}
		size += len(m.EnumValues) * int(m.Base.Size)
	case ClassVarLen:
		size += m.Base.SerializedSize(w)
	case ClassArray:
		size += 1 + 4*len(m.ArrayDims) + m.Base.SerializedSize(w)
		if version < 3 {
			size += 3 + 4*len(m.ArrayDims)
		}
	default:
		size += len(m.Properties)
	}
	return size
}

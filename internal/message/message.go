package message

import (
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
)

// Type is an HDF5 header message type.
type Type uint16

const (
	TypeNIL                      Type = 0x0000
	TypeDataspace                Type = 0x0001
	TypeLinkInfo                 Type = 0x0002
	TypeDatatype                 Type = 0x0003
	TypeFillValueOld             Type = 0x0004
	TypeFillValue                Type = 0x0005
	TypeLink                     Type = 0x0006
	TypeExternalDataFiles        Type = 0x0007
	TypeDataLayout               Type = 0x0008
	TypeBogus                    Type = 0x0009
	TypeGroupInfo                Type = 0x000A
	TypeFilterPipeline           Type = 0x000B
	TypeAttribute                Type = 0x000C
	TypeObjectComment            Type = 0x000D
	TypeObjectModTimeOld         Type = 0x000E
	TypeSharedMessageTable       Type = 0x000F
	TypeObjectHeaderContinuation Type = 0x0010
	TypeSymbolTable              Type = 0x0011
	TypeObjectModTime            Type = 0x0012
	TypeBTreeKValues             Type = 0x0013
	TypeDriverInfo               Type = 0x0014
	TypeAttributeInfo            Type = 0x0015
	TypeObjectRefCount           Type = 0x0016
)

// Message flag bits.
const (
	FlagConstant = 0x01
	FlagShared   = 0x02
)

// Message is implemented by all header messages.
type Message interface {
	Type() Type
}

// Serializable is implemented by messages that can be written back.
type Serializable interface {
	Message
	Serialize(w *binary.Writer) error
	SerializedSize(w *binary.Writer) int
}

// Parse decodes one message body. Shared messages and types without a
// model here come back as *Unknown.
func Parse(typ Type, data []byte, flags uint8, r *binary.Reader) (Message, error) {
	if flags&FlagShared != 0 || (typ == TypeAttribute && attributeShared(data)) {
		return NewUnknown(typ, flags, data), nil
	}
	switch typ {
	case TypeDataspace:
		return parseDataspace(data, r)
	case TypeLinkInfo:
		return parseLinkInfo(data, r)
	case TypeDatatype:
		return parseDatatype(data)
	case TypeFillValue:
		return parseFillValue(data)
	case TypeLink:
		return parseLink(data, r)
	case TypeDataLayout:
		return parseDataLayout(data, r)
	case TypeGroupInfo:
		return parseGroupInfo(data)
	case TypeFilterPipeline:
		return parseFilterPipeline(data)
	case TypeAttribute:
		return parseAttribute(data, r)
	case TypeObjectHeaderContinuation:
		return parseContinuation(data, r)
	case TypeSymbolTable:
		return parseSymbolTable(data, r)
	}
	return NewUnknown(typ, flags, data), nil
}

// Unknown carries a message this package does not interpret.
type Unknown struct {
	typ   Type
	flags uint8
	data  []byte
}

// NewUnknown wraps raw message bytes.
func NewUnknown(typ Type, flags uint8, data []byte) *Unknown {
	return &Unknown{typ: typ, flags: flags, data: append([]byte(nil), data...)}
}

func (m *Unknown) Type() Type                          { return m.typ }
func (m *Unknown) Flags() uint8                        { return m.flags }
func (m *Unknown) Data() []byte                        { return m.data }
func (m *Unknown) SerializedSize(w *binary.Writer) int { return len(m.data) }
func (m *Unknown) Serialize(w *binary.Writer) error    { return w.WriteBytes(m.data) }

// Continuation points at the next chunk of an object header.
type Continuation struct {
	Offset uint64
	Length uint64
}

func (m *Continuation) Type() Type { return TypeObjectHeaderContinuation }

func (m *Continuation) Serialize(w *binary.Writer) error {
	e := &encoder{w: w}
	e.offset(m.Offset)
	e.length(m.Length)
	return e.err
}

func (m *Continuation) SerializedSize(w *binary.Writer) int {
	return w.OffsetSize() + w.LengthSize()
}

func parseContinuation(data []byte, r *binary.Reader) (*Continuation, error) {
	o, l := r.OffsetSize(), r.LengthSize()
	if len(data) < o+l {
		return nil, fmt.Errorf("continuation message too short")
	}
	return &Continuation{
		Offset: binary.DecodeUint(data, o, r.ByteOrder()),
		Length: binary.DecodeUint(data[o:], l, r.ByteOrder()),
	}, nil
}

// SymbolTable points at the v1 B-tree and local heap of an old-style group.
type SymbolTable struct {
	BTreeAddress     uint64
	LocalHeapAddress uint64
}

func (m *SymbolTable) Type() Type { return TypeSymbolTable }

func parseSymbolTable(data []byte, r *binary.Reader) (*SymbolTable, error) {
	o := r.OffsetSize()
	if len(data) < 2*o {
		return nil, fmt.Errorf("symbol table message too short")
	}
	return &SymbolTable{
		BTreeAddress:     binary.DecodeUint(data, o, r.ByteOrder()),
		LocalHeapAddress: binary.DecodeUint(data[o:], o, r.ByteOrder()),
	}, nil
}

// encoder accumulates the first write error so serializers can emit fields
// without checking each one.
type encoder struct {
	w   *binary.Writer
	err error
}

func (e *encoder) u8(v uint8) {
	if e.err == nil {
		e.err = e.w.WriteUint8(v)
	}
}

func (e *encoder) u16(v uint16) {
	if e.err == nil {
		e.err = e.w.WriteUint16(v)
	}
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = e.w.WriteUint32(v)
	}
}

func (e *encoder) uintN(v uint64, n int) {
	if e.err == nil {
		e.err = e.w.WriteUintN(v, n)
	}
}

func (e *encoder) offset(v uint64) {
	if e.err == nil {
		e.err = e.w.WriteOffset(v)
	}
}

func (e *encoder) length(v uint64) {
	if e.err == nil {
		e.err = e.w.WriteLength(v)
	}
}

func (e *encoder) bytes(b []byte) {
	if e.err == nil {
		e.err = e.w.WriteBytes(b)
	}
}

func (e *encoder) zeros(n int) {
	if e.err == nil {
		e.err = e.w.WriteZeros(n)
	}
}

func (e *encoder) message(m Serializable) {
	if e.err == nil {
		e.err = m.Serialize(e.w)
	}
}

// cstring returns the bytes before the first NUL.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// pad8 rounds n up to a multiple of 8.
func pad8(n int) int { return (n + 7) &^ 7 }

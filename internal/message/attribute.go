package message

import (
	"encoding/binary"
	"fmt"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

// Attribute is an attribute message (type 0x000C).
type Attribute struct {
	Version   uint8
	Name      string
	CharSet   CharacterSet
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte
}

func (m *Attribute) Type() Type { return TypeAttribute }

// NewAttribute returns a version 3 attribute with UTF-8 name encoding.
func NewAttribute(name string, dt *Datatype, ds *Dataspace, data []byte) *Attribute {
	return &Attribute{Version: 3, Name: name, CharSet: CharsetUTF8, Datatype: dt, Dataspace: ds, Data: data}
}

// attributeShared reports whether an attribute refers to a committed
// datatype or shared dataspace.
func attributeShared(data []byte) bool {
	return len(data) > 1 && data[0] >= 2 && data[1]&0x03 != 0
}

func parseAttribute(data []byte, r *h5bin.Reader) (*Attribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("attribute message too short")
	}
	m := &Attribute{Version: data[0]}
	if m.Version < 1 || m.Version > 3 {
		return nil, fmt.Errorf("unsupported attribute version %d", m.Version)
	}
	nameSize := int(binary.LittleEndian.Uint16(data[2:]))
	dtSize := int(binary.LittleEndian.Uint16(data[4:]))
	dsSize := int(binary.LittleEndian.Uint16(data[6:]))
	pos := 8
	if m.Version == 3 {
		if len(data) < 9 {
			return nil, fmt.Errorf("attribute message too short")
		}
		m.CharSet = CharacterSet(data[8])
		pos = 9
	}

	field := func(n int) ([]byte, error) {
		if pos+n > len(data) {
			return nil, fmt.Errorf("attribute message truncated")
		}
		b := data[pos : pos+n]
		if m.Version == 1 {
			n = pad8(n)
		}
		pos += n
		return b, nil
	}

	name, err := field(nameSize)
	if err != nil {
		return nil, err
	}
	m.Name = cstring(name)

	dtBytes, err := field(dtSize)
	if err != nil {
		return nil, err
	}
	if m.Datatype, err = parseDatatype(dtBytes); err != nil {
		return nil, fmt.Errorf("attribute %q: %w", m.Name, err)
	}

	dsBytes, err := field(dsSize)
	if err != nil {
		return nil, err
	}
	if m.Dataspace, err = parseDataspace(dsBytes, r); err != nil {
		return nil, fmt.Errorf("attribute %q: %w", m.Name, err)
	}

	if pos > len(data) {
		pos = len(data)
	}
	m.Data = append([]byte(nil), data[pos:]...)
	if want := int(m.Dataspace.NumElements()) * int(m.Datatype.Size); len(m.Data) > want {
		m.Data = m.Data[:want]
	}
	return m, nil
}

// Serialize writes a version 3 attribute message.
func (m *Attribute) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	e.u8(3)
	e.u8(0)
	e.u16(uint16(len(m.Name) + 1))
	e.u16(uint16(m.Datatype.SerializedSize(w)))
	e.u16(uint16(m.Dataspace.SerializedSize(w)))
	e.u8(uint8(m.CharSet))
	e.bytes([]byte(m.Name))
	e.u8(0)
	e.message(m.Datatype)
	e.message(m.Dataspace)
	e.bytes(m.Data)
	return e.err
}

func (m *Attribute) SerializedSize(w *h5bin.Writer) int {
	return 9 + len(m.Name) + 1 + m.Datatype.SerializedSize(w) + m.Dataspace.SerializedSize(w) + len(m.Data)
}

package message

import (
	"encoding/binary"
	"fmt"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

// LinkType distinguishes hard, soft and external links.
type LinkType uint8

const (
	LinkHard     LinkType = 0
	LinkSoft     LinkType = 1
	LinkExternal LinkType = 64
)

// Link is a link message (type 0x0006) naming one group member.
type Link struct {
	Name             string
	LinkType         LinkType
	Address          uint64 // hard links
	SoftPath         string
	ExternalData     []byte
	CharSet          CharacterSet
	CreationOrder    int64
	HasCreationOrder bool
}

func (m *Link) Type() Type { return TypeLink }

// NewHardLink returns a link naming the object header at addr.
func NewHardLink(name string, addr uint64) *Link {
	return &Link{Name: name, LinkType: LinkHard, Address: addr, CharSet: CharsetUTF8}
}

func parseLink(data []byte, r *h5bin.Reader) (*Link, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("link message too short")
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("unsupported link message version %d", data[0])
	}
	flags := data[1]
	pos := 2
	need := func(n int) error {
		if pos+n > len(data) {
			return fmt.Errorf("link message truncated")
		}
		return nil
	}

	m := &Link{}
	if flags&0x08 != 0 {
		if err := need(1); err != nil {
			return nil, err
		}
		m.LinkType = LinkType(data[pos])
		pos++
	}
	if flags&0x04 != 0 {
		if err := need(8); err != nil {
			return nil, err
		}
		m.CreationOrder = int64(binary.LittleEndian.Uint64(data[pos:]))
		m.HasCreationOrder = true
		pos += 8
	}
	if flags&0x10 != 0 {
		if err := need(1); err != nil {
			return nil, err
		}
		m.CharSet = CharacterSet(data[pos])
		pos++
	}

	width := 1 << (flags & 0x03)
	if err := need(width); err != nil {
		return nil, err
	}
	nameLen := int(h5bin.DecodeUint(data[pos:], width, binary.LittleEndian))
	pos += width
	if err := need(nameLen); err != nil {
		return nil, err
	}
	m.Name = string(data[pos : pos+nameLen])
	pos += nameLen

	switch m.LinkType {
	case LinkHard:
		if err := need(r.OffsetSize()); err != nil {
			return nil, err
		}
		m.Address = h5bin.DecodeUint(data[pos:], r.OffsetSize(), binary.LittleEndian)
	case LinkSoft:
		if err := need(2); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(n); err != nil {
			return nil, err
		}
		m.SoftPath = string(data[pos : pos+n])
	default:
		if err := need(2); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(n); err != nil {
			return nil, err
		}
		m.ExternalData = append([]byte(nil), data[pos:pos+n]...)
	}
	return m, nil
}

func (m *Link) nameWidth() (uint8, int) {
	switch n := len(m.Name); {
	case n < 1<<8:
		return 0, 1
	case n < 1<<16:
		return 1, 2
	default:
		return 2, 4
	}
}

// Serialize writes a version 1 link message.
func (m *Link) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	code, width := m.nameWidth()
	flags := code
	if m.LinkType != LinkHard {
		flags |= 0x08
	}
	if m.HasCreationOrder {
		flags |= 0x04
	}
	if m.CharSet != CharsetASCII {
		flags |= 0x10
	}
	e.u8(1)
	e.u8(flags)
	if m.LinkType != LinkHard {
		e.u8(uint8(m.LinkType))
	}
	if m.HasCreationOrder {
		e.uintN(uint64(m.CreationOrder), 8)
	}
	if m.CharSet != CharsetASCII {
		e.u8(uint8(m.CharSet))
	}
	e.uintN(uint64(len(m.Name)), width)
	e.bytes([]byte(m.Name))
	switch m.LinkType {
	case LinkHard:
		e.offset(m.Address)
	case LinkSoft:
		e.u16(uint16(len(m.SoftPath)))
		e.bytes([]byte(m.SoftPath))
	default:
		e.u16(uint16(len(m.ExternalData)))
		e.bytes(m.ExternalData)
	}
	return e.err
}

func (m *Link) SerializedSize(w *h5bin.Writer) int {
	_, width := m.nameWidth()
	size := 2 + width + len(m.Name)
	if m.LinkType != LinkHard {
		size++
	}
	if m.HasCreationOrder {
		size += 8
	}
	if m.CharSet != CharsetASCII {
		size++
	}
	switch m.LinkType {
	case LinkHard:
		size += w.OffsetSize()
	case LinkSoft:
		size += 2 + len(m.SoftPath)
	default:
		size += 2 + len(m.ExternalData)
	}
	return size
}

package message

import (
	"encoding/binary"
	"fmt"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

// LinkInfo is a link info message (type 0x0002). Groups whose links all
// live in the object header leave both addresses undefined.
type LinkInfo struct {
	Flags                uint8
	MaxCreationIndex     uint64
	FractalHeapAddress   uint64
	NameIndexAddress     uint64
	CreationIndexAddress uint64
}

func (m *LinkInfo) Type() Type { return TypeLinkInfo }

// HasDenseStorage reports whether links are stored in a fractal heap.
func (m *LinkInfo) HasDenseStorage() bool {
	return m.FractalHeapAddress != ^uint64(0)
}

// NewCompactLinkInfo returns link info for a group with header-resident links.
func NewCompactLinkInfo() *LinkInfo {
	return &LinkInfo{
		FractalHeapAddress:   ^uint64(0),
		NameIndexAddress:     ^uint64(0),
		CreationIndexAddress: ^uint64(0),
	}
}

func parseLinkInfo(data []byte, r *h5bin.Reader) (*LinkInfo, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("link info message too short")
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("unsupported link info version %d", data[0])
	}
	m := &LinkInfo{Flags: data[1], CreationIndexAddress: ^uint64(0)}
	pos := 2
	o := r.OffsetSize()
	need := 2 * o
	if m.Flags&0x01 != 0 {
		need += 8
	}
	if m.Flags&0x02 != 0 {
		need += o
	}
	if pos+need > len(data) {
		return nil, fmt.Errorf("link info message truncated")
	}
	if m.Flags&0x01 != 0 {
		m.MaxCreationIndex = binary.LittleEndian.Uint64(data[pos:])
		pos += 8
	}
	m.FractalHeapAddress = h5bin.DecodeUint(data[pos:], o, binary.LittleEndian)
	pos += o
	m.NameIndexAddress = h5bin.DecodeUint(data[pos:], o, binary.LittleEndian)
	pos += o
	if m.Flags&0x02 != 0 {
		m.CreationIndexAddress = h5bin.DecodeUint(data[pos:], o, binary.LittleEndian)
	}
	if o < 8 {
		undef := h5bin.Undefined(o)
		for _, p := range []*uint64{&m.FractalHeapAddress, &m.NameIndexAddress, &m.CreationIndexAddress} {
			if *p == undef {
				*p = ^uint64(0)
			}
		}
	}
	return m, nil
}

func (m *LinkInfo) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	e.u8(0)
	e.u8(m.Flags)
	if m.Flags&0x01 != 0 {
		e.uintN(m.MaxCreationIndex, 8)
	}
	e.offset(m.FractalHeapAddress)
	e.offset(m.NameIndexAddress)
	if m.Flags&0x02 != 0 {
		e.offset(m.CreationIndexAddress)
	}
	return e.err
}

func (m *LinkInfo) SerializedSize(w *h5bin.Writer) int {
	size := 2 + 2*w.OffsetSize()
	if m.Flags&0x01 != 0 {
		size += 8
	}
	if m.Flags&0x02 != 0 {
		size += w.OffsetSize()
	}
	return size
}

// GroupInfo is a group info message (type 0x000A).
type GroupInfo struct {
	Flags             uint8
	MaxCompactLinks   uint16
	MinDenseLinks     uint16
	EstNumEntries     uint16
	EstLinkNameLength uint16
}

func (m *GroupInfo) Type() Type { return TypeGroupInfo }

func parseGroupInfo(data []byte) (*GroupInfo, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("group info message too short")
	}
	m := &GroupInfo{Flags: data[1]}
	pos := 2
	if m.Flags&0x01 != 0 {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("group info message truncated")
		}
		m.MaxCompactLinks = binary.LittleEndian.Uint16(data[pos:])
		m.MinDenseLinks = binary.LittleEndian.Uint16(data[pos+2:])
		pos += 4
	}
	if m.Flags&0x02 != 0 {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("group info message truncated")
		}
		m.EstNumEntries = binary.LittleEndian.Uint16(data[pos:])
		m.EstLinkNameLength = binary.LittleEndian.Uint16(data[pos+2:])
	}
	return m, nil
}

func (m *GroupInfo) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	e.u8(0)
	e.u8(m.Flags)
	if m.Flags&0x01 != 0 {
		e.u16(m.MaxCompactLinks)
		e.u16(m.MinDenseLinks)
	}
	if m.Flags&0x02 != 0 {
		e.u16(m.EstNumEntries)
		e.u16(m.EstLinkNameLength)
	}
	return e.err
}

func (m *GroupInfo) SerializedSize(w *h5bin.Writer) int {
	size := 2
	if m.Flags&0x01 != 0 {
		size += 4
	}
	if m.Flags&0x02 != 0 {
		size += 4
	}
	return size
}

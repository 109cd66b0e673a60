package message

import (
	"encoding/binary"
	"fmt"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

// Registered filter identifiers.
const (
	FilterDeflate    uint16 = 1
	FilterShuffle    uint16 = 2
	FilterFletcher32 uint16 = 3
	FilterSZIP       uint16 = 4
	FilterNBit       uint16 = 5
	FilterScaleOff   uint16 = 6
	FilterLZ4        uint16 = 32004
	FilterZstd       uint16 = 32015
)

// FilterFlagOptional marks a filter that may be skipped when it fails.
const FilterFlagOptional = 0x0001

// Filter is one stage of a filter pipeline.
type Filter struct {
	ID         uint16
	Name       string
	Flags      uint16
	ClientData []uint32
}

// Optional reports whether the filter may be skipped.
func (f Filter) Optional() bool { return f.Flags&FilterFlagOptional != 0 }

// FilterPipeline is a filter pipeline message (type 0x000B).
type FilterPipeline struct {
	Version uint8
	Filters []Filter
}

func (m *FilterPipeline) Type() Type { return TypeFilterPipeline }

// Has reports whether the pipeline contains the filter id.
func (m *FilterPipeline) Has(id uint16) bool {
	for _, f := range m.Filters {
		if f.ID == id {
			return true
		}
	}
	return false
}

func parseFilterPipeline(data []byte) (*FilterPipeline, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("filter pipeline message too short")
	}
	m := &FilterPipeline{Version: data[0]}
	n := int(data[1])
	pos := 2
	switch m.Version {
	case 1:
		pos = 8
	case 2:
	default:
		return nil, fmt.Errorf("unsupported filter pipeline version %d", m.Version)
	}

	short := fmt.Errorf("filter pipeline message truncated")
	u16 := func() (uint16, bool) {
		if pos+2 > len(data) {
			return 0, false
		}
		v := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		return v, true
	}

	for range n {
		var f Filter
		var ok bool
		if f.ID, ok = u16(); !ok {
			return nil, short
		}
		nameLen := uint16(0)
		if m.Version == 1 || f.ID >= 256 {
			if nameLen, ok = u16(); !ok {
				return nil, short
			}
		}
		if f.Flags, ok = u16(); !ok {
			return nil, short
		}
		nvalues, ok := u16()
		if !ok {
			return nil, short
		}
		if nameLen > 0 {
			end := pos + int(nameLen)
			if end > len(data) {
				return nil, short
			}
			f.Name = cstring(data[pos:end])
			if m.Version == 1 {
				end = pos + pad8(int(nameLen))
			}
			pos = end
		}
		if pos+4*int(nvalues) > len(data) {
			return nil, short
		}
		f.ClientData = make([]uint32, nvalues)
		for i := range f.ClientData {
			f.ClientData[i] = binary.LittleEndian.Uint32(data[pos:])
			pos += 4
		}
		if m.Version == 1 && nvalues%2 == 1 {
			pos += 4
		}
		m.Filters = append(m.Filters, f)
	}
	return m, nil
}

// Serialize writes a version 2 pipeline. Names are kept only for
// unregistered filters.
func (m *FilterPipeline) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	e.u8(2)
	e.u8(uint8(len(m.Filters)))
	for _, f := range m.Filters {
		e.u16(f.ID)
		if f.ID >= 256 {
			e.u16(uint16(len(f.Name) + 1))
		}
		e.u16(f.Flags)
		e.u16(uint16(len(f.ClientData)))
		if f.ID >= 256 {
			e.bytes([]byte(f.Name))
			e.u8(0)
		}
		for _, v := range f.ClientData {
			e.u32(v)
		}
	}
	return e.err
}

func (m *FilterPipeline) SerializedSize(w *h5bin.Writer) int {
	size := 2
	for _, f := range m.Filters {
		size += 6 + 4*len(f.ClientData)
		if f.ID >= 256 {
			size += 2 + len(f.Name) + 1
		}
	}
	return size
}

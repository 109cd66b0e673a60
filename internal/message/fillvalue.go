package message

import (
	"encoding/binary"
	"fmt"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

// Space allocation times.
const (
	AllocDefault     = 0
	AllocEarly       = 1
	AllocLate        = 2
	AllocIncremental = 3
)

// Fill value write times.
const (
	FillWriteOnAlloc = 0
	FillWriteNever   = 1
	FillWriteIfSet   = 2
)

// FillValue is a fill value message (type 0x0005).
type FillValue struct {
	Version   uint8
	AllocTime uint8
	WriteTime uint8
	Defined   bool
	Value     []byte
}

func (m *FillValue) Type() Type { return TypeFillValue }

// NewFillValue returns the message used for chunked datasets. A nil value
// leaves the fill value undefined so readers use zeros.
func NewFillValue(value []byte) *FillValue {
	return &FillValue{
		Version:   3,
		AllocTime: AllocIncremental,
		WriteTime: FillWriteIfSet,
		Defined:   value != nil,
		Value:     value,
	}
}

func parseFillValue(data []byte) (*FillValue, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("fill value message too short")
	}
	fv := &FillValue{Version: data[0]}
	pos := 0
	switch fv.Version {
	case 1, 2:
		if len(data) < 4 {
			return nil, fmt.Errorf("fill value message too short")
		}
		fv.AllocTime = data[1]
		fv.WriteTime = data[2]
		fv.Defined = data[3] != 0
		pos = 4
		if fv.Version == 2 && !fv.Defined {
			return fv, nil
		}
	case 3:
		flags := data[1]
		fv.AllocTime = flags & 0x03
		fv.WriteTime = flags >> 2 & 0x03
		fv.Defined = flags&0x20 != 0
		pos = 2
		if !fv.Defined {
			return fv, nil
		}
	default:
		return nil, fmt.Errorf("unsupported fill value version %d", fv.Version)
	}

	if pos+4 > len(data) {
		// version 1 may omit the size entirely
		return fv, nil
	}
	size := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if pos+size > len(data) {
		return nil, fmt.Errorf("fill value truncated")
	}
	if size > 0 {
		fv.Value = append([]byte(nil), data[pos:pos+size]...)
	} else {
		fv.Defined = false
	}
	return fv, nil
}

// Serialize writes a version 3 fill value message.
func (m *FillValue) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	flags := m.AllocTime&0x03 | (m.WriteTime&0x03)<<2
	if m.Defined {
		flags |= 0x20
	}
	e.u8(3)
	e.u8(flags)
	if m.Defined {
		e.u32(uint32(len(m.Value)))
		e.bytes(m.Value)
	}
	return e.err
}

func (m *FillValue) SerializedSize(w *h5bin.Writer) int {
	if m.Defined {
		return 6 + len(m.Value)
	}
	return 2
}

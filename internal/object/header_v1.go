package object

import (
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/message"
)

/*
Version 1 object header:

	version (1), reserved, message count (2), reference count (4),
	header size (4), reserved (4), messages

Each message: type (2), size (2), flags (1), reserved (3), data padded to
8 bytes. Continuation blocks hold bare messages.
*/

func readV1(r *binary.Reader, address uint64) (*Header, error) {
	prefix, err := r.ReadBytes(16)
	if err != nil {
		return nil, fmt.Errorf("reading object header at 0x%x: %w", address, err)
	}
	nmsgs := int(prefix[2]) | int(prefix[3])<<8
	h := &Header{
		Version:  1,
		Address:  address,
		RefCount: uint32(prefix[4]) | uint32(prefix[5])<<8 | uint32(prefix[6])<<16 | uint32(prefix[7])<<24,
		Messages: make([]message.Message, 0, nmsgs),
	}
	size := uint64(prefix[8]) | uint64(prefix[9])<<8 | uint64(prefix[10])<<16 | uint64(prefix[11])<<24
	h.Spans = append(h.Spans, Span{Addr: address, Size: 16 + size})

	pending := []*message.Continuation{{Offset: address + 16, Length: size}}
	for len(pending) > 0 {
		c := pending[0]
		pending = pending[1:]
		block, err := r.At(int64(c.Offset)).ReadBytes(int(c.Length))
		if err != nil {
			return nil, fmt.Errorf("reading object header block at 0x%x: %w", c.Offset, err)
		}
		if c.Offset != address+16 {
			h.Spans = append(h.Spans, Span{Addr: c.Offset, Size: c.Length})
		}
		more, err := h.parseV1Messages(r, block)
		if err != nil {
			return nil, err
		}
		pending = append(pending, more...)
	}
	return h, nil
}

func (h *Header) parseV1Messages(r *binary.Reader, data []byte) ([]*message.Continuation, error) {
	var conts []*message.Continuation
	for pos := 0; pos+8 <= len(data); {
		typ := message.Type(uint16(data[pos]) | uint16(data[pos+1])<<8)
		size := int(data[pos+2]) | int(data[pos+3])<<8
		flags := data[pos+4]
		pos += 8
		if pos+size > len(data) {
			return nil, fmt.Errorf("%w: message 0x%x overruns block", ErrInvalidHeader, uint16(typ))
		}
		body := data[pos : pos+size]
		pos += (size + 7) &^ 7
		if typ == message.TypeNIL {
			continue
		}
		m, err := message.Parse(typ, body, flags, r)
		if err != nil {
			return nil, fmt.Errorf("object header at 0x%x: %w", h.Address, err)
		}
		if c, ok := m.(*message.Continuation); ok {
			conts = append(conts, c)
			continue
		}
		h.Messages = append(h.Messages, m)
	}
	return conts, nil
}

package object

import (
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/message"
)

// Encode builds a single-chunk version 2 header holding msgs. Messages that
// are not Serializable are rejected so nothing read from the file is lost
// silently.
func Encode(cfg binary.Config, msgs []message.Message) ([]byte, error) {
	body, err := encodeMessages(cfg, msgs)
	if err != nil {
		return nil, err
	}
	width, code := sizeField(len(body))

	w, buf := binary.NewBufferWriter(cfg, 6+width+len(body)+4)
	e := &errWriter{w: w}
	e.do(w.WriteBytes(signatureV2))
	e.do(w.WriteUint8(2))
	e.do(w.WriteUint8(code))
	e.do(w.WriteUintN(uint64(len(body)), width))
	e.do(w.WriteBytes(body))
	if e.err != nil {
		return nil, e.err
	}
	if err := w.WriteUint32(binary.Lookup3Checksum(buf.Bytes())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Size returns the length Encode would produce.
func Size(cfg binary.Config, msgs []message.Message) (int, error) {
	w, _ := binary.NewBufferWriter(cfg, 0)
	n := 0
	for _, m := range msgs {
		s, ok := m.(message.Serializable)
		if !ok {
			return 0, fmt.Errorf("message type 0x%x cannot be serialized", uint16(m.Type()))
		}
		n += 4 + s.SerializedSize(w)
	}
	width, _ := sizeField(n)
	return 6 + width + n + 4, nil
}

// encodeMessages serializes msgs with 4-byte message headers.
func encodeMessages(cfg binary.Config, msgs []message.Message) ([]byte, error) {
	w, buf := binary.NewBufferWriter(cfg, 256)
	for _, m := range msgs {
		s, ok := m.(message.Serializable)
		if !ok {
			return nil, fmt.Errorf("message type 0x%x cannot be serialized", uint16(m.Type()))
		}
		size := s.SerializedSize(w)
		if size > 0xFFFF {
			return nil, fmt.Errorf("%w: type 0x%x is %d bytes", ErrMessageTooLarge, uint16(m.Type()), size)
		}
		var flags uint8
		if u, ok := m.(*message.Unknown); ok {
			flags = u.Flags()
		}
		start := w.Pos()
		e := &errWriter{w: w}
		e.do(w.WriteUint8(uint8(m.Type())))
		e.do(w.WriteUint16(uint16(size)))
		e.do(w.WriteUint8(flags))
		e.do(s.Serialize(w))
		if e.err != nil {
			return nil, e.err
		}
		if got := int(w.Pos()-start) - 4; got != size {
			return nil, fmt.Errorf("message type 0x%x wrote %d bytes, declared %d", uint16(m.Type()), got, size)
		}
	}
	return buf.Bytes(), nil
}

// sizeField returns the width of the chunk #0 size field and its flags
// encoding (log2 of the width).
func sizeField(n int) (int, uint8) {
	switch {
	case n <= 0xFF:
		return 1, 0
	case n <= 0xFFFF:
		return 2, 1
	case n <= 0xFFFFFFFF:
		return 4, 2
	}
	return 8, 3
}

type errWriter struct {
	w   *binary.Writer
	err error
}

func (e *errWriter) do(err error) {
	if e.err == nil {
		e.err = err
	}
}

// GroupMessages returns the messages of a new-style group holding links.
func GroupMessages(links []*message.Link) []message.Message {
	msgs := make([]message.Message, 0, len(links)+2)
	msgs = append(msgs, message.NewCompactLinkInfo(), &message.GroupInfo{})
	for _, l := range links {
		msgs = append(msgs, l)
	}
	return msgs
}

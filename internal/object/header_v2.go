package object

import (
	"bytes"
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/message"
)

/*
Version 2 object header:

	"OHDR", version (2), flags
	[access, modification, change, birth times]  flags bit 5
	[max compact, min dense attributes]           flags bit 4
	chunk #0 size (1 << (flags & 3) bytes)
	messages, gap
	checksum

Each message: type (1), size (2), flags (1), [creation order (2)], data.
Continuation chunks are "OCHK", messages, checksum.
*/

const (
	flagCreationOrder = 0x04
	flagPhaseChange   = 0x10
	flagTimes         = 0x20

	// maxChunkSize bounds one header chunk; the format stores message
	// sizes in 16 bits, so real chunks stay far below it.
	maxChunkSize = 1 << 32
)

func readV2(r *binary.Reader, address uint64) (*Header, error) {
	prefix, err := r.ReadBytes(6)
	if err != nil {
		return nil, err
	}
	if prefix[4] != 2 {
		return nil, fmt.Errorf("%w: OHDR version %d", ErrUnsupportedVersion, prefix[4])
	}
	h := &Header{Version: 2, Address: address, Flags: prefix[5], RefCount: 1}

	if h.Flags&flagTimes != 0 {
		for _, p := range []*uint32{&h.AccessTime, &h.ModTime, &h.ChangeTime, &h.BirthTime} {
			if *p, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		}
	}
	if h.Flags&flagPhaseChange != 0 {
		r.Skip(4)
	}
	chunk0, err := r.ReadUintN(1 << (h.Flags & 0x03))
	if err != nil {
		return nil, err
	}
	if chunk0 > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk #0 of %d bytes at 0x%x", ErrInvalidHeader, chunk0, address)
	}

	// The checksum covers everything from the signature to the end of the
	// chunk's messages.
	prefixLen := r.Pos() - int64(address)
	block, err := r.At(int64(address)).ReadBytes(int(prefixLen) + int(chunk0) + 4)
	if err != nil {
		return nil, fmt.Errorf("reading object header at 0x%x: %w", address, err)
	}
	if err := verify(block); err != nil {
		return nil, fmt.Errorf("object header at 0x%x: %w", address, err)
	}
	h.Spans = append(h.Spans, Span{Addr: address, Size: uint64(len(block))})

	pending, err := h.parseV2Messages(r, block[prefixLen:len(block)-4])
	if err != nil {
		return nil, err
	}
	for len(pending) > 0 {
		c := pending[0]
		pending = pending[1:]
		more, err := h.readV2Continuation(r, c)
		if err != nil {
			return nil, err
		}
		pending = append(pending, more...)
	}
	return h, nil
}

func (h *Header) readV2Continuation(r *binary.Reader, c *message.Continuation) ([]*message.Continuation, error) {
	if c.Length > maxChunkSize {
		return nil, fmt.Errorf("%w: continuation of %d bytes at 0x%x", ErrInvalidHeader, c.Length, c.Offset)
	}
	block, err := r.At(int64(c.Offset)).ReadBytes(int(c.Length))
	if err != nil {
		return nil, fmt.Errorf("reading continuation at 0x%x: %w", c.Offset, err)
	}
	if len(block) < 8 || !bytes.Equal(block[:4], signatureCont) {
		return nil, fmt.Errorf("%w: bad continuation signature at 0x%x", ErrInvalidHeader, c.Offset)
	}
	if err := verify(block); err != nil {
		return nil, fmt.Errorf("continuation at 0x%x: %w", c.Offset, err)
	}
	h.Spans = append(h.Spans, Span{Addr: c.Offset, Size: c.Length})
	return h.parseV2Messages(r, block[4:len(block)-4])
}

// parseV2Messages appends the messages in one chunk and returns the
// continuation messages it found.
func (h *Header) parseV2Messages(r *binary.Reader, data []byte) ([]*message.Continuation, error) {
	var conts []*message.Continuation
	hdrLen := 4
	if h.Flags&flagCreationOrder != 0 {
		hdrLen = 6
	}
	for pos := 0; pos+hdrLen <= len(data); {
		typ := message.Type(data[pos])
		size := int(data[pos+1]) | int(data[pos+2])<<8
		flags := data[pos+3]
		pos += hdrLen
		if pos+size > len(data) {
			return nil, fmt.Errorf("%w: message 0x%x overruns chunk", ErrInvalidHeader, uint16(typ))
		}
		body := data[pos : pos+size]
		pos += size
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

// verify checks the trailing lookup3 checksum of block.
func verify(block []byte) error {
	n := len(block) - 4
	stored := uint32(block[n]) | uint32(block[n+1])<<8 | uint32(block[n+2])<<16 | uint32(block[n+3])<<24
	if !binary.VerifyLookup3(block[:n], stored) {
		return ErrChecksumMismatch
	}
	return nil
}

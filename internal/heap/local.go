package heap

import (
	"bytes"
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
)

// Local is a local heap: a block of NUL-terminated names.
type Local struct {
	DataAddress uint64
	data        []byte
}

// ReadLocal reads the local heap at address.
func ReadLocal(r *binary.Reader, address uint64) (*Local, error) {
	hr := r.At(int64(address))
	prefix, err := hr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading local heap at 0x%x: %w", address, err)
	}
	if string(prefix[:4]) != "HEAP" {
		return nil, fmt.Errorf("bad local heap signature %q at 0x%x", prefix[:4], address)
	}
	if prefix[4] != 0 {
		return nil, fmt.Errorf("unsupported local heap version %d", prefix[4])
	}
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	hr.Skip(int64(hr.LengthSize())) // free list head
	dataAddr, err := hr.ReadOffset()
	if err != nil {
		return nil, err
	}
	data, err := r.At(int64(dataAddr)).ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("reading local heap data: %w", err)
	}
	return &Local{DataAddress: dataAddr, data: data}, nil
}

// String returns the NUL-terminated string at offset.
func (h *Local) String(offset uint64) (string, error) {
	if offset >= uint64(len(h.data)) {
		return "", fmt.Errorf("local heap offset %d out of range", offset)
	}
	s := h.data[offset:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}

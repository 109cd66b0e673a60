package filter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/robert-malhotra/h5path/internal/message"
)

// Deflate is the zlib-framed DEFLATE filter.
type Deflate struct {
	level int
}

// NewDeflate reads the compression level from client data, default 6.
func NewDeflate(clientData []uint32) *Deflate {
	level := 6
	if len(clientData) > 0 {
		level = int(min(clientData[0], 9))
	}
	return &Deflate{level: level}
}

func (f *Deflate) ID() uint16 { return message.FilterDeflate }

func (f *Deflate) Encode(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(input) / 2)
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *Deflate) Decode(input []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}

package binary

import (
	"encoding/binary"
	"io"
)

// Writer encodes values into an io.WriterAt at a tracked position.
type Writer struct {
	w   io.WriterAt
	cfg Config
	pos int64
}

// NewWriter creates a writer positioned at offset 0.
func NewWriter(w io.WriterAt, cfg Config) *Writer {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	return &Writer{w: w, cfg: cfg}
}

// At returns a copy of the writer positioned at offset.
func (w *Writer) At(offset int64) *Writer {
	return &Writer{w: w.w, cfg: w.cfg, pos: offset}
}

func (w *Writer) Pos() int64                  { return w.pos }
func (w *Writer) Config() Config              { return w.cfg }
func (w *Writer) OffsetSize() int             { return w.cfg.OffsetSize }
func (w *Writer) LengthSize() int             { return w.cfg.LengthSize }
func (w *Writer) ByteOrder() binary.ByteOrder { return w.cfg.ByteOrder }

// WriteBytes writes data at the current position and advances.
func (w *Writer) WriteBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := w.w.WriteAt(data, w.pos)
	w.pos += int64(n)
	return err
}

func (w *Writer) WriteUint8(v uint8) error   { return w.WriteBytes([]byte{v}) }
func (w *Writer) WriteUint16(v uint16) error { return w.WriteUintN(uint64(v), 2) }
func (w *Writer) WriteUint32(v uint32) error { return w.WriteUintN(uint64(v), 4) }
func (w *Writer) WriteUint64(v uint64) error { return w.WriteUintN(v, 8) }

// WriteUintN writes v using n bytes.
func (w *Writer) WriteUintN(v uint64, n int) error {
	buf := make([]byte, n)
	EncodeUint(buf, v, n, w.cfg.ByteOrder)
	return w.WriteBytes(buf)
}

// WriteOffset writes a file address.
func (w *Writer) WriteOffset(v uint64) error { return w.WriteUintN(v, w.cfg.OffsetSize) }

// WriteLength writes a length field.
func (w *Writer) WriteLength(v uint64) error { return w.WriteUintN(v, w.cfg.LengthSize) }

// UndefinedOffset returns the "no address" sentinel at this writer's width.
func (w *Writer) UndefinedOffset() uint64 { return Undefined(w.cfg.OffsetSize) }

// WriteUndefinedOffset writes the "no address" sentinel.
func (w *Writer) WriteUndefinedOffset() error { return w.WriteOffset(w.UndefinedOffset()) }

// WriteUndefinedLength writes the undefined length sentinel.
func (w *Writer) WriteUndefinedLength() error {
	return w.WriteLength(Undefined(w.cfg.LengthSize))
}

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) error {
	if n <= 0 {
		return nil
	}
	return w.WriteBytes(make([]byte, n))
}

// WritePadding writes zeros up to the next multiple of alignment.
func (w *Writer) WritePadding(alignment int64) error {
	if alignment <= 1 {
		return nil
	}
	if rem := w.pos % alignment; rem != 0 {
		return w.WriteZeros(int(alignment - rem))
	}
	return nil
}

// EncodeUint encodes v into the first size bytes of buf.
func EncodeUint(buf []byte, v uint64, size int, order binary.ByteOrder) {
	switch size {
	case 1:
		buf[0] = uint8(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	default:
		for i := 0; i < size; i++ {
			if order == binary.BigEndian {
				buf[size-1-i] = byte(v >> (8 * i))
			} else {
				buf[i] = byte(v >> (8 * i))
			}
		}
	}
}

// Buffer is a growable in-memory io.WriterAt/io.ReaderAt. Metadata blocks
// are assembled in a Buffer so their checksum can be computed before the
// block goes to disk.
type Buffer struct {
	buf []byte
}

// NewBuffer returns a buffer with capacity for n bytes.
func NewBuffer(n int) *Buffer {
	return &Buffer{buf: make([]byte, 0, n)}
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(b.buf) {
		if end <= cap(b.buf) {
			b.buf = b.buf[:end]
		} else {
			grown := make([]byte, end, max(end, 2*cap(b.buf)))
			copy(grown, b.buf)
			b.buf = grown
		}
	}
	copy(b.buf[off:], p)
	return len(p), nil
}

// ReadAt implements io.ReaderAt.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the written contents.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.buf) }

// NewBufferWriter returns a Writer over a fresh Buffer with cfg's widths.
func NewBufferWriter(cfg Config, sizeHint int) (*Writer, *Buffer) {
	buf := NewBuffer(sizeHint)
	return NewWriter(buf, cfg), buf
}

// BytesReader returns a Reader over an in-memory byte slice.
func BytesReader(data []byte, cfg Config) *Reader {
	return NewReader(&Buffer{buf: data}, cfg)
}

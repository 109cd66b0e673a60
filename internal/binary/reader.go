// Package binary provides positioned little-endian encoding helpers for the
// variable-width fields HDF5 uses for file offsets and lengths.
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrInvalidSize is returned for an offset or length width HDF5 does not allow.
var ErrInvalidSize = errors.New("invalid offset/length size: must be 2, 4, or 8")

// Config describes how a file encodes addresses and lengths.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int // 2, 4, or 8 bytes
	LengthSize int // 2, 4, or 8 bytes
}

// DefaultConfig returns the layout used for newly created files.
func DefaultConfig() Config {
	return Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: 8,
		LengthSize: 8,
	}
}

// Validate reports whether the widths are ones HDF5 can express.
func (c Config) Validate() error {
	for _, n := range []int{c.OffsetSize, c.LengthSize} {
		if n != 2 && n != 4 && n != 8 {
			return ErrInvalidSize
		}
	}
	return nil
}

// Undefined returns the all-ones sentinel HDF5 stores for "no address" at
// the given width.
func Undefined(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*size) - 1
}

// Reader decodes values from an io.ReaderAt, tracking its own position so
// independent readers can share one underlying file.
type Reader struct {
	r   io.ReaderAt
	cfg Config
	pos int64
}

// NewReader creates a reader positioned at offset 0.
func NewReader(r io.ReaderAt, cfg Config) *Reader {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	return &Reader{r: r, cfg: cfg}
}

// At returns a copy of the reader positioned at offset.
func (r *Reader) At(offset int64) *Reader {
	return &Reader{r: r.r, cfg: r.cfg, pos: offset}
}

// WithSizes returns a copy of the reader using different field widths.
func (r *Reader) WithSizes(offsetSize, lengthSize int) *Reader {
	cfg := r.cfg
	cfg.OffsetSize, cfg.LengthSize = offsetSize, lengthSize
	return &Reader{r: r.r, cfg: cfg, pos: r.pos}
}

func (r *Reader) Pos() int64                  { return r.pos }
func (r *Reader) Config() Config              { return r.cfg }
func (r *Reader) OffsetSize() int             { return r.cfg.OffsetSize }
func (r *Reader) LengthSize() int             { return r.cfg.LengthSize }
func (r *Reader) ByteOrder() binary.ByteOrder { return r.cfg.ByteOrder }
func (r *Reader) Source() io.ReaderAt         { return r.r }

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int64) { r.pos += n }

// Align advances the position to the next multiple of alignment.
func (r *Reader) Align(alignment int64) {
	if alignment > 1 {
		if rem := r.pos % alignment; rem != 0 {
			r.pos += alignment - rem
		}
	}
}

// ReadBytes reads n bytes and advances.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

// largeRead is the size above which Peek checks that the source reaches
// the end of the read before allocating the buffer.
const largeRead = 1 << 20

// Peek reads n bytes without advancing. Sizes decoded from a damaged file
// can be arbitrarily large, so a read the source cannot satisfy fails with
// io.ErrUnexpectedEOF before its buffer is allocated.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || r.pos < 0 || int64(n) > math.MaxInt64-r.pos {
		return nil, fmt.Errorf("%w: %d bytes at 0x%x", io.ErrUnexpectedEOF, n, r.pos)
	}
	if n > largeRead {
		var last [1]byte
		if _, err := r.r.ReadAt(last[:], r.pos+int64(n)-1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %d bytes at 0x%x", io.ErrUnexpectedEOF, n, r.pos)
			}
			return nil, err
		}
	}
	buf := make([]byte, n)
	if got, err := r.r.ReadAt(buf, r.pos); err != nil && !(got == n && errors.Is(err, io.EOF)) {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUintN(2)
	return uint16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUintN(4)
	return uint32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUintN(8)
}

// ReadUintN reads an n-byte unsigned integer.
func (r *Reader) ReadUintN(n int) (uint64, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return DecodeUint(b, n, r.cfg.ByteOrder), nil
}

// ReadOffset reads a file address.
func (r *Reader) ReadOffset() (uint64, error) { return r.ReadUintN(r.cfg.OffsetSize) }

// ReadLength reads a length field.
func (r *Reader) ReadLength() (uint64, error) { return r.ReadUintN(r.cfg.LengthSize) }

// IsUndefinedOffset reports whether addr is the "no address" sentinel.
func (r *Reader) IsUndefinedOffset(addr uint64) bool {
	return addr == Undefined(r.cfg.OffsetSize)
}

// IsUndefinedLength reports whether n is the undefined length sentinel.
func (r *Reader) IsUndefinedLength(n uint64) bool {
	return n == Undefined(r.cfg.LengthSize)
}

// DecodeUint decodes a size-byte unsigned integer from buf.
func DecodeUint(buf []byte, size int, order binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	var v uint64
	if order == binary.BigEndian {
		for i := 0; i < size; i++ {
			v = v<<8 | uint64(buf[i])
		}
		return v
	}
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

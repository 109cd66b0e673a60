package filter

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/robert-malhotra/h5path/internal/message"
)

var (
	zstdEncoders sync.Map // zstd.EncoderLevel -> *sync.Pool
	zstdDecoders sync.Pool
)

func getZstdEncoder(level zstd.EncoderLevel) (*zstd.Encoder, *sync.Pool, error) {
	v, _ := zstdEncoders.LoadOrStore(level, &sync.Pool{})
	pool := v.(*sync.Pool)
	if enc, ok := pool.Get().(*zstd.Encoder); ok {
		return enc, pool, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, nil, fmt.Errorf("zstd: %w", err)
	}
	return enc, pool, nil
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if dec, ok := zstdDecoders.Get().(*zstd.Decoder); ok {
		return dec, nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// Zstd is the registered Zstandard filter.
type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd reads the zstd compression level from client data.
func NewZstd(clientData []uint32) *Zstd {
	level := zstd.SpeedDefault
	if len(clientData) > 0 && clientData[0] > 0 {
		level = zstd.EncoderLevelFromZstd(int(clientData[0]))
	}
	return &Zstd{level: level}
}

func (f *Zstd) ID() uint16 { return message.FilterZstd }

func (f *Zstd) Encode(input []byte) ([]byte, error) {
	enc, pool, err := getZstdEncoder(f.level)
	if err != nil {
		return nil, err
	}
	defer pool.Put(enc)
	return enc.EncodeAll(input, make([]byte, 0, len(input)/2)), nil
}

func (f *Zstd) Decode(input []byte) ([]byte, error) {
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	defer zstdDecoders.Put(dec)
	out, err := dec.DecodeAll(input, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

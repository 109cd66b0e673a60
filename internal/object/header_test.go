package object

import (
	stdbinary "encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/message"
)

func datasetMessages() []message.Message {
	return []message.Message{
		message.NewSimpleDataspace([]int{4, 4, 3}),
		message.NewFixedPoint(1, false, message.OrderLE),
		message.NewFillValue(nil),
		message.NewChunkedLayout([]int{2, 2, 3}, 1, message.IndexFixedArray, 10),
		message.NewAttribute("units", message.NewString(2, message.PadNullPad, message.CharsetASCII),
			message.NewScalarDataspace(), []byte("um")),
	}
}

// place writes block at addr inside a fresh in-memory file.
func place(block []byte, addr int64) *binary.Reader {
	buf := binary.NewBuffer(int(addr) + len(block))
	_, _ = buf.WriteAt(block, addr)
	return binary.NewReader(buf, binary.DefaultConfig())
}

func TestEncodeReadRoundTrip(t *testing.T) {
	cfg := binary.DefaultConfig()
	block, err := Encode(cfg, datasetMessages())
	require.NoError(t, err)

	size, err := Size(cfg, datasetMessages())
	require.NoError(t, err)
	assert.Equal(t, len(block), size)

	h, err := Read(place(block, 96), 96)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.Version)
	assert.True(t, h.IsDataset())
	assert.False(t, h.IsGroup())
	assert.Equal(t, []int{4, 4, 3}, h.Dataspace().Shape())
	assert.Equal(t, message.IndexFixedArray, h.Layout().IndexType)
	require.Len(t, h.Attributes(), 1)
	assert.Equal(t, "units", h.Attributes()[0].Name)
	assert.Equal(t, []Span{{Addr: 96, Size: uint64(len(block))}}, h.Spans)
}

func TestChunkSizeFieldWidth(t *testing.T) {
	cfg := binary.DefaultConfig()
	// a 300-byte attribute pushes chunk #0 past 255 bytes
	msgs := append(datasetMessages(), message.NewAttribute("blob",
		message.NewFixedPoint(1, false, message.OrderLE),
		message.NewSimpleDataspace([]int{300}), make([]byte, 300)))
	block, err := Encode(cfg, msgs)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), block[5]&0x03, "2-byte size field is encoded as log2 width")

	h, err := Read(place(block, 0), 0)
	require.NoError(t, err)
	assert.Len(t, h.Attributes(), 2)
}

func TestChecksumMismatch(t *testing.T) {
	block, err := Encode(binary.DefaultConfig(), datasetMessages())
	require.NoError(t, err)
	block[10] ^= 0xff
	_, err = Read(place(block, 0), 0)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestUnknownMessageFlagsPreserved(t *testing.T) {
	cfg := binary.DefaultConfig()
	msgs := []message.Message{message.NewUnknown(message.TypeDatatype, message.FlagShared, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0})}
	block, err := Encode(cfg, msgs)
	require.NoError(t, err)
	h, err := Read(place(block, 0), 0)
	require.NoError(t, err)
	u, ok := h.Messages[0].(*message.Unknown)
	require.True(t, ok)
	assert.Equal(t, uint8(message.FlagShared), u.Flags())
}

func TestOversizeMessageRejected(t *testing.T) {
	big := message.NewAttribute("big", message.NewFixedPoint(1, false, message.OrderLE),
		message.NewSimpleDataspace([]int{70000}), make([]byte, 70000))
	_, err := Encode(binary.DefaultConfig(), []message.Message{big})
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestContinuationChunk(t *testing.T) {
	cfg := binary.DefaultConfig()

	// continuation block holding one link
	contBody, err := encodeMessages(cfg, []message.Message{message.NewHardLink("masks", 0x40)})
	require.NoError(t, err)
	cont := append([]byte("OCHK"), contBody...)
	sum := binary.Lookup3Checksum(cont)
	cont = append(cont, byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))

	const contAddr = 512
	msgs := append(GroupMessages([]*message.Link{message.NewHardLink("array", 0x20)}),
		&message.Continuation{Offset: contAddr, Length: uint64(len(cont))})
	block, err := Encode(cfg, msgs)
	require.NoError(t, err)

	buf := binary.NewBuffer(1024)
	_, _ = buf.WriteAt(block, 0)
	_, _ = buf.WriteAt(cont, contAddr)
	h, err := Read(binary.NewReader(buf, cfg), 0)
	require.NoError(t, err)

	require.Len(t, h.Links(), 2)
	assert.Equal(t, "array", h.Links()[0].Name)
	assert.Equal(t, "masks", h.Links()[1].Name)
	assert.True(t, h.IsGroup())
	assert.Len(t, h.Spans, 2)
}

func TestReadVersion1(t *testing.T) {
	// dataspace v1, rank 1, dims {5}
	ds := []byte{1, 1, 0, 0, 0, 0, 0, 0, 5, 0, 0, 0, 0, 0, 0, 0}
	msg := append([]byte{0x01, 0x00, byte(len(ds)), 0, 0, 0, 0, 0}, ds...)
	nilMsg := []byte{0, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	body := append(msg, nilMsg...)
	prefix := []byte{1, 0, 2, 0, 1, 0, 0, 0, byte(len(body)), 0, 0, 0, 0, 0, 0, 0}

	h, err := Read(place(append(prefix, body...), 8), 8)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.Version)
	assert.Equal(t, uint32(1), h.RefCount)
	require.NotNil(t, h.Dataspace())
	assert.Equal(t, []int{5}, h.Dataspace().Shape())
	assert.Len(t, h.Messages, 1)
}

func TestReadGarbage(t *testing.T) {
	_, err := Read(place([]byte{9, 9, 9, 9, 9, 9, 9, 9}, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestHugeChunkSizeRejected(t *testing.T) {
	tests := []struct {
		name   string
		chunk0 uint64
	}{
		{"past the chunk limit", 1 << 40},
		{"past the end of the file", 1 << 31},
		{"wraps negative", ^uint64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := []byte{'O', 'H', 'D', 'R', 2, 0x03}
			block = stdbinary.LittleEndian.AppendUint64(block, tt.chunk0)
			block = append(block, make([]byte, 64)...)
			_, err := Read(place(block, 0), 0)
			assert.Error(t, err)
		})
	}
}

func TestDenseAttributes(t *testing.T) {
	undef := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	heapAt := []byte{0x00, 0x10, 0, 0, 0, 0, 0, 0}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"compact with creation order", append([]byte{0, 0x01, 3, 0}, append(undef, undef...)...), false},
		{"compact", append([]byte{0, 0}, append(undef, undef...)...), false},
		{"fractal heap", append([]byte{0, 0}, append(heapAt, undef...)...), true},
		{"truncated", []byte{0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Header{Messages: []message.Message{message.NewUnknown(message.TypeAttributeInfo, 0, tt.data)}}
			assert.Equal(t, tt.want, h.HasDenseAttributes(8))
		})
	}
	assert.False(t, (&Header{}).HasDenseAttributes(8))
}

package heap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

func TestLocalHeap(t *testing.T) {
	names := []byte("\x00array\x00masks\x00\x00\x00")
	buf := h5bin.NewBuffer(128)
	w := h5bin.NewWriter(buf, h5bin.DefaultConfig())
	require.NoError(t, w.WriteBytes([]byte("HEAP\x00\x00\x00\x00")))
	require.NoError(t, w.WriteLength(uint64(len(names))))
	require.NoError(t, w.WriteLength(^uint64(0)))
	require.NoError(t, w.WriteOffset(64))
	_, _ = buf.WriteAt(names, 64)

	h, err := ReadLocal(h5bin.NewReader(buf, h5bin.DefaultConfig()), 0)
	require.NoError(t, err)
	s, err := h.String(1)
	require.NoError(t, err)
	assert.Equal(t, "array", s)
	s, err = h.String(7)
	require.NoError(t, err)
	assert.Equal(t, "masks", s)
	_, err = h.String(500)
	assert.Error(t, err)
}

func TestLocalHeapBadSignature(t *testing.T) {
	r := h5bin.BytesReader([]byte("NOPE\x00\x00\x00\x00"), h5bin.DefaultConfig())
	_, err := ReadLocal(r, 0)
	assert.Error(t, err)
}

// collection builds a global heap collection at address 0 holding objs
// with indices 1..n.
func collection(objs ...string) []byte {
	out := []byte("GCOL\x01\x00\x00\x00")
	out = binary.LittleEndian.AppendUint64(out, 0) // patched below
	for i, o := range objs {
		out = binary.LittleEndian.AppendUint16(out, uint16(i+1))
		out = append(out, 1, 0, 0, 0, 0, 0)
		out = binary.LittleEndian.AppendUint64(out, uint64(len(o)))
		out = append(out, o...)
		for len(out)%8 != 0 {
			out = append(out, 0)
		}
	}
	// free-space object
	out = append(out, make([]byte, 16)...)
	binary.LittleEndian.PutUint64(out[8:], uint64(len(out)))
	return out
}

func TestGlobalHeapCollection(t *testing.T) {
	r := h5bin.BytesReader(collection("H&E", "tumor region"), h5bin.DefaultConfig())
	c, err := ReadCollection(r, 0)
	require.NoError(t, err)

	obj, err := c.Object(2)
	require.NoError(t, err)
	assert.Equal(t, "tumor region", string(obj))
	_, err = c.Object(3)
	assert.Error(t, err)
}

func TestCacheResolvesIDs(t *testing.T) {
	cfg := h5bin.DefaultConfig()
	r := h5bin.BytesReader(collection("a", "bb"), cfg)
	cache := NewCache(r)

	raw := make([]byte, 12)
	binary.LittleEndian.PutUint64(raw, 0)
	binary.LittleEndian.PutUint32(raw[8:], 1)
	id, err := ParseID(raw, cfg)
	require.NoError(t, err)
	assert.Equal(t, ID{Collection: 0, Index: 1}, id)

	obj, err := cache.Object(id)
	require.NoError(t, err)
	assert.Equal(t, "a", string(obj))

	obj, err = cache.Object(ID{Index: 2})
	require.NoError(t, err)
	assert.Equal(t, "bb", string(obj))

	_, err = ParseID(raw[:4], cfg)
	assert.Error(t, err)
}

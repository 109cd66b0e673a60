package superblock

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/h5path/internal/binary"
)

func TestV3RoundTrip(t *testing.T) {
	for _, width := range []int{4, 8} {
		cfg := binpkg.Config{ByteOrder: binary.LittleEndian, OffsetSize: width, LengthSize: width}
		sb := New(cfg)
		sb.EOFAddress = 4096
		sb.RootGroupAddress = 48

		buf := binpkg.NewBuffer(0)
		require.NoError(t, sb.WriteTo(buf))
		assert.Equal(t, sb.Size(), buf.Len())

		got, err := Read(buf)
		require.NoError(t, err)
		assert.Equal(t, uint8(3), got.Version)
		assert.Equal(t, uint8(width), got.OffsetSize)
		assert.Equal(t, uint64(4096), got.EOFAddress)
		assert.Equal(t, uint64(48), got.RootGroupAddress)
		assert.Equal(t, binpkg.Undefined(width), got.ExtensionAddress)
		assert.False(t, got.IsLegacy())
	}
}

func TestV3Size(t *testing.T) {
	assert.Equal(t, 48, New(binpkg.DefaultConfig()).Size())
}

func TestChecksumMismatch(t *testing.T) {
	sb := New(binpkg.DefaultConfig())
	raw, err := sb.Encode()
	require.NoError(t, err)
	raw[20] ^= 0xff

	_, err = Read(binpkg.BytesReader(raw, binpkg.DefaultConfig()).Source())
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestNotHDF5(t *testing.T) {
	_, err := Read(binpkg.BytesReader([]byte("definitely not an hdf5 file"), binpkg.DefaultConfig()).Source())
	assert.ErrorIs(t, err, ErrNotHDF5)

	_, err = Read(binpkg.NewBuffer(0))
	assert.ErrorIs(t, err, ErrNotHDF5)
}

func TestSignatureAfterUserBlock(t *testing.T) {
	sb := New(binpkg.DefaultConfig())
	sb.FileOffset = 512
	buf := binpkg.NewBuffer(0)
	require.NoError(t, sb.WriteTo(buf))

	got, err := Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(512), got.FileOffset)
}

func TestReadLegacyV0(t *testing.T) {
	w, buf := binpkg.NewBufferWriter(binpkg.DefaultConfig(), 0)
	_ = w.WriteBytes(Signature)
	_ = w.WriteBytes([]byte{0, 0, 0, 0, 0, 8, 8, 0})
	_ = w.WriteUint16(4)  // leaf K
	_ = w.WriteUint16(16) // internal K
	_ = w.WriteUint32(0)
	_ = w.WriteOffset(0)         // base
	_ = w.WriteUndefinedOffset() // free space
	_ = w.WriteOffset(2048)      // eof
	_ = w.WriteUndefinedOffset() // driver
	_ = w.WriteOffset(0)         // link name offset
	_ = w.WriteOffset(96)        // root object header
	_ = w.WriteUint32(1)         // cache type
	_ = w.WriteUint32(0)         // reserved
	_ = w.WriteOffset(136)       // btree
	_ = w.WriteOffset(680)       // local heap

	sb, err := Read(buf)
	require.NoError(t, err)
	assert.True(t, sb.IsLegacy())
	assert.Equal(t, uint64(2048), sb.EOFAddress)
	assert.Equal(t, uint64(96), sb.RootGroupAddress)
	assert.Equal(t, uint64(136), sb.RootBTreeAddress)
	assert.Equal(t, uint64(680), sb.RootLocalHeapAddress)
	assert.Equal(t, uint16(16), sb.GroupInternalNodeK)

	_, err = sb.Encode()
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

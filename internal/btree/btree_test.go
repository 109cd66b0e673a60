package btree

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

const undef = ^uint64(0)

type chunkKey struct {
	size, mask uint32
	offset     []uint64
}

// chunkNode encodes a v1 chunk B-tree node with len(children) entries.
func chunkNode(level uint8, keys []chunkKey, children []uint64) []byte {
	out := []byte("TREE")
	out = append(out, nodeChunk, level)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(children)))
	out = binary.LittleEndian.AppendUint64(out, undef)
	out = binary.LittleEndian.AppendUint64(out, undef)
	for i, k := range keys {
		out = binary.LittleEndian.AppendUint32(out, k.size)
		out = binary.LittleEndian.AppendUint32(out, k.mask)
		for _, o := range k.offset {
			out = binary.LittleEndian.AppendUint64(out, o)
		}
		if i < len(children) {
			out = binary.LittleEndian.AppendUint64(out, children[i])
		}
	}
	return out
}

func TestReadChunksTwoLevels(t *testing.T) {
	buf := h5bin.NewBuffer(1024)
	root := chunkNode(1,
		[]chunkKey{{offset: []uint64{0, 0, 0}}, {offset: []uint64{2, 0, 0}}, {offset: []uint64{4, 0, 0}}},
		[]uint64{256, 512})
	left := chunkNode(0,
		[]chunkKey{{size: 16, offset: []uint64{0, 0, 0}}, {size: 16, offset: []uint64{0, 2, 0}}, {offset: []uint64{2, 0, 0}}},
		[]uint64{0x1000, 0x1010})
	right := chunkNode(0,
		[]chunkKey{{size: 9, mask: 1, offset: []uint64{2, 0, 0}}, {offset: []uint64{4, 0, 0}}},
		[]uint64{0x1020})
	_, _ = buf.WriteAt(root, 0)
	_, _ = buf.WriteAt(left, 256)
	_, _ = buf.WriteAt(right, 512)

	chunks, err := ReadChunks(h5bin.NewReader(buf, h5bin.DefaultConfig()), 0, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []uint64{0, 2}, chunks[1].Offset)
	assert.Equal(t, uint64(0x1010), chunks[1].Address)
	assert.Equal(t, uint32(1), chunks[2].FilterMask)
	assert.Equal(t, uint32(9), chunks[2].Size)
}

func TestReadChunksRejectsGroupNode(t *testing.T) {
	node := chunkNode(0, nil, nil)
	node[4] = nodeGroup
	_, err := ReadChunks(h5bin.BytesReader(node, h5bin.DefaultConfig()), 0, 1)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = ReadChunks(h5bin.BytesReader([]byte("XXXX\x01\x00\x00\x00"), h5bin.DefaultConfig()), 0, 1)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadGroup(t *testing.T) {
	const (
		heapAddr  = 0
		heapData  = 64
		treeAddr  = 128
		snodAddr  = 256
		arrayAddr = 0x800
	)
	buf := h5bin.NewBuffer(512)
	names := []byte("\x00array\x00alias\x00/array\x00\x00")

	hp := []byte("HEAP\x00\x00\x00\x00")
	hp = binary.LittleEndian.AppendUint64(hp, uint64(len(names)))
	hp = binary.LittleEndian.AppendUint64(hp, undef)
	hp = binary.LittleEndian.AppendUint64(hp, heapData)
	_, _ = buf.WriteAt(hp, heapAddr)
	_, _ = buf.WriteAt(names, heapData)

	tree := []byte("TREE")
	tree = append(tree, nodeGroup, 0, 1, 0)
	tree = binary.LittleEndian.AppendUint64(tree, undef)
	tree = binary.LittleEndian.AppendUint64(tree, undef)
	tree = binary.LittleEndian.AppendUint64(tree, 0)
	tree = binary.LittleEndian.AppendUint64(tree, snodAddr)
	tree = binary.LittleEndian.AppendUint64(tree, 7)
	_, _ = buf.WriteAt(tree, treeAddr)

	snod := []byte("SNOD\x01\x00\x02\x00")
	snod = binary.LittleEndian.AppendUint64(snod, 1) // "array"
	snod = binary.LittleEndian.AppendUint64(snod, arrayAddr)
	snod = binary.LittleEndian.AppendUint32(snod, cacheNone)
	snod = append(snod, make([]byte, 20)...)
	snod = binary.LittleEndian.AppendUint64(snod, 7) // "alias"
	snod = binary.LittleEndian.AppendUint64(snod, undef)
	snod = binary.LittleEndian.AppendUint32(snod, cacheSoftLink)
	snod = append(snod, 0, 0, 0, 0)
	snod = binary.LittleEndian.AppendUint32(snod, 13) // "/array"
	snod = append(snod, make([]byte, 12)...)
	_, _ = buf.WriteAt(snod, snodAddr)

	syms, err := ReadGroup(h5bin.NewReader(buf, h5bin.DefaultConfig()), treeAddr, heapAddr)
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, Symbol{Name: "array", Address: arrayAddr}, syms[0])
	assert.Equal(t, "alias", syms[1].Name)
	assert.Equal(t, "/array", syms[1].SoftPath)
}

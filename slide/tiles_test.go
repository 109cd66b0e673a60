package slide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/tiles"
)

func TestGenerateTiles(t *testing.T) {
	c := sevens()
	c.Array = gradient(10, 8, 3)
	c.Masks = map[string]*array.Array{"tissue": array.Full(array.Uint8, 1, 10, 8, 3)}
	c.Tiles = nil
	m := bound(t, c)

	keys, err := m.GenerateTiles([]int{4, 4}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"(0, 0)", "(0, 4)", "(4, 0)", "(4, 4)", "(6, 0)", "(6, 4)"}, keys)
	assert.Equal(t, 6, m.TileCount())
	assert.Equal(t, []int{4, 4}, m.TileShape())

	for i := range m.TileCount() {
		tile, err := m.TileAt(i)
		require.NoError(t, err)
		want, err := c.Array.Slice(array.Box(tile.Coords, []int{4, 4}))
		require.NoError(t, err)
		assert.Equal(t, []int{4, 4, 3}, tile.Image.Shape())
		assert.True(t, want.Equal(tile.Image), tile.Key)
		assert.True(t, array.Full(array.Uint8, 1, 4, 4, 3).Equal(tile.Masks["tissue"]))
	}
	_, err = m.TileAt(6)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// regenerating collides with existing keys and adds nothing
	_, err = m.GenerateTiles([]int{4, 4}, nil, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = m.GenerateTiles([]int{2, 2}, []int{5, 5}, false)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 6, m.TileCount())

	require.NoError(t, m.RemoveTile("(6, 4)"))
	assert.ErrorIs(t, m.RemoveTile("(6, 4)"), ErrNotFound)
	assert.Equal(t, 5, m.TileCount())
}

func TestTileShapeIsShared(t *testing.T) {
	m := bound(t, sevens())
	assert.Equal(t, []int{2, 2, 3}, m.TileShape())

	err := m.AddTile(tiles.Record{Key: "big", Coords: []int{0, 0, 0}, Shape: []int{4, 4, 3}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	require.NoError(t, m.AddTile(tiles.Record{Key: "t1", Coords: []int{2, 0, 0}, Labels: tiles.Labels{"n": 3}}))
	rec, err := m.TileRecord("t1")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, rec.Shape)
	assert.Equal(t, tiles.Labels{"n": int64(3)}, rec.Labels)
}

func TestSliceTiles(t *testing.T) {
	c := sevens()
	c.Array = gradient(8, 8, 3)
	c.Masks = map[string]*array.Array{"tissue": gradient(8, 8, 3).AsType(array.Uint8)}
	c.Tiles = []tiles.Record{
		{Key: "b", Coords: []int{4, 0, 0}, Shape: []int{4, 4, 3}},
		{Key: "a", Coords: []int{0, 4, 0}, Shape: []int{4, 4, 3}},
	}
	m := bound(t, c)

	sel := array.Selection{array.R(1, 3), array.All(), array.At(2)}
	got, err := m.SliceTiles(sel)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, "b", got[1].Key)
	for _, tile := range got {
		full, err := c.Array.Slice(array.Box(tile.Coords, []int{4, 4, 3}))
		require.NoError(t, err)
		want, err := full.Slice(sel)
		require.NoError(t, err)
		assert.True(t, want.Equal(tile.Image), tile.Key)
		assert.Equal(t, []int{2, 4, 1}, tile.Masks["tissue"].Shape(), tile.Key)
	}

	_, err = m.SliceTiles(array.Selection{array.R(0, 5)})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

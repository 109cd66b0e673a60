package slide

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
	"github.com/robert-malhotra/h5path/tiles"
)

// memBackend serves regions of an in-memory image pyramid and records the
// reads. img is level 0; lower levels follow in levels.
type memBackend struct {
	img    *array.Array
	levels []*array.Array
	meta   map[string]any
	reads  [][]int
	fail   error
}

func (b *memBackend) level(n int) (*array.Array, error) {
	switch {
	case n == 0:
		return b.img, nil
	case n > 0 && n <= len(b.levels):
		return b.levels[n-1], nil
	}
	return nil, fmt.Errorf("no pyramid level %d", n)
}

func (b *memBackend) LevelDimensions(level int) ([]int, error) {
	img, err := b.level(level)
	if err != nil {
		return nil, err
	}
	return img.Shape(), nil
}

func (b *memBackend) Metadata() map[string]any { return b.meta }

func (b *memBackend) ReadRegion(level int, offset, size []int) (*array.Array, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	img, err := b.level(level)
	if err != nil {
		return nil, err
	}
	b.reads = append(b.reads, append([]int{level}, offset...))
	return img.Slice(array.Box(offset, size))
}

func TestBindSource(t *testing.T) {
	src := &memBackend{
		img: gradient(50, 20, 3),
		meta: map[string]any{
			"vendor":   "aperio",
			"mpp":      0.5,
			"objects":  struct{}{},
			"override": "backend",
		},
	}
	m := New(WithTempDir(t.TempDir()), WithArrayStorage(hdf5.WithChunks(16, 20, 3)))
	defer m.Close()

	fields := Fields{Name: "from-backend", Labels: map[string]any{"override": "caller"}}
	err := m.BindSource(context.Background(), src, fields,
		FromLevel(0),
		WithSourceMasks(map[string]*array.Array{"tissue": array.Full(array.Uint8, 1, 50, 20, 3)}),
		WithSourceTiles([]int{10, 10, 3}, tiles.Record{Key: "t", Coords: []int{40, 10, 0}}),
	)
	require.NoError(t, err)
	assert.Equal(t, BoundTemporary, m.State())

	got, err := m.ReadRegion(nil)
	require.NoError(t, err)
	assert.True(t, src.img.Equal(got))

	// one element for the dtype, then strips of whole chunk rows
	assert.Equal(t, [][]int{{0, 0, 0, 0}, {0, 0, 0, 0}, {0, 16, 0, 0}, {0, 32, 0, 0}, {0, 48, 0, 0}}, src.reads)

	labels, err := m.Labels()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"vendor": "aperio", "mpp": 0.5, "override": "caller"}, labels)

	tile, err := m.GetTile("t")
	require.NoError(t, err)
	want, err := src.img.Slice(array.Selection{array.R(40, 50), array.R(10, 20)})
	require.NoError(t, err)
	assert.True(t, want.Equal(tile.Image))
}

func TestBindSourceLevel(t *testing.T) {
	src := &memBackend{
		img:    gradient(40, 20, 3),
		levels: []*array.Array{gradient(20, 10, 3), gradient(10, 5, 3)},
	}
	m := New(WithTempDir(t.TempDir()))
	defer m.Close()

	err := m.BindSource(context.Background(), src, Fields{}, FromLevel(3))
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.Equal(t, Unbound, m.State())
	err = m.BindSource(context.Background(), src, Fields{}, FromLevel(-1))
	assert.ErrorIs(t, err, ErrOutOfBounds)

	err = m.BindSource(context.Background(), src, Fields{}, FromLevel(1),
		WithSourceTiles([]int{10, 10, 3}, tiles.Record{Key: "t", Coords: []int{10, 0, 0}}))
	require.NoError(t, err)
	assert.Equal(t, []int{20, 10, 3}, m.Shape())
	got, err := m.ReadRegion(nil)
	require.NoError(t, err)
	assert.True(t, src.levels[0].Equal(got))
	for _, r := range src.reads {
		assert.Equal(t, 1, r[0])
	}

	// a tile beyond the level 1 bounds is rejected even though level 0 holds it
	m2 := New(WithTempDir(t.TempDir()))
	defer m2.Close()
	err = m2.BindSource(context.Background(), src, Fields{}, FromLevel(2),
		WithSourceTiles([]int{10, 5, 3}, tiles.Record{Key: "t", Coords: []int{20, 0, 0}}))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestBindSourceFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("decoder crashed")
	src := &memBackend{img: gradient(8, 8), fail: boom}

	m := New(WithTempDir(dir))
	defer m.Close()
	err := m.BindSource(context.Background(), src, Fields{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.Equal(t, Unbound, m.State())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	src.fail = nil
	err = m.BindSource(context.Background(), src, Fields{Shape: []int{8, 9}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

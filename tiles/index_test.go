package tiles

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
)

func newIndex(t *testing.T, bounds ...int) (*hdf5.File, *Index) {
	t.Helper()
	f, err := hdf5.Create(filepath.Join(t.TempDir(), "tiles.h5"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	g, err := f.Root().CreateGroup("tiles")
	require.NoError(t, err)
	ix, err := Open(g, bounds)
	require.NoError(t, err)
	return f, ix
}

func TestAddAndGet(t *testing.T) {
	f, ix := newIndex(t, 4, 4, 3)
	assert.Nil(t, ix.TileShape())

	err := ix.Add(Record{
		Key:    "t0",
		Coords: []int{0, 0, 0},
		Shape:  []int{2, 2, 3},
		Name:   "first",
		Labels: Labels{"grade": int64(2), "tumor": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, ix.TileShape())
	require.NoError(t, ix.Add(Record{Key: "t1", Coords: []int{2, 2, 0}}))

	rec, err := ix.Get("t0")
	require.NoError(t, err)
	assert.Equal(t, &Record{
		Key:    "t0",
		Coords: []int{0, 0, 0},
		Shape:  []int{2, 2, 3},
		Name:   "first",
		Labels: Labels{"grade": int64(2), "tumor": true},
	}, rec)

	path := f.Path()
	require.NoError(t, f.Close())
	f, err = hdf5.Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, err := f.Group("tiles")
	require.NoError(t, err)
	ix, err = Open(g, []int{4, 4, 3})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 3}, ix.TileShape())
	assert.Equal(t, 2, ix.Len())
	keys, err := ix.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1"}, keys)
	rec, err = ix.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 0}, rec.Coords)
	assert.Empty(t, rec.Name)
	assert.Empty(t, rec.Labels)

	_, err = ix.Get("missing")
	assert.ErrorIs(t, err, hdf5.ErrNotFound)
}

func TestAddRejectsBadTiles(t *testing.T) {
	_, ix := newIndex(t, 4, 4, 3)
	require.NoError(t, ix.Add(Record{Key: "ok", Coords: []int{0, 0}, Shape: []int{2, 2, 3}}))

	tests := []struct {
		name string
		rec  Record
		want error
	}{
		{"past edge", Record{Key: "a", Coords: []int{3, 0, 0}}, hdf5.ErrOutOfBounds},
		{"negative coords", Record{Key: "b", Coords: []int{-1, 0}}, hdf5.ErrOutOfBounds},
		{"too many coords", Record{Key: "c", Coords: []int{0, 0, 0, 0}}, hdf5.ErrOutOfBounds},
		{"other shape", Record{Key: "d", Coords: []int{0, 0}, Shape: []int{1, 1, 3}}, hdf5.ErrShapeMismatch},
		{"bad key", Record{Key: "a/b", Coords: []int{0, 0}}, hdf5.ErrInvalidPath},
		{"bad label", Record{Key: "e", Coords: []int{0, 0}, Labels: Labels{"x": struct{}{}}}, hdf5.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ix.Add(tt.rec)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, ix.Len())
			assert.False(t, ix.Group().Exists(tt.rec.Key))
		})
	}
}

func TestFirstTileNeedsShape(t *testing.T) {
	_, ix := newIndex(t, 8, 8)
	err := ix.Add(Record{Key: "t", Coords: []int{0, 0}})
	assert.ErrorIs(t, err, hdf5.ErrShapeMismatch)
	assert.Equal(t, 0, ix.Len())

	require.NoError(t, ix.SetTileShape([]int{4, 4}))
	require.NoError(t, ix.Add(Record{Key: "t", Coords: []int{4, 4}}))
	assert.ErrorIs(t, ix.SetTileShape([]int{2, 2}), hdf5.ErrShapeMismatch)
	assert.ErrorIs(t, ix.SetTileShape([]int{16, 2}), hdf5.ErrOutOfBounds)
	require.NoError(t, ix.SetTileShape([]int{4, 4}))
}

func TestDuplicateKeys(t *testing.T) {
	_, ix := newIndex(t, 8, 8)
	require.NoError(t, ix.Add(Record{Key: "t", Coords: []int{0, 0}, Shape: []int{4, 4}, Name: "old"}))

	err := ix.Add(Record{Key: "t", Coords: []int{4, 4}, Name: "new"})
	assert.ErrorIs(t, err, hdf5.ErrExists)
	rec, err := ix.Get("t")
	require.NoError(t, err)
	assert.Equal(t, "old", rec.Name)

	require.NoError(t, ix.Add(Record{Key: "t", Coords: []int{4, 4}, Name: "new", Labels: Labels{"a": "b"}}, Overwrite()))
	rec, err = ix.Get("t")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Name)
	assert.Equal(t, []int{4, 4}, rec.Coords)
	assert.Equal(t, Labels{"a": "b"}, rec.Labels)
	assert.Equal(t, 1, ix.Len())
}

func TestOverwriteReplacesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.h5")
	f, err := hdf5.Create(path)
	require.NoError(t, err)
	g, err := f.Root().CreateGroup("tiles")
	require.NoError(t, err)
	ix, err := Open(g, []int{8, 8})
	require.NoError(t, err)
	require.NoError(t, ix.Add(Record{Key: "t", Coords: []int{0, 0}, Shape: []int{4, 4}, Name: "old", Labels: Labels{"a": "b"}}))

	// a replacement left behind by an interrupted write is invisible and
	// cleared by the next one
	_, err = g.CreateGroup(stagingKey)
	require.NoError(t, err)
	keys, err := ix.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, keys)
	assert.Equal(t, 1, ix.Len())

	require.NoError(t, ix.Add(Record{Key: "t", Coords: []int{4, 0}, Name: "new"}, Overwrite()))
	assert.False(t, g.Exists(stagingKey))
	assert.ErrorIs(t, ix.Add(Record{Key: stagingKey, Coords: []int{0, 0}}), hdf5.ErrInvalidPath)
	require.NoError(t, f.Close())

	f, err = hdf5.Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, err = f.Group("tiles")
	require.NoError(t, err)
	ix, err = Open(g, []int{8, 8})
	require.NoError(t, err)
	rec, err := ix.Get("t")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Name)
	assert.Equal(t, []int{4, 0}, rec.Coords)
	assert.Empty(t, rec.Labels)

	// a failed replacement keeps the old record
	err = ix.Add(Record{Key: "t", Coords: []int{0, 4}, Name: "newer"}, Overwrite())
	assert.ErrorIs(t, err, hdf5.ErrReadOnly)
	rec, err = ix.Get("t")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Name)
	assert.Equal(t, 1, ix.Len())
}

func TestMaterialize(t *testing.T) {
	f, ix := newIndex(t, 4, 4, 3)
	img, err := f.Root().CreateDatasetFrom("array", array.Full(array.Uint8, 7, 4, 4, 3))
	require.NoError(t, err)
	mask, err := f.Root().CreateDatasetFrom("masks/tissue", array.Full(array.Uint8, 1, 4, 4, 3))
	require.NoError(t, err)

	require.NoError(t, ix.Add(Record{Key: "t0", Coords: []int{0, 0, 0}, Shape: []int{2, 2, 3}}))
	p, err := ix.Materialize("t0", img, map[string]*hdf5.Dataset{"tissue": mask})
	require.NoError(t, err)
	assert.True(t, array.Full(array.Uint8, 7, 2, 2, 3).Equal(p.Image))
	assert.True(t, array.Full(array.Uint8, 1, 2, 2, 3).Equal(p.Masks["tissue"]))

	// the patch is a copy, so later writes leave it alone
	require.NoError(t, img.Write(array.Full(array.Uint8, 9, 4, 4, 3)))
	assert.Equal(t, 7.0, p.Image.At(0, 0, 0))

	_, err = ix.Materialize("nope", img, nil)
	assert.ErrorIs(t, err, hdf5.ErrNotFound)
}

func TestMaterializeMatchesSlice(t *testing.T) {
	f, ix := newIndex(t, 12, 10)
	full := array.New(array.Int32, 12, 10)
	for i := range full.Len() {
		full.SetFlat(i, float64(i))
	}
	img, err := f.Root().CreateDatasetFrom("array", full, hdf5.WithChunks(5, 5))
	require.NoError(t, err)

	coords, err := Grid([]int{12, 10}, []int{4, 3}, nil, true)
	require.NoError(t, err)
	require.NoError(t, ix.SetTileShape([]int{4, 3}))
	for _, c := range coords {
		require.NoError(t, ix.Add(Record{Key: Key(c), Coords: c}))
	}
	for i := range ix.Len() {
		rec, err := ix.At(i)
		require.NoError(t, err)
		sel, err := ix.Box(rec)
		require.NoError(t, err)
		want, err := full.Slice(sel)
		require.NoError(t, err)
		p, err := ix.Materialize(rec.Key, img, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 3}, p.Image.Shape())
		assert.True(t, want.Equal(p.Image), rec.Key)
	}
	_, err = ix.At(ix.Len())
	assert.ErrorIs(t, err, hdf5.ErrOutOfBounds)
}

func TestRemoveAndLabels(t *testing.T) {
	_, ix := newIndex(t, 8, 8)
	require.NoError(t, ix.Add(Record{Key: "a", Coords: []int{0, 0}, Shape: []int{4, 4}, Labels: Labels{"x": 1.5}}))
	require.NoError(t, ix.Add(Record{Key: "b", Coords: []int{4, 0}}))

	require.NoError(t, ix.SetLabels("a", Labels{"y": "tumor", "x": nil}))
	rec, err := ix.Get("a")
	require.NoError(t, err)
	assert.Equal(t, Labels{"y": "tumor"}, rec.Labels)
	assert.ErrorIs(t, ix.SetLabels("zz", Labels{"y": 1}), hdf5.ErrNotFound)

	require.NoError(t, ix.Remove("a"))
	assert.ErrorIs(t, ix.Remove("a"), hdf5.ErrNotFound)
	keys, err := ix.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestLegacyRecords(t *testing.T) {
	_, ix := newIndex(t, 512, 512, 3)
	require.NoError(t, ix.SetTileShape([]int{256, 256, 3}))

	tg, err := ix.Group().CreateGroup("(0, 256)")
	require.NoError(t, err)
	require.NoError(t, tg.SetAttr("coords", "(0, 256)"))
	require.NoError(t, tg.SetAttr("labels", []string{"class", "tumor", "grade", "2"}))
	_, err = ix.Group().CreateGroup("(256, 0)")
	require.NoError(t, err)

	rec, err := ix.Get("(0, 256)")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 256}, rec.Coords)
	assert.Equal(t, Labels{"class": "tumor", "grade": "2"}, rec.Labels)

	rec, err = ix.Get("(256, 0)")
	require.NoError(t, err)
	assert.Equal(t, []int{256, 0}, rec.Coords)

	sel, err := ix.Box(rec)
	require.NoError(t, err)
	assert.Equal(t, array.Selection{array.R(256, 512), array.R(0, 256), array.R(0, 3)}, sel)
}

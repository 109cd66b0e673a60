package hdf5

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/dtype"
	"github.com/robert-malhotra/h5path/internal/message"
)

// filledArray returns a uint16 array holding a repeating ramp.
func filledArray(t *testing.T, shape ...int) *array.Array {
	t.Helper()
	a := array.New(array.Uint16, shape...)
	for i := range a.Len() {
		a.SetFlat(i, float64(i%1009))
	}
	return a
}

func TestDatasetFilters(t *testing.T) {
	tests := []struct {
		name    string
		opts    []DatasetOption
		filters []string
	}{
		{"plain", nil, nil},
		{"gzip", []DatasetOption{WithShuffle(), WithCompression(5)}, []string{"shuffle", "deflate"}},
		{"lz4", []DatasetOption{WithLZ4()}, []string{"lz4"}},
		{"zstd", []DatasetOption{WithZstd(3), WithShuffle()}, []string{"shuffle", "zstd"}},
		{"fletcher32", []DatasetOption{WithFletcher32(), WithCompression(1)}, []string{"deflate", "fletcher32"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tempFile(t)
			a := filledArray(t, 40, 50, 3)

			f, err := Create(path)
			require.NoError(t, err)
			opts := append([]DatasetOption{WithChunks(16, 16, 3)}, tt.opts...)
			d, err := f.Root().CreateDatasetFrom("array", a, opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.filters, d.Filters())
			require.NoError(t, f.Close())

			f, err = Open(path)
			require.NoError(t, err)
			defer f.Close()
			d, err = f.Dataset("array")
			require.NoError(t, err)

			assert.Equal(t, []int{40, 50, 3}, d.Shape())
			assert.Equal(t, []int{16, 16, 3}, d.Chunks())
			assert.Equal(t, array.Uint16, d.DType())
			assert.Equal(t, "chunked", d.Layout())
			assert.Equal(t, tt.filters, d.Filters())

			got, err := d.Read()
			require.NoError(t, err)
			assert.True(t, a.Equal(got))

			sel := array.Selection{array.R(10, 35), array.R(-20, array.End), array.At(1)}
			part, err := d.ReadSlice(sel)
			require.NoError(t, err)
			want, err := a.Slice(sel)
			require.NoError(t, err)
			assert.True(t, want.Equal(part))
		})
	}
}

func TestDatasetFillValue(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	d, err := f.Root().CreateDataset("masks/tissue", array.Float32, []int{100, 100},
		WithChunks(32, 32), WithFillValue(7), WithAttribute("kind", "mask"))
	require.NoError(t, err)
	assert.Equal(t, 7.0, d.FillValue())

	stored, err := d.StoredChunks()
	require.NoError(t, err)
	assert.Zero(t, stored)

	patch := array.Full(array.Float32, 1, 10, 10)
	require.NoError(t, d.WriteSlice(array.Box([]int{40, 40}, []int{10, 10}), patch))
	stored, err = d.StoredChunks()
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err = f.Dataset("masks", "tissue")
	require.NoError(t, err)

	kind, err := d.Attr("kind")
	require.NoError(t, err)
	assert.Equal(t, "mask", kind)
	assert.Equal(t, 7.0, d.FillValue())

	got, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, float64(7), got.At(0, 0))
	assert.Equal(t, float64(7), got.At(99, 99))
	assert.Equal(t, float64(1), got.At(40, 40))
	assert.Equal(t, float64(1), got.At(49, 49))
	assert.Equal(t, float64(7), got.At(50, 49))

	stored, err = d.StoredChunks()
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
}

func TestDatasetPartialRewrite(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)
	a := filledArray(t, 30, 30)
	_, err = f.Root().CreateDatasetFrom("img", a, WithChunks(8, 8), WithCompression(5))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenReadWrite(path)
	require.NoError(t, err)
	d, err := f.Dataset("img")
	require.NoError(t, err)

	patch := array.Full(array.Uint16, 999, 5, 13)
	sel := array.Box([]int{3, 6}, []int{5, 13})
	require.NoError(t, d.WriteSlice(sel, patch))
	require.NoError(t, a.SetSlice(sel, patch))

	got, err := d.Read()
	require.NoError(t, err)
	assert.True(t, a.Equal(got), "unflushed writes are visible")
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err = f.Dataset("img")
	require.NoError(t, err)
	got, err = d.Read()
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
}

func TestDatasetSpill(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path, WithCacheSize(1024), WithWorkers(2))
	require.NoError(t, err)

	d, err := f.Root().CreateDataset("img", array.Uint16, []int{64, 64}, WithChunks(8, 8), WithShuffle(), WithLZ4())
	require.NoError(t, err)
	a := filledArray(t, 64, 64)
	for row := 0; row < 64; row += 4 {
		sel := array.Selection{array.R(row, row+4)}
		part, err := a.Slice(sel)
		require.NoError(t, err)
		require.NoError(t, d.WriteSlice(sel, part))
	}
	got, err := d.Read()
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err = f.Dataset("img")
	require.NoError(t, err)
	got, err = d.Read()
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
	stored, err := d.StoredChunks()
	require.NoError(t, err)
	assert.Equal(t, 64, stored)
}

func TestDatasetWriteErrors(t *testing.T) {
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	defer f.Close()

	d, err := f.Root().CreateDataset("img", array.Uint8, []int{10, 10, 3})
	require.NoError(t, err)

	err = d.WriteSlice(array.Selection{array.R(0, 5)}, array.New(array.Uint8, 4, 10, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	err = d.WriteSlice(array.Selection{array.R(8, 12)}, array.New(array.Uint8, 4, 10, 3))
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = d.ReadSlice(array.Selection{array.R(0, 1), array.R(0, 1), array.R(0, 1), array.R(0, 1)})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = f.Root().CreateDataset("img", array.Uint8, []int{1})
	assert.ErrorIs(t, err, ErrExists)
	_, err = f.Root().CreateDataset("bad", array.Uint8, []int{4, 4}, WithChunks(2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.False(t, f.Root().Exists("bad"))
	_, err = f.Root().CreateDataset("neg", array.Uint8, []int{-1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = f.Root().CreateDataset("img/child", array.Uint8, []int{1})
	assert.ErrorIs(t, err, ErrNotGroup)

	_, err = f.Root().CreateDataset("fine", array.Uint8, []int{1 << 20, 1 << 20}, WithChunks(1, 1))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = f.Root().CreateDataset("wide", array.Float64, []int{1 << 30}, WithChunks(1<<30))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, f.Root().Exists("fine"))
}

func TestDatasetCastsValues(t *testing.T) {
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	defer f.Close()

	d, err := f.Root().CreateDataset("labels", array.Uint8, []int{4})
	require.NoError(t, err)
	src, err := array.FromSlice([]float64{0, 1.0, 2.0, 255})
	require.NoError(t, err)
	require.NoError(t, d.Write(src))

	got, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, array.Uint8, got.DType())
	assert.Equal(t, []uint8{0, 1, 2, 255}, array.Values[uint8](got))
}

func TestScalarAndEmptyDatasets(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	s, err := f.Root().CreateDataset("scalar", array.Float64, nil, WithFillValue(3))
	require.NoError(t, err)
	assert.Equal(t, "contiguous", s.Layout())
	v, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Flat(0))
	require.NoError(t, s.Write(array.Full(array.Float64, 2.5)))

	e, err := f.Root().CreateDataset("empty", array.Int32, []int{0, 4})
	require.NoError(t, err)
	require.NoError(t, e.Write(array.New(array.Int32, 0, 4)))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	s, err = f.Dataset("scalar")
	require.NoError(t, err)
	v, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Rank())
	assert.Equal(t, 2.5, v.Flat(0))

	e, err = f.Dataset("empty")
	require.NoError(t, err)
	got, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, got.Shape())
}

// asContiguous switches a freshly created dataset to contiguous storage
// with the given file datatype.
func asContiguous(d *Dataset, ftype *message.Datatype) {
	ds := d.state()
	ds.ftype = ftype
	ds.fill = message.NewFillValue(dtype.ToNative(ftype, ds.fillElem))
	ds.dl = message.NewContiguousLayout(undefinedAddr, uint64(array.NumElements(ds.shape)*ds.elem))
	ds.pipeline, ds.index = nil, nil
}

func TestContiguousBigEndian(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	d, err := f.Root().CreateDataset("be", array.Uint16, []int{6, 7}, WithFillValue(5))
	require.NoError(t, err)
	asContiguous(d, message.NewFixedPoint(2, false, message.OrderBE))

	patch := filledArray(t, 2, 3)
	require.NoError(t, d.WriteSlice(array.Box([]int{1, 2}, []int{2, 3}), patch))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err = f.Dataset("be")
	require.NoError(t, err)
	assert.Equal(t, "contiguous", d.Layout())
	assert.Equal(t, array.Uint16, d.DType())

	got, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, float64(5), got.At(0, 0))
	assert.Equal(t, float64(0), got.At(1, 2))
	assert.Equal(t, float64(5), got.At(2, 4))
	assert.Equal(t, float64(1), got.At(1, 3))

	part, err := d.ReadSlice(array.Box([]int{2, 2}, []int{1, 3}))
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 4, 5}, array.Values[uint16](part))
}

func TestCompactDataset(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	d, err := f.Root().CreateDataset("small", array.Int16, []int{3, 3})
	require.NoError(t, err)
	ds := d.state()
	ds.dl = message.NewCompactLayout(make([]byte, 18))
	ds.pipeline, ds.index = nil, nil

	require.NoError(t, d.WriteSlice(array.Selection{array.At(1)}, array.Full(array.Int16, -4, 1, 3)))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err = f.Dataset("small")
	require.NoError(t, err)
	assert.Equal(t, "compact", d.Layout())
	got, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 0, 0, -4, -4, -4, 0, 0, 0}, array.Values[int16](got))
}

func TestReadCanceled(t *testing.T) {
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Root().CreateDatasetFrom("img", filledArray(t, 32, 32), WithChunks(8, 8))
	require.NoError(t, err)
	require.NoError(t, f.Flush())

	f2, err := Open(f.Path())
	require.NoError(t, err)
	defer f2.Close()
	d, err := f2.Dataset("img")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.ReadSliceContext(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLeadingChunks(t *testing.T) {
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	defer f.Close()

	img, err := f.Root().CreateDataset("img", array.Uint8, []int{100, 80, 3}, WithChunks(10, 10, 3), WithLeadingChunks(32))
	require.NoError(t, err)
	assert.Equal(t, []int{32, 80, 3}, img.Chunks())

	vec, err := f.Root().CreateDataset("vec", array.Float32, []int{20}, WithLeadingChunks(8, 8))
	require.NoError(t, err)
	assert.Equal(t, []int{8}, vec.Chunks())

	// a later WithChunks wins
	m, err := f.Root().CreateDataset("m", array.Uint8, []int{16, 16}, WithLeadingChunks(4), WithChunks(8, 8))
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8}, m.Chunks())
}

package hdf5

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/message"
)

func tempFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.h5")
}

func TestCreateAndReopen(t *testing.T) {
	path := tempFile(t)

	f, err := Create(path)
	require.NoError(t, err)
	assert.Equal(t, ModeCreate, f.Mode())
	assert.Equal(t, "/", f.Root().Name())
	require.NoError(t, f.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	info := f.Info()
	assert.Equal(t, 3, info.SuperblockVersion)
	assert.Equal(t, 8, info.OffsetSize)
	assert.Equal(t, uint64(st.Size()), info.EOFAddress)

	members, err := f.Root().Members()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.h5"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	junk := filepath.Join(dir, "junk.h5")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not hdf5, just some bytes"), 0o644))
	_, err = Open(junk)
	assert.ErrorIs(t, err, ErrNotHDF5)

	existing := filepath.Join(dir, "exists.h5")
	f, err := Create(existing)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = OpenFile(existing, ModeCreateExclusive)
	assert.ErrorIs(t, err, ErrExists)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.Root().CreateGroup("g")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = Open(path, WithMmap())
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Root().CreateGroup("h")
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, f.Root().SetAttr("a", 1), ErrReadOnly)
	assert.NoError(t, f.Flush())
	assert.True(t, f.Root().Exists("g"))
}

func TestCloseIsIdempotent(t *testing.T) {
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	root := f.Root()

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	assert.ErrorIs(t, f.Flush(), ErrClosed)
	_, err = root.Members()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = root.CreateGroup("late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGroups(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)
	root := f.Root()

	g, err := root.CreateGroup("fields/labels")
	require.NoError(t, err)
	assert.Equal(t, "/fields/labels", g.Path())
	assert.Equal(t, "labels", g.Name())
	assert.True(t, root.Exists("fields"))

	_, err = root.CreateGroup("fields", "labels")
	assert.ErrorIs(t, err, ErrExists)

	again, err := root.RequireGroup("fields", "labels")
	require.NoError(t, err)
	assert.Equal(t, g.Path(), again.Path())

	_, err = root.Group("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = root.Group("fields/../x")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = root.CreateGroup("masks")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	members, err := f.Root().Members()
	require.NoError(t, err)
	assert.Equal(t, []string{"fields", "masks"}, members)

	fields, err := f.Group("/fields")
	require.NoError(t, err)
	assert.Equal(t, 1, fields.Len())

	_, err = f.Dataset("fields")
	assert.ErrorIs(t, err, ErrNotDataset)
}

func TestDeleteReusesSpace(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	a := filledArray(t, 64, 64)
	_, err = f.Root().CreateDatasetFrom("big/data", a, WithChunks(16, 16), WithCompression(0))
	require.NoError(t, err)
	require.NoError(t, f.Flush())
	full := f.Info().EOFAddress

	require.NoError(t, f.Root().Delete("big"))
	assert.False(t, f.Root().Exists("big"))
	assert.ErrorIs(t, f.Root().Delete("big"), ErrNotFound)
	require.NoError(t, f.Flush())
	shrunk := f.Info().EOFAddress
	assert.Less(t, shrunk, full)

	_, err = f.Root().CreateDatasetFrom("again", a, WithChunks(16, 16), WithCompression(0))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, st.Size(), int64(full)+4096)

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err := f.Dataset("again")
	require.NoError(t, err)
	got, err := d.Read()
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
}

func TestDeletedHandle(t *testing.T) {
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	defer f.Close()

	g, err := f.Root().CreateGroup("gone")
	require.NoError(t, err)
	require.NoError(t, f.Root().Delete("gone"))

	_, err = g.Members()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.Root().Delete(), ErrInvalidPath)
}

func TestMove(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)
	root := f.Root()

	g, err := root.CreateGroup("a/b")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr("name", "b"))
	a := filledArray(t, 8, 8)
	_, err = root.CreateDatasetFrom("a/data", a, WithChunks(4, 4))
	require.NoError(t, err)

	require.NoError(t, root.Move("a/b", "c"))
	assert.False(t, root.Exists("a/b"))
	assert.Equal(t, "/c", g.Path())

	assert.ErrorIs(t, root.Move("a/b", "d"), ErrNotFound)
	assert.ErrorIs(t, root.Move("a/data", "c"), ErrExists)
	assert.ErrorIs(t, root.Move("c", "c/d"), ErrInvalidPath)
	assert.ErrorIs(t, root.Move("a", "a/b/x"), ErrNotFound)
	require.NoError(t, f.Close())

	f, err = OpenReadWrite(path)
	require.NoError(t, err)
	v, err := f.Root().Group("c")
	require.NoError(t, err)
	name, err := v.Attr("name")
	require.NoError(t, err)
	assert.Equal(t, "b", name)

	// members that were never opened move too
	require.NoError(t, f.Root().Move("a/data", "data"))
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	members, err := f.Root().Members()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "data"}, members)
	d, err := f.Dataset("data")
	require.NoError(t, err)
	got, err := d.Read()
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
}

func TestAttributes(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	g, err := f.Root().CreateGroup("fields")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr("name", "slide-1"))
	require.NoError(t, g.SetAttr("shape", []int64{1024, 2048, 3}))
	require.NoError(t, g.SetAttr("rgb", true))
	require.NoError(t, g.SetAttr("mpp", 0.25))
	require.NoError(t, g.SetAttr("classes", []string{"tumor", "stroma"}))
	require.NoError(t, g.SetAttr("count", 7))
	require.NoError(t, g.SetAttr("count", 8))

	_, err = g.Attr("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, g.SetAttr("", 1), ErrInvalidPath)
	assert.ErrorIs(t, g.SetAttr("big", make([]float64, MaxAttrSize)), ErrUnsupported)
	require.NoError(t, g.SetAttr("tmp", 1))
	require.NoError(t, g.DeleteAttr("tmp"))
	assert.ErrorIs(t, g.DeleteAttr("tmp"), ErrNotFound)
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, err = f.Group("fields")
	require.NoError(t, err)

	names, err := g.AttrNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"classes", "count", "mpp", "name", "rgb", "shape"}, names)

	s, err := g.AttrString("name")
	require.NoError(t, err)
	assert.Equal(t, "slide-1", s)

	shape, err := g.AttrInts("shape")
	require.NoError(t, err)
	assert.Equal(t, []int{1024, 2048, 3}, shape)

	attrs, err := g.Attrs()
	require.NoError(t, err)
	assert.Equal(t, true, attrs["rgb"])
	assert.Equal(t, 0.25, attrs["mpp"])
	assert.Equal(t, []string{"tumor", "stroma"}, attrs["classes"])
	assert.Equal(t, int64(8), attrs["count"])
	assert.True(t, g.HasAttr("rgb"))
	assert.False(t, g.HasAttr("tmp"))

	_, err = g.AttrString("count")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func softLink(name, target string) *message.Link {
	return &message.Link{Name: name, LinkType: message.LinkSoft, SoftPath: target, CharSet: message.CharsetUTF8}
}

func TestSoftLinks(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)

	_, err = f.Root().CreateGroup("target/inner")
	require.NoError(t, err)
	f.root.links["alias"] = &link{msg: softLink("alias", "/target")}
	f.root.links["loop"] = &link{msg: softLink("loop", "/loop")}
	f.root.touch()
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	g, err := f.Root().Group("alias", "inner")
	require.NoError(t, err)
	assert.Equal(t, "/target/inner", g.Path())

	_, err = f.Root().Group("loop")
	assert.ErrorIs(t, err, ErrLinkDepth)
}

func TestDamagedFileFailsCleanly(t *testing.T) {
	path := tempFile(t)
	f, err := Create(path)
	require.NoError(t, err)
	g, err := f.Root().CreateGroup("tiles", "t0")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr("coords", []int64{0, 0, 0}))
	require.NoError(t, g.SetAttr("name", "origin"))
	_, err = f.Root().CreateDatasetFrom("array", array.Full(array.Uint8, 7, 16, 16, 3),
		WithChunks(8, 8, 3), WithCompression(5), WithShuffle())
	require.NoError(t, err)
	_, err = f.Root().CreateDatasetFrom("mask", array.Full(array.Uint8, 1, 16, 16, 3), WithChunks(16, 16, 3))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	damaged := filepath.Join(t.TempDir(), "damaged.h5")
	buf := make([]byte, len(orig))
	for i := range orig {
		copy(buf, orig)
		buf[i] ^= 0xff
		require.NoError(t, os.WriteFile(damaged, buf, 0o644))

		f, err := Open(damaged)
		if err != nil {
			continue
		}
		// every object must either read or fail with an error
		_ = Walk(f.Root(), func(_ string, obj Object, err error) error {
			if err != nil {
				return nil
			}
			_, _ = obj.Attributes()
			if d, ok := obj.(*Dataset); ok {
				first := make(array.Selection, d.Rank())
				for i := range first {
					first[i] = array.At(0)
				}
				_, _ = d.ReadSlice(first)
				_, _ = d.StoredChunks()
			}
			return nil
		})
		require.NoError(t, f.Close(), "byte %d", i)
	}
}

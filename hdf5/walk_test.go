package hdf5

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
)

func TestParseAttrPath(t *testing.T) {
	tests := []struct {
		path       string
		wantObject string
		wantAttr   string
		wantErr    bool
	}{
		{"/@root_attr", "/", "root_attr", false},
		{"/data@units", "/data", "units", false},
		{"/group/dataset@attr", "/group/dataset", "attr", false},
		{"/tiles/(0, 256)@coords", "/tiles/(0, 256)", "coords", false},
		{"data@attr", "/data", "attr", false},
		{"", "", "", true},
		{"/path/no/at", "", "", true},
		{"/path@", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			obj, attr, err := ParseAttrPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantObject, obj)
			assert.Equal(t, tt.wantAttr, attr)
		})
	}
}

func TestJoinAttrPath(t *testing.T) {
	assert.Equal(t, "/@attr", JoinAttrPath("/", "attr"))
	assert.Equal(t, "/data@units", JoinAttrPath("/data", "units"))
	assert.Equal(t, "/group/dataset@calibration", JoinAttrPath("/group/dataset", "calibration"))
}

func TestSplitAndCleanPath(t *testing.T) {
	tests := []struct {
		path  string
		parts []string
		clean string
	}{
		{"/", []string{}, "/"},
		{"/foo", []string{"foo"}, "/foo"},
		{"/foo//bar/", []string{"foo", "bar"}, "/foo/bar"},
		{"foo/bar", []string{"foo", "bar"}, "/foo/bar"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.parts, SplitPath(tt.path))
			assert.Equal(t, tt.clean, CleanPath(tt.path))
		})
	}
}

func TestSplitNames(t *testing.T) {
	names, err := splitNames([]string{"fields/labels", "tumor"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fields", "labels", "tumor"}, names)

	for _, bad := range []string{"..", ".", "a\x00b"} {
		_, err := splitNames([]string{bad})
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func buildTree(t *testing.T) *File {
	t.Helper()
	f, err := Create(tempFile(t))
	require.NoError(t, err)
	root := f.Root()
	require.NoError(t, root.SetAttr("version", "1"))
	g, err := root.CreateGroup("fields/labels")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr("tumor", true))
	d, err := root.CreateDataset("array", array.Uint8, []int{8, 8, 3})
	require.NoError(t, err)
	require.NoError(t, d.SetAttr("units", "px"))
	_, err = root.CreateDataset("masks/tissue", array.Uint8, []int{8, 8, 3})
	require.NoError(t, err)
	return f
}

func TestWalk(t *testing.T) {
	f := buildTree(t)
	defer f.Close()

	var groups, datasets []string
	err := Walk(f.Root(), func(path string, obj Object, err error) error {
		require.NoError(t, err)
		switch obj.(type) {
		case *Group:
			groups = append(groups, path)
		case *Dataset:
			datasets = append(datasets, path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/fields", "/fields/labels", "/masks"}, groups)
	assert.Equal(t, []string{"/array", "/masks/tissue"}, datasets)

	var visited int
	err = Walk(f.Root(), func(string, Object, error) error {
		visited++
		if visited == 2 {
			return ErrStopWalk
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, visited)

	boom := errors.New("boom")
	err = Walk(f.Root(), func(string, Object, error) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWalkAttrs(t *testing.T) {
	f := buildTree(t)
	defer f.Close()

	got := map[string]any{}
	err := f.WalkAttrs(func(info AttrInfo) error {
		require.NoError(t, info.Err)
		got[info.Path] = info.Value
		if info.Name == "units" {
			assert.Equal(t, "dataset", info.ObjectType)
			assert.Equal(t, "/array", info.ObjectPath)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"/@version":            "1",
		"/array@units":         "px",
		"/fields/labels@tumor": true,
	}, got)

	v, err := f.ReadAttr("/fields/labels@tumor")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	_, err = f.GetAttr("/array@missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.GetAttr("/nothing@x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsStopWalk(ErrStopWalk))
}

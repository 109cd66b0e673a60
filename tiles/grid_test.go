package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/hdf5"
)

func TestGrid(t *testing.T) {
	tests := []struct {
		name   string
		bounds []int
		shape  []int
		stride []int
		pad    bool
		want   [][]int
	}{
		{"exact", []int{4, 4, 3}, []int{2, 2}, nil, false, [][]int{{0, 0}, {0, 2}, {2, 0}, {2, 2}}},
		{"drop edge", []int{5, 3}, []int{2, 3}, nil, false, [][]int{{0, 0}, {2, 0}}},
		{"pad edge", []int{5, 3}, []int{2, 3}, nil, true, [][]int{{0, 0}, {2, 0}, {3, 0}}},
		{"overlap", []int{4}, []int{2}, []int{1}, false, [][]int{{0}, {1}, {2}}},
		{"whole", []int{3, 3}, []int{3, 3}, nil, true, [][]int{{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Grid(tt.bounds, tt.shape, tt.stride, tt.pad)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Grid([]int{4, 4}, []int{8, 2}, nil, false)
	assert.ErrorIs(t, err, hdf5.ErrOutOfBounds)
	_, err = Grid([]int{4, 4}, []int{2, 2}, []int{0, 1}, false)
	assert.ErrorIs(t, err, hdf5.ErrShapeMismatch)
	_, err = Grid([]int{4}, []int{2, 2}, nil, false)
	assert.ErrorIs(t, err, hdf5.ErrShapeMismatch)
}

func TestKeyAndParseCoords(t *testing.T) {
	assert.Equal(t, "(0, 256)", Key([]int{0, 256}))
	assert.Equal(t, "(5,)", Key([]int{5}))
	assert.Equal(t, "()", Key(nil))

	for _, c := range [][]int{{0, 256}, {5}, {1, 2, 3}} {
		got, err := ParseCoords(Key(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCoords(" [3, 4] ")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, got)

	for _, bad := range []string{"", "3, 4", "(a, b)", "(1,,2)"} {
		_, err := ParseCoords(bad)
		assert.ErrorIs(t, err, hdf5.ErrCorrupt, bad)
	}
}

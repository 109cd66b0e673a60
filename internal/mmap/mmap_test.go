package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 10, m.Len())
	require.NoError(t, m.Advise(AccessRandom))

	buf := make([]byte, 4)
	n, err := m.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "3456", string(buf))

	n, err = m.ReadAt(buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)

	_, err = m.ReadAt(buf, 10)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	_, err = m.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

package slide

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/hdf5"
)

func TestTranslateError(t *testing.T) {
	kinds := []error{
		ErrNotFound, ErrAlreadyExists, ErrShapeMismatch, ErrOutOfBounds,
		ErrInvalidState, ErrIOFailure, ErrUnsupportedFormat,
	}
	tests := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("group x: %w", hdf5.ErrNotFound), ErrNotFound},
		{hdf5.ErrExists, ErrAlreadyExists},
		{hdf5.ErrClosed, ErrInvalidState},
		{hdf5.ErrReadOnly, ErrInvalidState},
		{hdf5.ErrNotHDF5, ErrUnsupportedFormat},
		{hdf5.ErrUnsupported, ErrUnsupportedFormat},
		{hdf5.ErrInvalidPath, ErrNotFound},
		{fs.ErrNotExist, ErrNotFound},
		{hdf5.ErrCorrupt, ErrIOFailure},
		{fs.ErrPermission, ErrIOFailure},
	}
	for _, tt := range tests {
		t.Run(tt.in.Error(), func(t *testing.T) {
			got := translateError(tt.in)
			assert.ErrorIs(t, got, tt.in)
			for _, k := range kinds {
				assert.Equal(t, k == tt.want, errors.Is(got, k), "kind %v", k)
			}
		})
	}
}

func TestErrorFormat(t *testing.T) {
	err := opError("get_tile", "t0", hdf5.ErrNotFound)
	assert.EqualError(t, err, `slide: get_tile "t0": object not found`)
	assert.Same(t, err, opError("outer", "", err))
	assert.NoError(t, opError("x", "y", nil))

	err = opError("bind", "", fs.ErrPermission)
	assert.EqualError(t, err, "slide: bind: i/o failure: permission denied")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l = l.WithPath("/data/slide.h5path").WithKey("t0")

	l.LogTile(context.Background(), "set_tile", "t0", nil)
	l.LogMask(context.Background(), "set_mask", "tissue", errors.New("disk full"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "set_tile completed", rec["msg"])
	assert.Equal(t, "/data/slide.h5path", rec["path"])
	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "disk full", rec["error"])

	// the default logger is silent
	NoopLogger().LogBind(context.Background(), []int{1}, 0, 0, errors.New("x"))
}

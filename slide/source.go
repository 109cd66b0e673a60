package slide

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
	"github.com/robert-malhotra/h5path/tiles"
)

// Backend decodes a slide file format. A manager uses it only while
// binding: pixels are copied into the container and the backend is not
// touched afterwards.
type Backend interface {
	// LevelDimensions returns the image shape at a pyramid level. Level 0
	// is full resolution.
	LevelDimensions(level int) ([]int, error)
	// Metadata returns format metadata.
	Metadata() map[string]any
	// ReadRegion reads the box at offset of extent size from level.
	ReadRegion(level int, offset, size []int) (*array.Array, error)
}

// SourceOption configures BindSource.
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	level     int
	masks     map[string]*array.Array
	tileShape []int
	tiles     []tiles.Record
}

// FromLevel reads the given pyramid level instead of level 0.
func FromLevel(level int) SourceOption {
	return func(o *sourceOptions) { o.level = level }
}

// WithSourceMasks binds masks along with the backend pixels.
func WithSourceMasks(masks map[string]*array.Array) SourceOption {
	return func(o *sourceOptions) { o.masks = masks }
}

// WithSourceTiles binds tile records along with the backend pixels.
func WithSourceTiles(tileShape []int, recs ...tiles.Record) SourceOption {
	return func(o *sourceOptions) {
		o.tileShape = tileShape
		o.tiles = recs
	}
}

// BindSource is Bind with the array read from src in chunk-aligned strips,
// so the image never has to fit in memory. Backend metadata is kept as
// slide labels unless fields already carries a label of the same name;
// values that cannot be stored as attributes are skipped.
func (m *Manager) BindSource(ctx context.Context, src Backend, fields Fields, opts ...SourceOption) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var o sourceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if m.state != Unbound {
		return &Error{Op: "bind", Err: fmt.Errorf("%w: manager is %s", ErrInvalidState, m.state)}
	}
	if o.level < 0 {
		return &Error{Op: "bind", Err: fmt.Errorf("%w: pyramid level %d", ErrOutOfBounds, o.level)}
	}
	shape, err := src.LevelDimensions(o.level)
	shape = slices.Clone(shape)
	defer func() { m.log.LogBind(ctx, shape, len(o.masks), len(o.tiles), err) }()
	if err != nil {
		return opError("bind", "", fmt.Errorf("level %d: %w", o.level, err))
	}
	if len(shape) == 0 {
		return &Error{Op: "bind", Err: fmt.Errorf("%w: backend has no dimensions", ErrShapeMismatch)}
	}

	fields, tileShape, err := validate(shape, fields, o.masks, o.tileShape, o.tiles)
	if err != nil {
		return opError("bind", "", err)
	}
	labels := maps.Clone(fields.Labels)
	if labels == nil {
		labels = map[string]any{}
	}
	for name, v := range src.Metadata() {
		if _, ok := labels[name]; ok {
			continue
		}
		if err := hdf5.CheckAttr(name, v); err != nil {
			m.log.Debug("skipping backend metadata", "name", name, "error", err)
			continue
		}
		labels[name] = v
	}
	fields.Labels = labels

	fill := func(ctx context.Context, root *hdf5.Group) (*hdf5.Dataset, error) {
		return readSource(ctx, root, src, o.level, shape, m.o.arrayOpts)
	}
	return opError("bind", "", m.build(ctx, fields, fill, o.masks, tileShape, o.tiles))
}

// readSource creates the array dataset and fills it from src one strip of
// chunk rows at a time.
func readSource(ctx context.Context, root *hdf5.Group, src Backend, level int, shape []int, opts []hdf5.DatasetOption) (*hdf5.Dataset, error) {
	dt := array.Uint8
	if array.NumElements(shape) > 0 {
		first, err := src.ReadRegion(level, make([]int, len(shape)), ones(len(shape)))
		if err != nil {
			return nil, fmt.Errorf("reading level %d: %w", level, err)
		}
		dt = first.DType()
	}
	d, err := root.CreateDataset(arrayName, dt, shape, opts...)
	if err != nil {
		return nil, err
	}
	if array.NumElements(shape) == 0 {
		return d, nil
	}

	rows := shape[0]
	if chunks := d.Chunks(); len(chunks) > 0 {
		rows = chunks[0]
	}
	offset := make([]int, len(shape))
	size := slices.Clone(shape)
	for r := 0; r < shape[0]; r += rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset[0] = r
		size[0] = min(rows, shape[0]-r)
		a, err := src.ReadRegion(level, offset, size)
		if err != nil {
			return nil, fmt.Errorf("reading level %d at %v: %w", level, offset, err)
		}
		if !slices.Equal(a.Shape(), size) {
			return nil, fmt.Errorf("%w: backend returned %v for a region of %v", ErrShapeMismatch, a.Shape(), size)
		}
		if err := d.WriteSliceContext(ctx, array.Box(offset, size), a); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

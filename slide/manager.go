// Package slide manages the on-disk container behind a logical slide: the
// full-resolution array, its masks, the tile catalog and slide-level
// fields and labels.
//
// A Manager moves through a fixed lifecycle:
//
//	Unbound --Bind--> BoundTemporary --Write--> BoundPersisted --Close--> Closed
//
// Bind builds a container in a scratch file (or at WithPath), Write copies
// it to its final location, and Close releases every handle and deletes
// the scratch file. Open starts in BoundPersisted on an existing container.
package slide

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
	"github.com/robert-malhotra/h5path/tiles"
)

// Extensions lists the file extensions of h5path containers.
var Extensions = []string{".h5path", ".h5"}

// State is a manager's lifecycle state.
type State int

const (
	Unbound State = iota
	BoundTemporary
	BoundPersisted
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case BoundTemporary:
		return "bound (temporary)"
	case BoundPersisted:
		return "bound (persisted)"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Bound reports whether s has a backing container.
func (s State) Bound() bool { return s == BoundTemporary || s == BoundPersisted }

// Contents is everything Bind writes into a new container.
type Contents struct {
	Fields Fields
	Array  *array.Array
	Masks  map[string]*array.Array
	// TileShape presets the container tile shape; when nil the first tile
	// sets it.
	TileShape []int
	Tiles     []tiles.Record
}

// Manager owns one container file. Its methods lock an internal mutex, but
// callers processing tiles concurrently should still use one manager per
// worker.
type Manager struct {
	mu    sync.Mutex
	o     *options
	log   *Logger
	state State

	f       *hdf5.File
	path    string
	scratch bool
	shape   []int
	arr     *hdf5.Dataset
	tiles   *tiles.Index
}

// New returns an Unbound manager.
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Manager{o: o, log: o.logger}
}

// Open opens the container at path in the BoundPersisted state. With
// ReadOnly the file is memory-mapped and every mutating call fails with
// ErrInvalidState.
func Open(path string, opts ...Option) (*Manager, error) {
	m := New(opts...)
	if err := checkExt(path); err != nil {
		return nil, opError("open", path, err)
	}

	mode := hdf5.ModeReadWrite
	fopts := slices.Clone(m.o.fileOpts)
	if m.o.readOnly {
		mode = hdf5.ModeReadOnly
		fopts = append(fopts, hdf5.WithMmap())
	}
	f, err := hdf5.OpenFile(path, mode, fopts...)
	if err != nil {
		return nil, opError("open", path, err)
	}
	if err := m.attach(f); err != nil {
		f.Close()
		return nil, opError("open", path, err)
	}
	m.path = path
	m.state = BoundPersisted
	m.log = m.log.WithPath(path)
	m.log.Debug("opened container", "shape", m.shape, "read_only", m.o.readOnly)
	return m, nil
}

func checkExt(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(Extensions, ext) {
		return fmt.Errorf("%w: %q is not one of %v", ErrUnsupportedFormat, filepath.Base(path), Extensions)
	}
	return nil
}

// attach loads the array and tile index of an opened file.
func (m *Manager) attach(f *hdf5.File) error {
	arr, err := f.Dataset(arrayName)
	if err != nil {
		if errors.Is(err, hdf5.ErrNotFound) {
			return fmt.Errorf("%w: container has no %s dataset", ErrUnsupportedFormat, arrayName)
		}
		return err
	}
	m.f = f
	m.arr = arr
	m.shape = arr.Shape()

	var tg *hdf5.Group
	switch {
	case f.Root().Exists(tilesGroup):
		tg, err = f.Group(tilesGroup)
	case f.Mode().Writable():
		tg, err = f.Root().RequireGroup(tilesGroup)
	}
	if err != nil {
		return err
	}
	if tg != nil {
		if m.tiles, err = tiles.Open(tg, m.shape); err != nil {
			return err
		}
	}
	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Path returns the backing file, which is a scratch file until Write.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

func (m *Manager) requireBound(op string) error {
	if !m.state.Bound() {
		return &Error{Op: op, Err: fmt.Errorf("%w: manager is %s", ErrInvalidState, m.state)}
	}
	return nil
}

// Bind creates the backing container and fills it with c. Every shape and
// bounds invariant is checked before anything is written; on any failure
// the partially built file is removed and the manager stays Unbound.
func (m *Manager) Bind(ctx context.Context, c Contents) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Unbound {
		return &Error{Op: "bind", Err: fmt.Errorf("%w: manager is %s", ErrInvalidState, m.state)}
	}
	if c.Array == nil {
		return &Error{Op: "bind", Err: fmt.Errorf("%w: no array", ErrShapeMismatch)}
	}
	shape := c.Array.Shape()
	defer func() { m.log.LogBind(ctx, shape, len(c.Masks), len(c.Tiles), err) }()

	fields, tileShape, err := validate(shape, c.Fields, c.Masks, c.TileShape, c.Tiles)
	if err != nil {
		return opError("bind", "", err)
	}
	fill := func(ctx context.Context, root *hdf5.Group) (*hdf5.Dataset, error) {
		d, err := root.CreateDataset(arrayName, c.Array.DType(), shape, m.o.arrayOpts...)
		if err != nil {
			return nil, err
		}
		return d, d.WriteSliceContext(ctx, nil, c.Array)
	}
	return opError("bind", "", m.build(ctx, fields, fill, c.Masks, tileShape, c.Tiles))
}

// validate checks a bind request and returns the fields with their shape
// filled in and the tile shape the tiles settle on.
func validate(shape []int, fields Fields, masks map[string]*array.Array, tileShape []int, recs []tiles.Record) (Fields, []int, error) {
	if fields.Shape == nil {
		fields.Shape = slices.Clone(shape)
	} else if !slices.Equal(fields.Shape, shape) {
		return fields, nil, fmt.Errorf("%w: fields shape %v, array shape %v", ErrShapeMismatch, fields.Shape, shape)
	}
	if err := checkLabels(fields.Labels); err != nil {
		return fields, nil, err
	}
	for name, a := range masks {
		if err := hdf5.CheckName(name); err != nil {
			return fields, nil, fmt.Errorf("mask %q: %w", name, err)
		}
		if a == nil || !slices.Equal(a.Shape(), shape) {
			var got []int
			if a != nil {
				got = a.Shape()
			}
			return fields, nil, fmt.Errorf("%w: mask %q has shape %v, array shape %v", ErrShapeMismatch, name, got, shape)
		}
	}
	tileShape, err := tiles.Validate(shape, tileShape, recs)
	if err != nil {
		return fields, nil, err
	}
	return fields, tileShape, nil
}

type fillFunc func(ctx context.Context, root *hdf5.Group) (*hdf5.Dataset, error)

// build creates the backing file and writes a validated container into it.
func (m *Manager) build(ctx context.Context, fields Fields, fill fillFunc, masks map[string]*array.Array, tileShape []int, recs []tiles.Record) (err error) {
	path, scratch := m.o.path, m.o.path == ""
	if scratch {
		tmp, err := os.CreateTemp(m.o.tempDir, "h5path-*.h5path")
		if err != nil {
			return err
		}
		path = tmp.Name()
		if err := tmp.Close(); err != nil {
			os.Remove(path)
			return err
		}
	} else if err := checkExt(path); err != nil {
		return err
	}

	mode := hdf5.ModeCreateExclusive
	if scratch {
		mode = hdf5.ModeCreate
	}
	f, err := hdf5.OpenFile(path, mode, m.o.fileOpts...)
	if err != nil {
		if scratch {
			os.Remove(path)
		}
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	root := f.Root()
	if err := writeFields(root, fields); err != nil {
		return err
	}
	arr, err := fill(ctx, root)
	if err != nil {
		return err
	}
	mg, err := root.RequireGroup(masksGroup)
	if err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(masks)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := mg.CreateDatasetFrom(name, masks[name], m.o.maskOpts...); err != nil {
			return err
		}
	}

	tg, err := root.RequireGroup(tilesGroup)
	if err != nil {
		return err
	}
	ix, err := tiles.Open(tg, fields.Shape)
	if err != nil {
		return err
	}
	if tileShape != nil {
		if err := ix.SetTileShape(tileShape); err != nil {
			return err
		}
	}
	for _, rec := range recs {
		if err := ix.Add(rec); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Flush(); err != nil {
		return err
	}

	m.f, m.arr, m.tiles = f, arr, ix
	m.path, m.scratch = path, scratch
	m.shape = slices.Clone(fields.Shape)
	m.state = BoundTemporary
	if !scratch {
		m.state = BoundPersisted
	}
	m.log = m.log.WithPath(path)
	return nil
}

// Write flushes the container and copies it to dest through a temporary
// file and an atomic rename. The manager keeps working on its own file, and
// dest is not modified by later calls.
func (m *Manager) Write(ctx context.Context, dest string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("write"); err != nil {
		return err
	}
	defer func() { m.log.LogWrite(ctx, dest, err) }()
	if err := checkExt(dest); err != nil {
		return opError("write", dest, err)
	}
	if err := m.f.CopyTo(ctx, dest, m.o.copyOpts...); err != nil {
		return opError("write", dest, err)
	}
	m.state = BoundPersisted
	return nil
}

// Flush commits pending changes to the backing file.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("flush"); err != nil {
		return err
	}
	return opError("flush", "", m.f.Flush())
}

// Close releases the backing file and deletes it if it is a scratch file.
// Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed {
		return nil
	}
	var err error
	if m.f != nil {
		err = m.f.Close()
	}
	removed := false
	if m.scratch {
		rerr := os.Remove(m.path)
		removed = rerr == nil
		if rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			err = errors.Join(err, rerr)
		}
	}
	m.log.LogClose(context.Background(), removed, err)
	m.state = Closed
	m.f, m.arr, m.tiles = nil, nil, nil
	return opError("close", "", err)
}

// Shape returns the shape of the full-resolution array.
func (m *Manager) Shape() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.shape)
}

// Array returns the full-resolution array dataset.
func (m *Manager) Array() (*hdf5.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("array"); err != nil {
		return nil, err
	}
	return m.arr, nil
}

// ReadRegion reads a region of the full-resolution array.
func (m *Manager) ReadRegion(sel array.Selection) (*array.Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("read_region"); err != nil {
		return nil, err
	}
	a, err := m.arr.ReadSlice(sel)
	return a, opError("read_region", sel.String(), err)
}

// Fields returns the slide-level fields.
func (m *Manager) Fields() (Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("fields"); err != nil {
		return Fields{}, err
	}
	fields, err := readFields(m.f.Root())
	if err != nil {
		return Fields{}, opError("fields", "", err)
	}
	if fields.Shape == nil {
		fields.Shape = slices.Clone(m.shape)
	}
	return fields, nil
}

func (m *Manager) labelsGroup(create bool) (*hdf5.Group, error) {
	if create {
		return m.f.Root().RequireGroup(fieldsGroup, labelsGroup)
	}
	return m.f.Group(fieldsGroup, labelsGroup)
}

// SetLabel sets a slide-level label. A nil value removes it.
func (m *Manager) SetLabel(name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("set_label"); err != nil {
		return err
	}
	if value != nil {
		if err := hdf5.CheckAttr(name, value); err != nil {
			return opError("set_label", name, err)
		}
	}
	g, err := m.labelsGroup(true)
	if err != nil {
		return opError("set_label", name, err)
	}
	if value == nil {
		return opError("set_label", name, g.DeleteAttr(name))
	}
	return opError("set_label", name, g.SetAttr(name, value))
}

// Label returns one slide-level label.
func (m *Manager) Label(name string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("label"); err != nil {
		return nil, err
	}
	g, err := m.labelsGroup(false)
	if err != nil {
		return nil, opError("label", name, err)
	}
	v, err := g.Attr(name)
	return v, opError("label", name, err)
}

// Labels returns every slide-level label.
func (m *Manager) Labels() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("labels"); err != nil {
		return nil, err
	}
	g, err := m.labelsGroup(false)
	if errors.Is(err, hdf5.ErrNotFound) {
		return map[string]any{}, nil
	} else if err != nil {
		return nil, opError("labels", "", err)
	}
	labels, err := g.Attrs()
	return labels, opError("labels", "", err)
}

// Counts returns the counts sub-container. Its contents are owned by the
// caller; the manager only keeps it in the file. On a writable container
// the group is created if missing.
func (m *Manager) Counts() (*hdf5.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("counts"); err != nil {
		return nil, err
	}
	var g *hdf5.Group
	var err error
	if m.f.Mode().Writable() {
		g, err = m.f.Root().RequireGroup(countsGroup)
	} else {
		g, err = m.f.Group(countsGroup)
	}
	return g, opError("counts", "", err)
}

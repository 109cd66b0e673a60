// Package tiles keeps the tile catalog of an h5path container.
//
// Every tile is a group under the container's tiles group holding the
// tile's top-left coordinates, an optional name and a labels group. Tile
// pixels are never stored: they are sliced from the full-resolution array
// and its masks on demand, using the coordinates and the container-wide
// tile_shape attribute.
package tiles

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
)

const (
	shapeAttr   = "tile_shape"
	coordsAttr  = "coords"
	nameAttr    = "name"
	labelsGroup = "labels"

	// stagingKey holds a replacement record while it is written.
	stagingKey = ".staging"
)

// Labels maps label names to attribute values.
type Labels map[string]any

// Record is the stored metadata of one tile.
type Record struct {
	Key    string
	Coords []int
	// Shape is the tile extent. Records returned by the index always carry
	// the container-wide tile shape.
	Shape  []int
	Name   string
	Labels Labels
}

// Patch holds freshly read tile pixels. It never aliases file storage.
type Patch struct {
	Image *array.Array
	Masks map[string]*array.Array
}

// AddOption configures Index.Add.
type AddOption func(*addOptions)

type addOptions struct {
	overwrite bool
}

// Overwrite makes Add replace an existing record of the same key instead of
// failing with hdf5.ErrExists.
func Overwrite() AddOption {
	return func(o *addOptions) { o.overwrite = true }
}

// Index is the tile catalog stored in one group.
type Index struct {
	g      *hdf5.Group
	bounds []int
	shape  []int
}

// Open binds an index to the tiles group g. bounds is the shape of the
// full-resolution array every tile must fit into.
func Open(g *hdf5.Group, bounds []int) (*Index, error) {
	ix := &Index{g: g, bounds: slices.Clone(bounds)}
	if g.HasAttr(shapeAttr) {
		shape, err := g.AttrInts(shapeAttr)
		if err != nil {
			return nil, fmt.Errorf("tiles: reading %s: %w", shapeAttr, err)
		}
		ix.shape = shape
	}
	return ix, nil
}

// Group returns the group backing the index.
func (ix *Index) Group() *hdf5.Group { return ix.g }

// Bounds returns the array shape tiles are checked against.
func (ix *Index) Bounds() []int { return slices.Clone(ix.bounds) }

// TileShape returns the container-wide tile shape, or nil before the first
// tile is added.
func (ix *Index) TileShape() []int { return slices.Clone(ix.shape) }

// SetTileShape sets the container-wide tile shape. It may only change while
// the index is empty.
func (ix *Index) SetTileShape(shape []int) error {
	if err := ix.checkShape(shape); err != nil {
		return err
	}
	if slices.Equal(shape, ix.shape) {
		return nil
	}
	if ix.Len() > 0 {
		return fmt.Errorf("%w: index holds tiles of shape %v, cannot change to %v",
			hdf5.ErrShapeMismatch, ix.shape, shape)
	}
	if err := ix.g.SetAttr(shapeAttr, int64s(shape)); err != nil {
		return err
	}
	ix.shape = slices.Clone(shape)
	return nil
}

func (ix *Index) checkShape(shape []int) error {
	if len(shape) == 0 || len(shape) > len(ix.bounds) {
		return fmt.Errorf("%w: tile shape %v for array of shape %v", hdf5.ErrShapeMismatch, shape, ix.bounds)
	}
	for d, n := range shape {
		if n < 0 || n > ix.bounds[d] {
			return fmt.Errorf("%w: tile shape %v for array of shape %v", hdf5.ErrOutOfBounds, shape, ix.bounds)
		}
	}
	return nil
}

// Len returns the number of tiles.
func (ix *Index) Len() int {
	n := ix.g.Len()
	if ix.g.Exists(stagingKey) {
		n--
	}
	return n
}

// Keys returns the tile keys in sorted order.
func (ix *Index) Keys() ([]string, error) {
	keys, err := ix.g.Members()
	if err != nil {
		return nil, err
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return k == stagingKey })
	slices.Sort(keys)
	return keys, nil
}

// Add records a tile. Coordinates and shape are validated against the array
// bounds and the tile shape before anything is written; the first tile of
// an index without a tile shape sets it.
func (ix *Index) Add(rec Record, opts ...AddOption) error {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := hdf5.CheckName(rec.Key); err != nil {
		return fmt.Errorf("tile key %q: %w", rec.Key, err)
	}
	if rec.Key == stagingKey {
		return fmt.Errorf("%w: tile key %q is reserved", hdf5.ErrInvalidPath, rec.Key)
	}
	shape := rec.Shape
	if len(shape) == 0 {
		shape = ix.shape
	}
	if len(shape) == 0 {
		return fmt.Errorf("%w: tile %q has no shape and no tile shape is set", hdf5.ErrShapeMismatch, rec.Key)
	}
	if ix.shape != nil && !slices.Equal(shape, ix.shape) {
		return fmt.Errorf("%w: tile %q has shape %v, index holds tiles of shape %v",
			hdf5.ErrShapeMismatch, rec.Key, shape, ix.shape)
	}
	if _, _, err := ix.box(rec.Coords, shape); err != nil {
		return fmt.Errorf("tile %q: %w", rec.Key, err)
	}
	if err := checkLabels(rec.Labels); err != nil {
		return fmt.Errorf("tile %q: %w", rec.Key, err)
	}
	exists := ix.g.Exists(rec.Key)
	if exists && !o.overwrite {
		return fmt.Errorf("%w: tile %q", hdf5.ErrExists, rec.Key)
	}

	if ix.shape == nil {
		if err := ix.SetTileShape(shape); err != nil {
			return err
		}
	}
	if !exists {
		if err := ix.write(rec.Key, rec); err != nil {
			return fmt.Errorf("tile %q: %w", rec.Key, errors.Join(err, ix.discard(rec.Key)))
		}
		return nil
	}

	// A replacement is built under stagingKey and renamed over the old
	// record once complete.
	if err := ix.discard(stagingKey); err != nil {
		return fmt.Errorf("tile %q: %w", rec.Key, err)
	}
	if err := ix.write(stagingKey, rec); err != nil {
		return fmt.Errorf("tile %q: %w", rec.Key, errors.Join(err, ix.discard(stagingKey)))
	}
	if err := ix.g.Delete(rec.Key); err != nil {
		return fmt.Errorf("tile %q: %w", rec.Key, errors.Join(err, ix.discard(stagingKey)))
	}
	if err := ix.g.Move(stagingKey, rec.Key); err != nil {
		return fmt.Errorf("tile %q: %w", rec.Key, err)
	}
	return nil
}

// discard deletes the member key if present.
func (ix *Index) discard(key string) error {
	if err := ix.g.Delete(key); err != nil && !errors.Is(err, hdf5.ErrNotFound) {
		return err
	}
	return nil
}

func (ix *Index) write(key string, rec Record) error {
	tg, err := ix.g.CreateGroup(key)
	if err != nil {
		return err
	}
	if err := tg.SetAttr(coordsAttr, int64s(rec.Coords)); err != nil {
		return err
	}
	if rec.Name != "" {
		if err := tg.SetAttr(nameAttr, rec.Name); err != nil {
			return err
		}
	}
	lg, err := tg.CreateGroup(labelsGroup)
	if err != nil {
		return err
	}
	return setLabels(lg, rec.Labels)
}

func checkLabels(labels Labels) error {
	for name, v := range labels {
		if v == nil {
			continue
		}
		if err := hdf5.CheckAttr(name, v); err != nil {
			return fmt.Errorf("label %q: %w", name, err)
		}
	}
	return nil
}

func setLabels(g *hdf5.Group, labels Labels) error {
	for _, name := range slices.Sorted(maps.Keys(labels)) {
		v := labels[name]
		if v == nil {
			if err := g.DeleteAttr(name); err != nil && !errors.Is(err, hdf5.ErrNotFound) {
				return err
			}
			continue
		}
		if err := g.SetAttr(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record stored under key.
func (ix *Index) Get(key string) (*Record, error) {
	tg, err := ix.g.Group(key)
	if err != nil {
		return nil, fmt.Errorf("tile %q: %w", key, err)
	}
	return ix.record(key, tg)
}

// At returns the i-th record in key order.
func (ix *Index) At(i int) (*Record, error) {
	keys, err := ix.Keys()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(keys) {
		return nil, fmt.Errorf("%w: tile index %d, have %d tiles", hdf5.ErrOutOfBounds, i, len(keys))
	}
	return ix.Get(keys[i])
}

func (ix *Index) record(key string, tg *hdf5.Group) (*Record, error) {
	rec := &Record{Key: key, Shape: slices.Clone(ix.shape), Labels: Labels{}}

	coords, err := tg.AttrInts(coordsAttr)
	switch {
	case err == nil:
		rec.Coords = coords
	case errors.Is(err, hdf5.ErrUnsupported):
		s, serr := tg.AttrString(coordsAttr)
		if serr != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
		if rec.Coords, err = ParseCoords(s); err != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
	case errors.Is(err, hdf5.ErrNotFound):
		if rec.Coords, err = ParseCoords(key); err != nil {
			return nil, fmt.Errorf("%w: tile %q has no coords", hdf5.ErrCorrupt, key)
		}
	default:
		return nil, fmt.Errorf("tile %q: %w", key, err)
	}

	if tg.HasAttr(nameAttr) {
		if rec.Name, err = tg.AttrString(nameAttr); err != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
	}

	if tg.Exists(labelsGroup) {
		lg, err := tg.Group(labelsGroup)
		if err != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
		attrs, err := lg.Attrs()
		if err != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
		maps.Copy(rec.Labels, attrs)
	} else if tg.HasAttr(labelsGroup) {
		// older files keep labels as an (n, 2) array of key/value strings
		v, err := tg.Attr(labelsGroup)
		if err != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
		if pairs, ok := v.([]string); ok && len(pairs)%2 == 0 {
			for i := 0; i < len(pairs); i += 2 {
				rec.Labels[pairs[i]] = pairs[i+1]
			}
		}
	}
	return rec, nil
}

// Remove deletes the record stored under key. Pixel data is unaffected.
func (ix *Index) Remove(key string) error {
	if err := ix.g.Delete(key); err != nil {
		return fmt.Errorf("tile %q: %w", key, err)
	}
	return nil
}

// SetLabels merges labels into the labels of the tile key. A nil value
// removes that label.
func (ix *Index) SetLabels(key string, labels Labels) error {
	if err := checkLabels(labels); err != nil {
		return fmt.Errorf("tile %q: %w", key, err)
	}
	tg, err := ix.g.Group(key)
	if err != nil {
		return fmt.Errorf("tile %q: %w", key, err)
	}
	lg, err := tg.RequireGroup(labelsGroup)
	if err != nil {
		return fmt.Errorf("tile %q: %w", key, err)
	}
	return setLabels(lg, labels)
}

// Box returns the array selection covered by rec. A record without a shape
// uses the index tile shape.
func (ix *Index) Box(rec *Record) (array.Selection, error) {
	shape := rec.Shape
	if len(shape) == 0 {
		shape = ix.shape
	}
	start, count, err := ix.box(rec.Coords, shape)
	if err != nil {
		return nil, fmt.Errorf("tile %q: %w", rec.Key, err)
	}
	return array.Box(start, count), nil
}

func (ix *Index) box(coords, shape []int) (start, count []int, err error) {
	return tileBox(ix.bounds, coords, shape)
}

// tileBox expands coords and shape to the rank of bounds. Missing trailing
// coordinates are zero and missing trailing shape axes span the rest of the
// axis.
func tileBox(bounds, coords, shape []int) (start, count []int, err error) {
	rank := len(bounds)
	if len(coords) > rank {
		return nil, nil, fmt.Errorf("%w: coords %v for array of shape %v", hdf5.ErrOutOfBounds, coords, bounds)
	}
	if len(shape) > rank {
		return nil, nil, fmt.Errorf("%w: tile shape %v for array of shape %v", hdf5.ErrShapeMismatch, shape, bounds)
	}
	start = make([]int, rank)
	count = make([]int, rank)
	for d := range rank {
		if d < len(coords) {
			start[d] = coords[d]
		}
		count[d] = bounds[d] - start[d]
		if d < len(shape) {
			count[d] = shape[d]
		}
		if start[d] < 0 || count[d] < 0 || start[d]+count[d] > bounds[d] {
			return nil, nil, fmt.Errorf("%w: tile at %v of shape %v exceeds array of shape %v",
				hdf5.ErrOutOfBounds, coords, shape, bounds)
		}
	}
	return start, count, nil
}

// Validate checks recs as a batch of Adds into an empty index over an array
// of shape bounds, with tileShape preset when non-nil. Duplicate keys are
// rejected. It returns the tile shape the batch settles on.
func Validate(bounds, tileShape []int, recs []Record) ([]int, error) {
	shape := slices.Clone(tileShape)
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if err := hdf5.CheckName(rec.Key); err != nil {
			return nil, fmt.Errorf("tile key %q: %w", rec.Key, err)
		}
		if seen[rec.Key] {
			return nil, fmt.Errorf("%w: tile %q", hdf5.ErrExists, rec.Key)
		}
		seen[rec.Key] = true
		s := rec.Shape
		if len(s) == 0 {
			s = shape
		}
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: tile %q has no shape and no tile shape is set", hdf5.ErrShapeMismatch, rec.Key)
		}
		if shape != nil && !slices.Equal(s, shape) {
			return nil, fmt.Errorf("%w: tile %q has shape %v, other tiles have shape %v",
				hdf5.ErrShapeMismatch, rec.Key, s, shape)
		}
		if _, _, err := tileBox(bounds, rec.Coords, s); err != nil {
			return nil, fmt.Errorf("tile %q: %w", rec.Key, err)
		}
		if err := checkLabels(rec.Labels); err != nil {
			return nil, fmt.Errorf("tile %q: %w", rec.Key, err)
		}
		shape = s
	}
	if shape != nil {
		if _, _, err := tileBox(bounds, nil, shape); err != nil {
			return nil, err
		}
	}
	return slices.Clone(shape), nil
}

// Materialize reads the pixels of tile key from image and every mask.
// image may be nil when only mask patches are wanted.
func (ix *Index) Materialize(key string, image *hdf5.Dataset, masks map[string]*hdf5.Dataset) (*Patch, error) {
	rec, err := ix.Get(key)
	if err != nil {
		return nil, err
	}
	sel, err := ix.Box(rec)
	if err != nil {
		return nil, err
	}
	p := &Patch{Masks: make(map[string]*array.Array, len(masks))}
	if image != nil {
		if p.Image, err = image.ReadSlice(sel); err != nil {
			return nil, fmt.Errorf("tile %q: %w", key, err)
		}
	}
	for name, m := range masks {
		if p.Masks[name], err = m.ReadSlice(sel); err != nil {
			return nil, fmt.Errorf("tile %q mask %q: %w", key, name, err)
		}
	}
	return p, nil
}

func int64s(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

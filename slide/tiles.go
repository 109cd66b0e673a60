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

// Tile is a tile record with its materialized pixels.
type Tile struct {
	tiles.Record
	Image *array.Array
	Masks map[string]*array.Array
}

func (m *Manager) tileIndex(op, key string) (*tiles.Index, error) {
	if err := m.requireBound(op); err != nil {
		return nil, err
	}
	if m.tiles == nil {
		return nil, opError(op, key, fmt.Errorf("%w: container has no %s group", ErrNotFound, tilesGroup))
	}
	return m.tiles, nil
}

// AddTile records a tile. By default a duplicate key fails with
// ErrAlreadyExists; pass tiles.Overwrite() to replace the record.
func (m *Manager) AddTile(rec tiles.Record, opts ...tiles.AddOption) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("add_tile", rec.Key)
	if err != nil {
		return err
	}
	defer func() { m.log.LogTile(context.Background(), "add_tile", rec.Key, err) }()
	return opError("add_tile", rec.Key, ix.Add(rec, opts...))
}

// TileRecord returns the stored record of tile key without reading pixels.
func (m *Manager) TileRecord(key string) (*tiles.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("get_tile", key)
	if err != nil {
		return nil, err
	}
	rec, err := ix.Get(key)
	return rec, opError("get_tile", key, err)
}

// GetTile returns tile key with its pixels read from the array and every
// mask. The pixels are copies and stay valid after Close.
func (m *Manager) GetTile(key string) (*Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("get_tile", key)
	if err != nil {
		return nil, err
	}
	t, err := m.materialize(ix, key)
	return t, opError("get_tile", key, err)
}

// TileAt returns the i-th tile in key order with its pixels.
func (m *Manager) TileAt(i int) (*Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("get_tile", "")
	if err != nil {
		return nil, err
	}
	rec, err := ix.At(i)
	if err != nil {
		return nil, opError("get_tile", fmt.Sprint(i), err)
	}
	t, err := m.materialize(ix, rec.Key)
	return t, opError("get_tile", rec.Key, err)
}

func (m *Manager) materialize(ix *tiles.Index, key string) (*Tile, error) {
	masks, err := m.maskSets()
	if err != nil {
		return nil, err
	}
	rec, err := ix.Get(key)
	if err != nil {
		return nil, err
	}
	p, err := ix.Materialize(key, m.arr, masks)
	if err != nil {
		return nil, err
	}
	return &Tile{Record: *rec, Image: p.Image, Masks: p.Masks}, nil
}

// SetTile writes a processed tile back: image into the array and each entry
// of masks into the mask of that name, at the tile's recorded position,
// then merges labels into the tile's labels. Any of the three may be nil.
// Every patch must have the tile's shape; nothing is written otherwise.
func (m *Manager) SetTile(key string, image *array.Array, masks map[string]*array.Array, labels tiles.Labels) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("set_tile", key)
	if err != nil {
		return err
	}
	defer func() { m.log.LogTile(context.Background(), "set_tile", key, err) }()

	rec, err := ix.Get(key)
	if err != nil {
		return opError("set_tile", key, err)
	}
	sel, err := ix.Box(rec)
	if err != nil {
		return opError("set_tile", key, err)
	}
	_, count, err := sel.Resolve(m.shape)
	if err != nil {
		return opError("set_tile", key, err)
	}

	if image != nil && !slices.Equal(image.Shape(), count) {
		return opError("set_tile", key, fmt.Errorf("%w: image patch has shape %v, tile is %v", ErrShapeMismatch, image.Shape(), count))
	}
	all, err := m.maskSets()
	if err != nil {
		return opError("set_tile", key, err)
	}
	for name, p := range masks {
		if _, ok := all[name]; !ok {
			return opError("set_tile", key, fmt.Errorf("%w: mask %q", ErrNotFound, name))
		}
		if p == nil || !slices.Equal(p.Shape(), count) {
			return opError("set_tile", key, fmt.Errorf("%w: mask %q patch does not match tile shape %v", ErrShapeMismatch, name, count))
		}
	}
	for name, v := range labels {
		if v == nil {
			continue
		}
		if err := hdf5.CheckAttr(name, v); err != nil {
			return opError("set_tile", key, err)
		}
	}

	if image != nil {
		if err := m.arr.WriteSlice(sel, image); err != nil {
			return opError("set_tile", key, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(masks)) {
		if err := all[name].WriteSlice(sel, masks[name]); err != nil {
			return opError("set_tile", key, err)
		}
	}
	if len(labels) > 0 {
		return opError("set_tile", key, ix.SetLabels(key, labels))
	}
	return nil
}

// RemoveTile deletes the record of tile key. Pixels are unaffected.
func (m *Manager) RemoveTile(key string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("remove_tile", key)
	if err != nil {
		return err
	}
	defer func() { m.log.LogTile(context.Background(), "remove_tile", key, err) }()
	return opError("remove_tile", key, ix.Remove(key))
}

// TileKeys returns the tile keys in sorted order.
func (m *Manager) TileKeys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("tile_keys"); err != nil {
		return nil, err
	}
	if m.tiles == nil {
		return []string{}, nil
	}
	keys, err := m.tiles.Keys()
	return keys, opError("tile_keys", "", err)
}

// SliceTiles returns every tile in key order with its image and masks cut
// down to sel, taken relative to the tile.
func (m *Manager) SliceTiles(sel array.Selection) ([]*Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("slice_tiles"); err != nil {
		return nil, err
	}
	if m.tiles == nil {
		return []*Tile{}, nil
	}
	keys, err := m.tiles.Keys()
	if err != nil {
		return nil, opError("slice_tiles", "", err)
	}
	out := make([]*Tile, 0, len(keys))
	for _, key := range keys {
		t, err := m.materialize(m.tiles, key)
		if err != nil {
			return nil, opError("slice_tiles", key, err)
		}
		if t.Image, err = t.Image.Slice(sel); err != nil {
			return nil, opError("slice_tiles", key, err)
		}
		for name, mk := range t.Masks {
			if t.Masks[name], err = mk.Slice(sel); err != nil {
				return nil, opError("slice_tiles", key, err)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// TileCount returns the number of tiles.
func (m *Manager) TileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Bound() || m.tiles == nil {
		return 0
	}
	return m.tiles.Len()
}

// TileShape returns the container tile shape, or nil if none is set.
func (m *Manager) TileShape() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Bound() || m.tiles == nil {
		return nil
	}
	return m.tiles.TileShape()
}

// GenerateTiles records a grid of tiles of tileShape over the array, keyed
// by their coordinates as "(i, j)". See tiles.Grid for stride and pad. It
// fails without adding anything if any generated key already exists.
func (m *Manager) GenerateTiles(tileShape, stride []int, pad bool) (keys []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, err := m.tileIndex("generate_tiles", "")
	if err != nil {
		return nil, err
	}
	defer func() { m.log.LogTile(context.Background(), "generate_tiles", fmt.Sprint(tileShape), err) }()

	coords, err := tiles.Grid(m.shape, tileShape, stride, pad)
	if err != nil {
		return nil, opError("generate_tiles", "", err)
	}
	if cur := ix.TileShape(); cur != nil && ix.Len() > 0 && !slices.Equal(cur, tileShape) {
		return nil, opError("generate_tiles", "", fmt.Errorf("%w: container holds tiles of shape %v", ErrShapeMismatch, cur))
	}
	recs := make([]tiles.Record, len(coords))
	keys = make([]string, len(coords))
	for i, c := range coords {
		keys[i] = tiles.Key(c)
		recs[i] = tiles.Record{Key: keys[i], Coords: c}
		if ix.Group().Exists(keys[i]) {
			return nil, opError("generate_tiles", keys[i], fmt.Errorf("%w: tile %q", ErrAlreadyExists, keys[i]))
		}
	}
	if _, err := tiles.Validate(m.shape, tileShape, recs); err != nil {
		return nil, opError("generate_tiles", "", err)
	}

	if err := ix.SetTileShape(tileShape); err != nil {
		return nil, opError("generate_tiles", "", err)
	}
	for _, rec := range recs {
		if err := ix.Add(rec); err != nil {
			return nil, opError("generate_tiles", rec.Key, err)
		}
	}
	return keys, nil
}

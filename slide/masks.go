package slide

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
)

// MaskNames returns the mask names in sorted order.
func (m *Manager) MaskNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("mask_names"); err != nil {
		return nil, err
	}
	g, err := m.f.Group(masksGroup)
	if errors.Is(err, hdf5.ErrNotFound) {
		return []string{}, nil
	} else if err != nil {
		return nil, opError("mask_names", "", err)
	}
	names, err := g.Members()
	return names, opError("mask_names", "", err)
}

// GetMask reads the whole mask name.
func (m *Manager) GetMask(name string) (*array.Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("get_mask"); err != nil {
		return nil, err
	}
	d, err := m.f.Dataset(masksGroup, name)
	if err != nil {
		return nil, opError("get_mask", name, err)
	}
	a, err := d.Read()
	return a, opError("get_mask", name, err)
}

// GetMaskRegion reads a region of mask name.
func (m *Manager) GetMaskRegion(name string, sel array.Selection) (*array.Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("get_mask"); err != nil {
		return nil, err
	}
	d, err := m.f.Dataset(masksGroup, name)
	if err != nil {
		return nil, opError("get_mask", name, err)
	}
	a, err := d.ReadSlice(sel)
	return a, opError("get_mask", name, err)
}

// MaskAt returns the i-th mask in name order.
func (m *Manager) MaskAt(i int) (string, *array.Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("get_mask"); err != nil {
		return "", nil, err
	}
	sets, err := m.maskSets()
	if err != nil {
		return "", nil, opError("get_mask", "", err)
	}
	names := slices.Sorted(maps.Keys(sets))
	if i < 0 || i >= len(names) {
		return "", nil, opError("get_mask", "", fmt.Errorf("%w: mask index %d, have %d masks", ErrOutOfBounds, i, len(names)))
	}
	a, err := sets[names[i]].Read()
	return names[i], a, opError("get_mask", names[i], err)
}

// SliceMasks reads the region sel of every mask.
func (m *Manager) SliceMasks(sel array.Selection) (map[string]*array.Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("slice_masks"); err != nil {
		return nil, err
	}
	sets, err := m.maskSets()
	if err != nil {
		return nil, opError("slice_masks", "", err)
	}
	out := make(map[string]*array.Array, len(sets))
	for name, d := range sets {
		if out[name], err = d.ReadSlice(sel); err != nil {
			return nil, opError("slice_masks", name, err)
		}
	}
	return out, nil
}

// SetMask stores a under name. The mask must have the array's shape; an
// existing mask is overwritten in place. On a shape mismatch nothing is
// written and any existing mask of that name is left intact.
func (m *Manager) SetMask(name string, a *array.Array) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("set_mask"); err != nil {
		return err
	}
	defer func() { m.log.LogMask(context.Background(), "set_mask", name, err) }()

	if err := hdf5.CheckName(name); err != nil {
		return opError("set_mask", name, err)
	}
	if a == nil || !slices.Equal(a.Shape(), m.shape) {
		var got []int
		if a != nil {
			got = a.Shape()
		}
		return opError("set_mask", name, fmt.Errorf("%w: mask has shape %v, array shape %v", ErrShapeMismatch, got, m.shape))
	}

	d, err := m.f.Dataset(masksGroup, name)
	switch {
	case err == nil:
		return opError("set_mask", name, d.Write(a))
	case errors.Is(err, hdf5.ErrNotFound):
		mg, err := m.f.Root().RequireGroup(masksGroup)
		if err != nil {
			return opError("set_mask", name, err)
		}
		_, err = mg.CreateDatasetFrom(name, a, m.o.maskOpts...)
		return opError("set_mask", name, err)
	}
	return opError("set_mask", name, err)
}

// RemoveMask deletes mask name.
func (m *Manager) RemoveMask(name string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBound("remove_mask"); err != nil {
		return err
	}
	defer func() { m.log.LogMask(context.Background(), "remove_mask", name, err) }()

	g, err := m.f.Group(masksGroup)
	if err != nil {
		return opError("remove_mask", name, err)
	}
	if _, err := g.Dataset(name); err != nil {
		return opError("remove_mask", name, err)
	}
	return opError("remove_mask", name, g.Delete(name))
}

// maskSets returns every mask dataset by name.
func (m *Manager) maskSets() (map[string]*hdf5.Dataset, error) {
	out := map[string]*hdf5.Dataset{}
	g, err := m.f.Group(masksGroup)
	if errors.Is(err, hdf5.ErrNotFound) {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	names, err := g.Members()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if out[name], err = g.Dataset(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

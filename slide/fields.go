package slide

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/robert-malhotra/h5path/hdf5"
)

const (
	fieldsGroup    = "fields"
	slideTypeGroup = "slide_type"
	labelsGroup    = "labels"
	arrayName      = "array"
	masksGroup     = "masks"
	tilesGroup     = "tiles"
	countsGroup    = "counts"
)

// SlideType describes the kind of slide. It replaces a class hierarchy of
// slide types with plain flags.
type SlideType struct {
	Stain      string // "HE", "IHC", "Fluor", or empty
	TMA        bool
	RGB        bool
	Volumetric bool
	TimeSeries bool
}

// Fields is the slide-level metadata stored under fields/.
type Fields struct {
	Name      string
	Shape     []int
	SlideType SlideType
	Labels    map[string]any
}

func (st SlideType) attrs() map[string]any {
	return map[string]any{
		"tma":         st.TMA,
		"rgb":         st.RGB,
		"volumetric":  st.Volumetric,
		"time_series": st.TimeSeries,
	}
}

func checkLabels(labels map[string]any) error {
	for name, v := range labels {
		if err := hdf5.CheckAttr(name, v); err != nil {
			return fmt.Errorf("label %q: %w", name, err)
		}
	}
	return nil
}

func writeFields(root *hdf5.Group, fields Fields) error {
	g, err := root.RequireGroup(fieldsGroup)
	if err != nil {
		return err
	}
	if err := g.SetAttr("name", fields.Name); err != nil {
		return err
	}
	shape := make([]int64, len(fields.Shape))
	for i, n := range fields.Shape {
		shape[i] = int64(n)
	}
	if err := g.SetAttr("shape", shape); err != nil {
		return err
	}

	st, err := g.RequireGroup(slideTypeGroup)
	if err != nil {
		return err
	}
	if fields.SlideType.Stain != "" {
		if err := st.SetAttr("stain", fields.SlideType.Stain); err != nil {
			return err
		}
	}
	flags := fields.SlideType.attrs()
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if err := st.SetAttr(name, flags[name]); err != nil {
			return err
		}
	}

	lg, err := g.RequireGroup(labelsGroup)
	if err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(fields.Labels)) {
		if err := lg.SetAttr(name, fields.Labels[name]); err != nil {
			return err
		}
	}
	return nil
}

// readFields reads fields/. Missing entries are left zero, since older
// containers omit some of them.
func readFields(root *hdf5.Group) (Fields, error) {
	var fields Fields
	g, err := root.Group(fieldsGroup)
	if errors.Is(err, hdf5.ErrNotFound) {
		return fields, nil
	} else if err != nil {
		return fields, err
	}
	if g.HasAttr("name") {
		if fields.Name, err = g.AttrString("name"); err != nil {
			return fields, err
		}
	}
	if g.HasAttr("shape") {
		if fields.Shape, err = g.AttrInts("shape"); err != nil {
			return fields, err
		}
	}

	if g.Exists(slideTypeGroup) {
		st, err := g.Group(slideTypeGroup)
		if err != nil {
			return fields, err
		}
		attrs, err := st.Attrs()
		if err != nil {
			return fields, err
		}
		fields.SlideType.Stain, _ = attrs["stain"].(string)
		fields.SlideType.TMA, _ = attrs["tma"].(bool)
		fields.SlideType.RGB, _ = attrs["rgb"].(bool)
		fields.SlideType.Volumetric, _ = attrs["volumetric"].(bool)
		fields.SlideType.TimeSeries, _ = attrs["time_series"].(bool)
	}

	fields.Labels = map[string]any{}
	if g.Exists(labelsGroup) {
		lg, err := g.Group(labelsGroup)
		if err != nil {
			return fields, err
		}
		if fields.Labels, err = lg.Attrs(); err != nil {
			return fields, err
		}
	}
	return fields, nil
}

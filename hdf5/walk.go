package hdf5

import "errors"

// WalkFunc is called for each object during traversal.
// path is the full path to the object.
// obj is either *Group or *Dataset.
// err is any error encountered opening the object; obj is nil then.
// Return nil to continue walking, ErrStopWalk to stop quietly, or any other
// error to stop and have Walk return it.
type WalkFunc func(path string, obj Object, err error) error

// Walk traverses all objects (groups and datasets) below g in name order,
// starting with g itself. Groups reached through more than one link are
// visited once.
//
// Example:
//
//	Walk(root, func(path string, obj Object, err error) error {
//	    if err != nil {
//	        return err // or skip: return nil
//	    }
//	    switch o := obj.(type) {
//	    case *Group:
//	        fmt.Println("Group:", path)
//	    case *Dataset:
//	        fmt.Println("Dataset:", path, "shape:", o.Shape())
//	    }
//	    return nil
//	})
func Walk(g *Group, fn WalkFunc) error {
	err := walkGroup(g, g.Path(), fn, make(map[*node]bool))
	if IsStopWalk(err) {
		return nil
	}
	return err
}

func walkGroup(g *Group, p string, fn WalkFunc, seen map[*node]bool) error {
	seen[g.n] = true
	if err := fn(p, g, nil); err != nil {
		return err
	}
	members, err := g.Members()
	if err != nil {
		return err
	}
	for _, name := range members {
		childPath := JoinPath(p, name)
		obj, err := g.Get(name)
		if err != nil {
			if err := fn(childPath, nil, err); err != nil {
				return err
			}
			continue
		}
		switch o := obj.(type) {
		case *Group:
			if seen[o.n] {
				continue
			}
			if err := walkGroup(o, childPath, fn, seen); err != nil {
				return err
			}
		case *Dataset:
			if err := fn(childPath, o, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// AttrInfo contains information about an attribute during walking.
type AttrInfo struct {
	// Path is the full attribute path (e.g., "/group/dataset@attr")
	Path string

	// ObjectPath is the path to the object containing this attribute
	ObjectPath string

	// ObjectType is "group" or "dataset"
	ObjectType string

	// Name is the attribute name
	Name string

	// Attr provides access to the full attribute for detailed reading
	Attr *Attribute

	// Value contains the decoded attribute value (nil on read error)
	Value any

	// Err contains any error from decoding the attribute value
	Err error
}

// WalkAttrsFunc is the callback function type for WalkAttrs.
type WalkAttrsFunc func(info AttrInfo) error

// WalkAttrs calls fn for every attribute of every group and dataset in the
// file. Objects that cannot be opened are skipped.
//
// Example:
//
//	f.WalkAttrs(func(info hdf5.AttrInfo) error {
//	    fmt.Printf("%s = %v\n", info.Path, info.Value)
//	    return nil
//	})
func (f *File) WalkAttrs(fn WalkAttrsFunc) error {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return Walk(f.Root(), func(p string, obj Object, err error) error {
		if err != nil {
			return nil
		}
		typ := "group"
		if _, ok := obj.(*Dataset); ok {
			typ = "dataset"
		}
		attrs, err := obj.Attributes()
		if err != nil {
			return err
		}
		for _, a := range attrs {
			info := AttrInfo{
				Path:       JoinAttrPath(p, a.Name()),
				ObjectPath: p,
				ObjectType: typ,
				Name:       a.Name(),
				Attr:       a,
			}
			info.Value, info.Err = a.Value()
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}

// ErrStopWalk can be returned from a walk callback to stop walking without
// an error.
var ErrStopWalk = errors.New("walk stopped")

// IsStopWalk reports whether err is ErrStopWalk.
func IsStopWalk(err error) bool {
	return errors.Is(err, ErrStopWalk)
}

package hdf5

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robert-malhotra/h5path/internal/dtype"
	"github.com/robert-malhotra/h5path/internal/message"
)

// MaxAttrSize is the largest attribute payload accepted. Array data larger
// than this belongs in a dataset.
const MaxAttrSize = 60 << 10

// Attribute represents an HDF5 attribute.
type Attribute struct {
	msg *message.Attribute
	dec dtype.Decoder
}

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.msg.Name }

// Shape returns the attribute dimensions; empty for scalars.
func (a *Attribute) Shape() []int { return a.msg.Dataspace.Shape() }

// IsScalar returns true if the attribute is a scalar.
func (a *Attribute) IsScalar() bool { return a.msg.Dataspace.IsScalar() }

// Class returns the HDF5 datatype class of the attribute.
func (a *Attribute) Class() message.DatatypeClass { return a.msg.Datatype.Class }

// Value decodes the attribute. Scalars come back as Go scalars (string,
// bool, int64, float64, ...), 1-D attributes as slices and higher ranks as
// *array.Array.
func (a *Attribute) Value() (any, error) {
	v, err := a.dec.Decode(a.msg.Datatype, a.msg.Dataspace, a.msg.Data)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", a.msg.Name, convertErr(err))
	}
	return v, nil
}

func (f *File) decoder() dtype.Decoder {
	return dtype.Decoder{Config: f.cfg, Heap: f.heap}
}

// convertErr maps internal errors onto this package's sentinels.
func convertErr(err error) error {
	if errors.Is(err, dtype.ErrUnsupported) {
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return err
}

func (n *node) attr(name string) (int, *message.Attribute) {
	for i, a := range n.attrs {
		if a.Name == name {
			return i, a
		}
	}
	return -1, nil
}

// setAttr encodes value and stores it under name, replacing any attribute
// of that name.
func (n *node) setAttr(name string, value any) error {
	msg, err := encodeAttr(name, value)
	if err != nil {
		return fmt.Errorf("%s: %w", n.path(), err)
	}
	if i, _ := n.attr(name); i >= 0 {
		n.attrs[i] = msg
	} else {
		n.attrs = append(n.attrs, msg)
	}
	n.touch()
	return nil
}

func encodeAttr(name string, value any) (*message.Attribute, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty attribute name", ErrInvalidPath)
	}
	dt, ds, data, err := dtype.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, convertErr(err))
	}
	if len(data) > MaxAttrSize {
		return nil, fmt.Errorf("%w: attribute %q is %d bytes; store it as a dataset",
			ErrUnsupported, name, len(data))
	}
	return message.NewAttribute(name, dt, ds, data), nil
}

// CheckAttr reports whether SetAttr would accept value under name, without
// touching any file.
func CheckAttr(name string, value any) error {
	_, err := encodeAttr(name, value)
	return err
}

// SetAttr creates or replaces the attribute name. Values may be strings,
// bools, integers, floats, slices of those, or a small *array.Array.
func (h handle) SetAttr(name string, value any) error {
	f := h.n.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := h.n.check(true); err != nil {
		return err
	}
	return h.n.setAttr(name, value)
}

// Attr returns the decoded value of attribute name.
func (h handle) Attr(name string) (any, error) {
	a, err := h.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.Value()
}

// Attribute returns the attribute name without decoding it.
func (h handle) Attribute(name string) (*Attribute, error) {
	f := h.n.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := h.n.check(false); err != nil {
		return nil, err
	}
	_, msg := h.n.attr(name)
	if msg == nil {
		return nil, fmt.Errorf("%w: attribute %s", ErrNotFound, JoinAttrPath(h.n.path(), name))
	}
	return &Attribute{msg: msg, dec: f.decoder()}, nil
}

// Attributes returns all attributes in name order.
func (h handle) Attributes() ([]*Attribute, error) {
	f := h.n.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := h.n.check(false); err != nil {
		return nil, err
	}
	out := make([]*Attribute, 0, len(h.n.attrs))
	for _, msg := range h.n.attrs {
		out = append(out, &Attribute{msg: msg, dec: f.decoder()})
	}
	slices.SortFunc(out, func(a, b *Attribute) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// AttrNames returns the attribute names in name order.
func (h handle) AttrNames() ([]string, error) {
	f := h.n.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := h.n.check(false); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(h.n.attrs))
	for _, a := range h.n.attrs {
		names = append(names, a.Name)
	}
	slices.Sort(names)
	return names, nil
}

// HasAttr reports whether attribute name exists.
func (h handle) HasAttr(name string) bool {
	f := h.n.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	if h.n.check(false) != nil {
		return false
	}
	i, _ := h.n.attr(name)
	return i >= 0
}

// DeleteAttr removes attribute name.
func (h handle) DeleteAttr(name string) error {
	f := h.n.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := h.n.check(true); err != nil {
		return err
	}
	i, _ := h.n.attr(name)
	if i < 0 {
		return fmt.Errorf("%w: attribute %s", ErrNotFound, JoinAttrPath(h.n.path(), name))
	}
	h.n.attrs = slices.Delete(h.n.attrs, i, i+1)
	h.n.touch()
	return nil
}

// Attrs decodes every attribute into a map.
func (h handle) Attrs() (map[string]any, error) {
	attrs, err := h.Attributes()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(attrs))
	for _, a := range attrs {
		v, err := a.Value()
		if err != nil {
			return nil, err
		}
		out[a.Name()] = v
	}
	return out, nil
}

// AttrInts returns an integer attribute, scalar or 1-D, as []int.
func (h handle) AttrInts(name string) ([]int, error) {
	v, err := h.Attr(name)
	if err != nil {
		return nil, err
	}
	ints, ok := dtype.ToInts(v)
	if !ok {
		return nil, fmt.Errorf("%w: attribute %q holds %T, not integers", ErrUnsupported, name, v)
	}
	return ints, nil
}

// AttrString returns a scalar string attribute.
func (h handle) AttrString(name string) (string, error) {
	v, err := h.Attr(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: attribute %q holds %T, not a string", ErrUnsupported, name, v)
	}
	return s, nil
}

// GetAttr returns the attribute at an attribute path such as
// "/fields@name".
func (f *File) GetAttr(attrPath string) (*Attribute, error) {
	objPath, name, err := ParseAttrPath(attrPath)
	if err != nil {
		return nil, err
	}
	obj, err := f.Root().Get(objPath)
	if err != nil {
		return nil, err
	}
	switch o := obj.(type) {
	case *Group:
		return o.Attribute(name)
	case *Dataset:
		return o.Attribute(name)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, attrPath)
}

// ReadAttr decodes the attribute at an attribute path.
func (f *File) ReadAttr(attrPath string) (any, error) {
	a, err := f.GetAttr(attrPath)
	if err != nil {
		return nil, err
	}
	return a.Value()
}

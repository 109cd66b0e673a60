package hdf5

import (
	"fmt"
	"slices"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/message"
)

// handle is the part of Group and Dataset that names an object.
type handle struct {
	n *node
}

// Name returns the object name (last component of its path).
func (h handle) Name() string {
	h.n.f.mu.RLock()
	defer h.n.f.mu.RUnlock()
	if h.n.parent == nil {
		return "/"
	}
	return h.n.name
}

// Path returns the full path to this object.
func (h handle) Path() string {
	h.n.f.mu.RLock()
	defer h.n.f.mu.RUnlock()
	return h.n.path()
}

// File returns the file holding this object.
func (h handle) File() *File { return h.n.f }

// Object is implemented by *Group and *Dataset.
type Object interface {
	Name() string
	Path() string
	File() *File
	Attr(name string) (any, error)
	SetAttr(name string, value any) error
	AttrNames() ([]string, error)
	Attributes() ([]*Attribute, error)
}

// Group represents an HDF5 group.
type Group struct {
	handle
}

func newGroup(n *node) *Group { return &Group{handle{n}} }

// lookup resolves path below g. The caller holds the file lock.
func (g *Group) lookup(path []string) (*node, error) {
	if err := g.n.check(false); err != nil {
		return nil, err
	}
	names, err := splitNames(path)
	if err != nil {
		return nil, err
	}
	return g.n.walk(names, 0)
}

// Get returns the group or dataset at path.
func (g *Group) Get(path ...string) (Object, error) {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := g.lookup(path)
	if err != nil {
		return nil, err
	}
	if n.kind == kindDataset {
		return newDataset(n), nil
	}
	return newGroup(n), nil
}

// Group returns the subgroup at path. Each element may itself contain "/"
// separators. With no path, g itself is returned.
func (g *Group) Group(path ...string) (*Group, error) {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := g.lookup(path)
	if err != nil {
		return nil, err
	}
	if n.kind != kindGroup {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, n.path())
	}
	return newGroup(n), nil
}

// Dataset returns the dataset at path.
func (g *Group) Dataset(path ...string) (*Dataset, error) {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := g.lookup(path)
	if err != nil {
		return nil, err
	}
	if n.kind != kindDataset {
		return nil, fmt.Errorf("%w: %s", ErrNotDataset, n.path())
	}
	return newDataset(n), nil
}

// Exists reports whether path names an object below g.
func (g *Group) Exists(path ...string) bool {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := g.lookup(path)
	return err == nil
}

// Members returns the names of the members of g in name order.
func (g *Group) Members() ([]string, error) {
	f := g.n.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := g.n.check(false); err != nil {
		return nil, err
	}
	return g.n.members(), nil
}

// Len returns the number of members of g.
func (g *Group) Len() int {
	f := g.n.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(g.n.links)
}

// CreateGroup creates the group at path, creating missing intermediate
// groups. It fails with ErrExists if the final group already exists.
func (g *Group) CreateGroup(path ...string) (*Group, error) {
	return g.createGroup(path, false)
}

// RequireGroup returns the group at path, creating it and any missing
// intermediate groups.
func (g *Group) RequireGroup(path ...string) (*Group, error) {
	return g.createGroup(path, true)
}

func (g *Group) createGroup(path []string, exist bool) (*Group, error) {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := g.n.check(true); err != nil {
		return nil, err
	}
	names, err := splitNames(path)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty group path", ErrInvalidPath)
	}
	parent, err := g.n.require(names[:len(names)-1])
	if err != nil {
		return nil, err
	}

	last := names[len(names)-1]
	if _, ok := parent.links[last]; ok {
		if !exist {
			return nil, fmt.Errorf("%w: %s", ErrExists, JoinPath(parent.path(), last))
		}
		c, err := parent.child(last, 0)
		if err != nil {
			return nil, err
		}
		if c.kind != kindGroup {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, c.path())
		}
		return newGroup(c), nil
	}
	c := f.newNode(parent, last, kindGroup)
	parent.attach(last, c)
	return newGroup(c), nil
}

// require walks names from n, creating missing groups.
func (n *node) require(names []string) (*node, error) {
	cur := n
	for _, name := range names {
		if _, ok := cur.links[name]; !ok {
			c := n.f.newNode(cur, name, kindGroup)
			cur.attach(name, c)
			cur = c
			continue
		}
		c, err := cur.child(name, 0)
		if err != nil {
			return nil, err
		}
		if c.kind != kindGroup {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, c.path())
		}
		cur = c
	}
	return cur, nil
}

// Delete removes the object at path and everything below it. Its file
// space is reused after the next flush.
func (g *Group) Delete(path ...string) error {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := g.n.check(true); err != nil {
		return err
	}
	names, err := splitNames(path)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: cannot delete %s through itself", ErrInvalidPath, g.n.path())
	}
	parent, err := g.n.walk(names[:len(names)-1], 0)
	if err != nil {
		return err
	}
	if parent.kind != kindGroup {
		return fmt.Errorf("%w: %s", ErrNotGroup, parent.path())
	}
	return parent.detach(names[len(names)-1])
}

// Move renames the member at src to dst. Both paths are relative to g; the
// parent of dst must exist and dst must not. A group cannot be moved below
// itself.
func (g *Group) Move(src, dst string) error {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := g.n.check(true); err != nil {
		return err
	}
	sp, sname, err := g.n.parentOf(src)
	if err != nil {
		return err
	}
	dp, dname, err := g.n.parentOf(dst)
	if err != nil {
		return err
	}
	l, ok := sp.links[sname]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, JoinPath(sp.path(), sname))
	}
	if _, ok := dp.links[dname]; ok {
		return fmt.Errorf("%w: %s", ErrExists, JoinPath(dp.path(), dname))
	}
	if l.msg.LinkType == message.LinkHard && l.node == nil {
		if l.node, err = f.loadNode(sp, sname, l.msg.Address); err != nil {
			return err
		}
	}
	if c := l.node; c != nil {
		for x := dp; x != nil; x = x.parent {
			if x == c {
				return fmt.Errorf("%w: cannot move %s below itself", ErrInvalidPath, c.path())
			}
		}
		c.parent, c.name = dp, dname
	}

	msg := *l.msg
	msg.Name = dname
	delete(sp.links, sname)
	sp.touch()
	dp.links[dname] = &link{msg: &msg, node: l.node}
	dp.touch()
	return nil
}

// parentOf resolves the group holding the last component of path.
func (n *node) parentOf(path string) (*node, string, error) {
	names, err := splitNames([]string{path})
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parent, err := n.walk(names[:len(names)-1], 0)
	if err != nil {
		return nil, "", err
	}
	if parent.kind != kindGroup {
		return nil, "", fmt.Errorf("%w: %s", ErrNotGroup, parent.path())
	}
	return parent, names[len(names)-1], nil
}

// CreateDataset creates a dataset of dtype dt and the given shape. name may
// contain "/" separators; missing intermediate groups are created. Chunks
// that are never written read back as the fill value.
func (g *Group) CreateDataset(name string, dt array.DType, shape []int, opts ...DatasetOption) (*Dataset, error) {
	f := g.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := g.n.check(true); err != nil {
		return nil, err
	}
	names, err := splitNames([]string{name})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty dataset name", ErrInvalidPath)
	}
	if !dt.Valid() {
		return nil, fmt.Errorf("creating dataset %s: %w", name, array.ErrDType)
	}
	if slices.ContainsFunc(shape, func(d int) bool { return d < 0 }) {
		return nil, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
	}

	o := defaultDatasetOptions()
	for _, opt := range opts {
		opt(o)
	}

	last := names[len(names)-1]
	n := f.newNode(nil, last, kindDataset)
	if n.ds, err = newDatasetState(n, dt, shape, o); err != nil {
		return nil, fmt.Errorf("creating dataset %s: %w", name, err)
	}
	for _, a := range o.attributes {
		if err := n.setAttr(a.name, a.value); err != nil {
			return nil, err
		}
	}

	parent, err := g.n.require(names[:len(names)-1])
	if err != nil {
		return nil, err
	}
	if _, ok := parent.links[last]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, JoinPath(parent.path(), last))
	}
	parent.attach(last, n)
	return newDataset(n), nil
}

// CreateDatasetFrom creates a dataset holding a copy of a.
func (g *Group) CreateDatasetFrom(name string, a *array.Array, opts ...DatasetOption) (*Dataset, error) {
	d, err := g.CreateDataset(name, a.DType(), a.Shape(), opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Write(a); err != nil {
		return nil, err
	}
	return d, nil
}

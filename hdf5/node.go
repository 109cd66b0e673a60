package hdf5

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/robert-malhotra/h5path/internal/btree"
	"github.com/robert-malhotra/h5path/internal/message"
	"github.com/robert-malhotra/h5path/internal/object"
)

const undefinedAddr = ^uint64(0)

type nodeKind uint8

const (
	kindGroup nodeKind = iota + 1
	kindDataset
)

// link is one group member. node is set once the member has been opened.
type link struct {
	msg  *message.Link
	node *node
}

// node is the in-memory copy of one object header. Modified nodes are
// marked dirty together with all their ancestors; a commit rewrites dirty
// headers bottom-up into fresh space.
type node struct {
	f      *File
	parent *node
	name   string
	kind   nodeKind

	addr  uint64
	spans []object.Span

	// shared nodes are reachable through more than one hard link, so their
	// old headers are never released.
	shared  bool
	dirty   bool
	deleted bool

	attrs []*message.Attribute
	extra []message.Message

	links map[string]*link // groups
	ds    *dataset         // datasets
}

func (f *File) newNode(parent *node, name string, kind nodeKind) *node {
	n := &node{f: f, parent: parent, name: name, kind: kind, addr: undefinedAddr}
	if kind == kindGroup {
		n.links = make(map[string]*link)
	}
	return n
}

// loadNode reads the object header at addr. Objects already in memory are
// returned as is.
func (f *File) loadNode(parent *node, name string, addr uint64) (*node, error) {
	if n, ok := f.nodes[addr]; ok {
		n.shared = n.shared || n.parent != parent
		return n, nil
	}
	h, err := object.Read(f.reader, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if h.HasDenseAttributes(f.cfg.OffsetSize) {
		return nil, fmt.Errorf("%w: dense attribute storage", ErrUnsupported)
	}

	n := &node{
		f:      f,
		parent: parent,
		name:   name,
		addr:   addr,
		spans:  h.Spans,
		shared: h.RefCount > 1,
		attrs:  h.Attributes(),
		extra:  extraMessages(h),
	}
	switch {
	case h.IsDataset():
		n.kind = kindDataset
		if n.ds, err = openDataset(n, h); err != nil {
			return nil, err
		}
	case h.IsGroup():
		n.kind = kindGroup
		if err := n.loadLinks(h); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: object at 0x%x is neither a group nor a dataset", ErrUnsupported, addr)
	}
	f.nodes[addr] = n
	return n, nil
}

// loadLinks reads the members of a group, from link messages or from an
// old-style symbol table.
func (n *node) loadLinks(h *object.Header) error {
	n.links = make(map[string]*link)
	if h.HasDenseLinks() {
		return fmt.Errorf("%w: dense link storage", ErrUnsupported)
	}
	if st := h.SymbolTable(); st != nil {
		syms, err := btree.ReadGroup(n.f.reader, st.BTreeAddress, st.LocalHeapAddress)
		if err != nil {
			return fmt.Errorf("%w: symbol table: %w", ErrCorrupt, err)
		}
		for _, s := range syms {
			m := message.NewHardLink(s.Name, s.Address)
			if s.SoftPath != "" {
				m = &message.Link{Name: s.Name, LinkType: message.LinkSoft, SoftPath: s.SoftPath, CharSet: message.CharsetUTF8}
			}
			n.links[s.Name] = &link{msg: m}
		}
	}
	for _, l := range h.Links() {
		n.links[l.Name] = &link{msg: l}
	}
	return nil
}

// extraMessages returns the messages of h that are carried through a
// rewrite unchanged.
func extraMessages(h *object.Header) []message.Message {
	var out []message.Message
	for _, m := range h.Messages {
		switch m.Type() {
		case message.TypeNIL, message.TypeObjectHeaderContinuation, message.TypeSymbolTable,
			message.TypeLinkInfo, message.TypeGroupInfo, message.TypeLink, message.TypeAttributeInfo,
			message.TypeDataspace, message.TypeDatatype, message.TypeFillValue,
			message.TypeDataLayout, message.TypeFilterPipeline:
			continue
		case message.TypeAttribute:
			if _, ok := m.(*message.Attribute); ok {
				continue
			}
		}
		if _, ok := m.(message.Serializable); ok {
			out = append(out, m)
		}
	}
	return out
}

func (n *node) path() string {
	if n.parent == nil {
		return "/"
	}
	return JoinPath(n.parent.path(), n.name)
}

// touch marks n and its ancestors as needing a rewrite.
func (n *node) touch() {
	for x := n; x != nil && !x.dirty; x = x.parent {
		x.dirty = true
	}
}

// check reports whether n can serve an operation.
func (n *node) check(write bool) error {
	if err := n.f.check(write); err != nil {
		return err
	}
	if n.deleted {
		return fmt.Errorf("%w: %s was deleted", ErrNotFound, n.path())
	}
	return nil
}

// child opens the member name of group n, following soft links.
func (n *node) child(name string, depth int) (*node, error) {
	if n.kind != kindGroup {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, n.path())
	}
	l, ok := n.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, JoinPath(n.path(), name))
	}
	if l.node != nil {
		return l.node, nil
	}

	switch l.msg.LinkType {
	case message.LinkHard:
		c, err := n.f.loadNode(n, name, l.msg.Address)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", JoinPath(n.path(), name), err)
		}
		l.node = c
		return c, nil
	case message.LinkSoft:
		if depth >= MaxLinkDepth {
			return nil, fmt.Errorf("%w: %s", ErrLinkDepth, JoinPath(n.path(), name))
		}
		start := n
		if strings.HasPrefix(l.msg.SoftPath, "/") {
			start = n.f.root
		}
		return start.walk(SplitPath(l.msg.SoftPath), depth+1)
	}
	return nil, fmt.Errorf("%w: external link %s", ErrUnsupported, JoinPath(n.path(), name))
}

// walk follows names from n.
func (n *node) walk(names []string, depth int) (*node, error) {
	cur := n
	for _, name := range names {
		c, err := cur.child(name, depth)
		if err != nil {
			return nil, err
		}
		cur = c
	}
	return cur, nil
}

// members returns the member names of group n in name order.
func (n *node) members() []string {
	names := make([]string, 0, len(n.links))
	for name := range n.links {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// attach adds c to group n under name.
func (n *node) attach(name string, c *node) {
	c.parent, c.name = n, name
	n.links[name] = &link{msg: message.NewHardLink(name, c.addr), node: c}
	c.dirty = true
	n.touch()
}

// detach removes member name from group n and releases the space of the
// subtree it roots.
func (n *node) detach(name string) error {
	l, ok := n.links[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, JoinPath(n.path(), name))
	}
	if l.msg.LinkType == message.LinkHard {
		c := l.node
		if c == nil {
			var err error
			if c, err = n.f.loadNode(n, name, l.msg.Address); err != nil {
				n.f.log.Warn("deleting unreadable object", "path", JoinPath(n.path(), name), "error", err)
			}
		}
		if c != nil && c.parent == n && !c.shared {
			c.release()
		}
	}
	delete(n.links, name)
	n.touch()
	return nil
}

// release frees the file space of the subtree rooted at n.
func (n *node) release() {
	switch n.kind {
	case kindGroup:
		for name, l := range n.links {
			if l.msg.LinkType != message.LinkHard {
				continue
			}
			c := l.node
			if c == nil {
				var err error
				if c, err = n.f.loadNode(n, name, l.msg.Address); err != nil {
					continue
				}
			}
			if c.parent == n && !c.shared {
				c.release()
			}
		}
	case kindDataset:
		n.ds.release()
	}
	if n.f.allocator != nil {
		for _, s := range n.spans {
			n.f.allocator.Free(s.Addr, s.Size)
		}
	}
	if n.addr != undefinedAddr {
		delete(n.f.nodes, n.addr)
	}
	n.spans = nil
	n.deleted = true
}

// messages returns the header messages of n as they are written.
func (n *node) messages() []message.Message {
	var msgs []message.Message
	switch n.kind {
	case kindGroup:
		links := make([]*message.Link, 0, len(n.links))
		for _, name := range n.members() {
			l := n.links[name]
			m := *l.msg
			m.HasCreationOrder, m.CreationOrder = false, 0
			if l.node != nil && m.LinkType == message.LinkHard {
				m.Address = l.node.addr
			}
			links = append(links, &m)
		}
		msgs = object.GroupMessages(links)
	case kindDataset:
		msgs = n.ds.messages()
	}
	msgs = append(msgs, n.extra...)
	for _, a := range n.attrs {
		msgs = append(msgs, a)
	}
	return msgs
}

// writeNode rewrites n and every dirty node below it into fresh space.
func (f *File) writeNode(ctx context.Context, n *node) error {
	if !n.dirty {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch n.kind {
	case kindGroup:
		for _, l := range n.links {
			if c := l.node; c != nil && c.dirty && c.parent == n {
				if err := f.writeNode(ctx, c); err != nil {
					return err
				}
			}
		}
	case kindDataset:
		if err := n.ds.flush(ctx); err != nil {
			return fmt.Errorf("%s: %w", n.path(), err)
		}
	}

	raw, err := object.Encode(f.cfg, n.messages())
	if err != nil {
		return fmt.Errorf("encoding %s: %w", n.path(), err)
	}
	addr := f.allocator.AllocTagged(uint64(len(raw)), "ohdr "+n.path())
	if _, err := f.data.WriteAt(raw, int64(addr)); err != nil {
		return fmt.Errorf("writing %s: %w", n.path(), err)
	}
	if !n.shared {
		for _, s := range n.spans {
			f.allocator.Free(s.Addr, s.Size)
		}
	}
	if n.addr != undefinedAddr {
		delete(f.nodes, n.addr)
	}
	n.addr = addr
	n.spans = []object.Span{{Addr: addr, Size: uint64(len(raw))}}
	n.dirty = false
	f.nodes[addr] = n
	return nil
}

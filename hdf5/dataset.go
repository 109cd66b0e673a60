package hdf5

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/dtype"
	"github.com/robert-malhotra/h5path/internal/filter"
	"github.com/robert-malhotra/h5path/internal/layout"
	"github.com/robert-malhotra/h5path/internal/message"
	"github.com/robert-malhotra/h5path/internal/object"
)

// maxChunkBytes is the largest chunk HDF5 can index.
const maxChunkBytes = 1<<32 - 1

// maxChunks bounds the chunk count of a dataset read from a file.
const maxChunks = 1 << 24

// dataset is the storage state of a dataset node.
type dataset struct {
	n *node

	space    *message.Dataspace
	ftype    *message.Datatype
	fill     *message.FillValue
	dl       *message.DataLayout
	pipeline *message.FilterPipeline

	dt       array.DType
	shape    []int
	elem     int
	filters  *filter.Pipeline
	fillElem []byte // one element, little-endian

	// err is set when the data cannot be accessed; metadata still can.
	err error

	grid       layout.Grid
	chunkBytes int
	index      *layout.Index
	indexDirty bool

	// decoded chunks, little-endian
	cache  map[int][]byte
	cached int
	dirty  *roaring.Bitmap
}

// newDatasetState lays out a new dataset.
func newDatasetState(n *node, dt array.DType, shape []int, o *datasetOptions) (*dataset, error) {
	ftype, err := dtype.FromArray(dt)
	if err != nil {
		return nil, convertErr(err)
	}
	d := &dataset{
		n:        n,
		ftype:    ftype,
		dt:       dt,
		shape:    slices.Clone(shape),
		elem:     dt.Size(),
		fillElem: make([]byte, dt.Size()),
		cache:    make(map[int][]byte),
		dirty:    roaring.New(),
	}
	if len(shape) == 0 {
		d.space = message.NewScalarDataspace()
	} else {
		d.space = message.NewSimpleDataspace(shape)
	}
	var fill []byte
	if o.fill != nil {
		d.fillElem = array.Full(dt, *o.fill).Bytes()
		fill = bytes.Clone(d.fillElem)
	}
	d.fill = message.NewFillValue(fill)

	total := array.NumElements(shape)
	if len(shape) == 0 || total == 0 {
		d.dl = message.NewContiguousLayout(undefinedAddr, uint64(total*d.elem))
		d.filters, _ = filter.NewPipeline(nil, d.elem)
		return d, nil
	}

	chunks := o.chunks
	switch {
	case o.leadingChunks != nil:
		chunks = slices.Clone(shape)
		for i := range min(len(chunks), len(o.leadingChunks)) {
			chunks[i] = o.leadingChunks[i]
		}
	case chunks == nil:
		chunks = layout.GuessChunks(shape, d.elem)
	}
	if len(chunks) != len(shape) {
		return nil, fmt.Errorf("%w: chunk shape %v for dataset shape %v", ErrShapeMismatch, chunks, shape)
	}
	if slices.ContainsFunc(chunks, func(c int) bool { return c <= 0 }) {
		return nil, fmt.Errorf("%w: chunk shape %v", ErrShapeMismatch, chunks)
	}
	chunks = layout.ClampChunks(chunks, shape)
	if err := checkGrid(shape, chunks, d.elem); err != nil {
		return nil, err
	}

	var infos []message.Filter
	if o.shuffle {
		infos = append(infos, filter.ShuffleInfo(d.elem))
	}
	if o.compressionLvl >= 0 {
		infos = append(infos, filter.DeflateInfo(o.compressionLvl))
	}
	if o.lz4 {
		infos = append(infos, filter.LZ4Info())
	}
	if o.zstdLvl > 0 {
		infos = append(infos, filter.ZstdInfo(o.zstdLvl))
	}
	if o.fletcher32 {
		infos = append(infos, filter.Fletcher32Info())
	}
	if len(infos) > 0 {
		d.pipeline = &message.FilterPipeline{Version: 2, Filters: infos}
	}
	if d.filters, err = filter.NewPipeline(d.pipeline, d.elem); err != nil {
		return nil, err
	}

	d.grid = layout.NewGrid(d.shape, chunks)
	d.chunkBytes = d.grid.ChunkElems() * d.elem
	d.dl = message.NewChunkedLayout(chunks, d.elem, message.IndexFixedArray, layout.PageBits(d.grid.NumChunks()))
	d.index = &layout.Index{Entries: layout.Empty(d.grid.NumChunks())}
	return d, nil
}

// openDataset reads the storage state of a dataset header.
func openDataset(n *node, h *object.Header) (*dataset, error) {
	space, ftype, dl := h.Dataspace(), h.Datatype(), h.Layout()
	if space == nil || ftype == nil || dl == nil {
		return nil, fmt.Errorf("%w: dataset without dataspace, datatype or layout", ErrCorrupt)
	}
	d := &dataset{
		n:        n,
		space:    space,
		ftype:    ftype,
		fill:     h.FillValue(),
		dl:       dl,
		pipeline: h.FilterPipeline(),
		shape:    space.Shape(),
		elem:     int(ftype.Size),
		cache:    make(map[int][]byte),
		dirty:    roaring.New(),
	}
	if space.SpaceType == message.DataspaceNull {
		d.err = fmt.Errorf("%w: null dataspace", ErrUnsupported)
	}

	var err error
	if d.dt, err = dtype.ToArray(ftype); err != nil {
		d.err = convertErr(err)
	} else if d.dt.Size() != d.elem {
		d.err = fmt.Errorf("%w: %d-byte %s elements", ErrUnsupported, d.elem, d.dt)
	}
	if d.filters, err = filter.NewPipeline(d.pipeline, d.elem); err != nil {
		d.err = fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	d.fillElem = make([]byte, d.elem)
	if fv := d.fill; fv != nil && fv.Defined && len(fv.Value) == d.elem {
		copy(d.fillElem, dtype.ToNative(ftype, fv.Value))
	}

	switch dl.Class {
	case message.LayoutChunked:
		if len(dl.ChunkDims) != len(d.shape) {
			return nil, fmt.Errorf("%w: chunk rank %d for dataset rank %d", ErrCorrupt, len(dl.ChunkDims), len(d.shape))
		}
		chunks := make([]int, len(dl.ChunkDims))
		for i, c := range dl.ChunkDims {
			if c == 0 {
				return nil, fmt.Errorf("%w: zero chunk dimension", ErrCorrupt)
			}
			chunks[i] = int(c)
		}
		if err := checkGrid(d.shape, chunks, d.elem); err != nil {
			d.err = err
			break
		}
		d.grid = layout.NewGrid(d.shape, chunks)
		d.chunkBytes = d.grid.ChunkElems() * d.elem
	case message.LayoutContiguous, message.LayoutCompact:
	default:
		d.err = fmt.Errorf("%w: layout class %d", ErrUnsupported, dl.Class)
	}
	return d, nil
}

// checkGrid rejects chunk grids whose chunk size HDF5 cannot index or whose
// chunk count is too large to keep an in-memory index for.
func checkGrid(shape, chunks []int, elem int) error {
	size, count := max(elem, 1), 1
	for i, c := range chunks {
		if c > maxChunkBytes/size {
			return fmt.Errorf("%w: chunk shape %v exceeds 4 GiB", ErrUnsupported, chunks)
		}
		size *= c
		if shape[i] < 0 {
			return fmt.Errorf("%w: dataset shape %v", ErrCorrupt, shape)
		}
		n := shape[i] / c
		if shape[i]%c != 0 {
			n++
		}
		n = max(n, 1)
		if count > maxChunks/n {
			return fmt.Errorf("%w: chunk grid of shape %v over %v is too large", ErrUnsupported, chunks, shape)
		}
		count *= n
	}
	return nil
}

// messages returns the storage messages of the dataset header.
func (d *dataset) messages() []message.Message {
	msgs := []message.Message{d.space, d.ftype}
	if d.fill != nil {
		msgs = append(msgs, d.fill)
	}
	msgs = append(msgs, d.dl)
	if d.pipeline != nil && len(d.pipeline.Filters) > 0 {
		msgs = append(msgs, d.pipeline)
	}
	return msgs
}

func (d *dataset) filtered() bool {
	return d.pipeline != nil && len(d.pipeline.Filters) > 0
}

// ensureIndex reads the chunk index on first use.
func (d *dataset) ensureIndex() error {
	if d.index != nil {
		return nil
	}
	idx, err := layout.ReadIndex(d.n.f.reader, d.dl, d.grid, d.chunkBytes)
	if err != nil {
		if errors.Is(err, layout.ErrUnsupportedIndex) {
			return fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return fmt.Errorf("%w: chunk index: %w", ErrCorrupt, err)
	}
	d.index = idx
	return nil
}

// readChunk reads and decodes one stored chunk.
func (d *dataset) readChunk(e layout.Entry) ([]byte, error) {
	raw, err := d.n.f.reader.At(int64(e.Addr)).ReadBytes(int(e.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk at 0x%x: %w", ErrCorrupt, e.Addr, err)
	}
	out, err := d.filters.Decode(raw, e.Mask)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk at 0x%x: %w", ErrCorrupt, e.Addr, err)
	}
	if len(out) < d.chunkBytes {
		return nil, fmt.Errorf("%w: chunk at 0x%x decoded to %d bytes, want %d", ErrCorrupt, e.Addr, len(out), d.chunkBytes)
	}
	return dtype.ToNative(d.ftype, out[:d.chunkBytes]), nil
}

// fillChunk returns a chunk holding only the fill value.
func (d *dataset) fillChunk() []byte {
	buf := make([]byte, d.chunkBytes)
	if !isZero(d.fillElem) {
		layout.Fill(buf, d.fillElem)
	}
	return buf
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// fetch returns chunks ids, decoding the ones not cached concurrently.
// Chunks without storage come back nil. Decoded chunks are cached while
// the cache has room.
func (d *dataset) fetch(ctx context.Context, ids []int, skip func(i int) bool) ([][]byte, error) {
	if err := d.ensureIndex(); err != nil {
		return nil, err
	}
	bufs := make([][]byte, len(ids))
	var load []int
	for i, id := range ids {
		if b, ok := d.cache[id]; ok {
			bufs[i] = b
			continue
		}
		if d.index.Entries[id].Stored() && (skip == nil || !skip(i)) {
			load = append(load, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.n.f.opts.workers)
	for _, i := range load {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := d.readChunk(d.index.Entries[ids[i]])
			bufs[i] = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, i := range load {
		if d.cached+d.chunkBytes > d.n.f.opts.cacheSize {
			break
		}
		d.cache[ids[i]] = bufs[i]
		d.cached += d.chunkBytes
	}
	return bufs, nil
}

// read copies the box (start, count) into dst.
func (d *dataset) read(ctx context.Context, dst []byte, start, count []int) error {
	switch d.dl.Class {
	case message.LayoutCompact:
		src := dtype.ToNative(d.ftype, d.dl.CompactData)
		if len(src) < array.NumElements(d.shape)*d.elem {
			return fmt.Errorf("%w: compact data holds %d bytes", ErrCorrupt, len(src))
		}
		layout.CopyRegion(dst, count, make([]int, len(count)), src, d.shape, start, count, d.elem)
		return nil
	case message.LayoutContiguous:
		return d.readContiguous(dst, start, count)
	}

	ids := d.grid.Overlapping(start, count)
	bufs, err := d.fetch(ctx, ids, nil)
	if err != nil {
		return err
	}
	var fill []byte
	for i, id := range ids {
		b := bufs[i]
		if b == nil {
			if isZero(d.fillElem) {
				continue
			}
			if fill == nil {
				fill = d.fillChunk()
			}
			b = fill
		}
		inChunk, inBox, extent := d.grid.Intersect(d.grid.Origin(id), start, count)
		layout.CopyRegion(dst, count, inBox, b, d.grid.Chunk, inChunk, extent, d.elem)
	}
	return nil
}

// readContiguous reads the box row by row straight from the file.
func (d *dataset) readContiguous(dst []byte, start, count []int) error {
	if d.dl.Address == undefinedAddr || d.n.f.reader.IsUndefinedOffset(d.dl.Address) {
		if !isZero(d.fillElem) {
			layout.Fill(dst, d.fillElem)
		}
		return nil
	}
	rowBytes := d.rowBytes(count)
	pos := 0
	err := d.rows(start, count, func(fileOff int64) error {
		b, err := d.n.f.reader.At(int64(d.dl.Address) + fileOff).ReadBytes(rowBytes)
		if err != nil {
			return fmt.Errorf("%w: contiguous data: %w", ErrCorrupt, err)
		}
		copy(dst[pos:], b)
		pos += rowBytes
		return nil
	})
	if err != nil {
		return err
	}
	copy(dst, dtype.ToNative(d.ftype, dst))
	return nil
}

func (d *dataset) rowBytes(count []int) int {
	if len(count) == 0 {
		return d.elem
	}
	return count[len(count)-1] * d.elem
}

// rows calls fn with the offset, relative to the start of the data, of
// each innermost row of the box (start, count) in row-major order.
func (d *dataset) rows(start, count []int, fn func(off int64) error) error {
	rank := len(d.shape)
	if rank == 0 {
		return fn(0)
	}
	stride := make([]int, rank)
	s := d.elem
	for k := rank - 1; k >= 0; k-- {
		stride[k] = s
		s *= d.shape[k]
	}
	idx := make([]int, rank)
	for {
		off := 0
		for k := range rank {
			off += (start[k] + idx[k]) * stride[k]
		}
		if err := fn(int64(off)); err != nil {
			return err
		}
		k := rank - 2
		for ; k >= 0; k-- {
			if idx[k]+1 < count[k] {
				idx[k]++
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return nil
		}
	}
}

// release frees the storage of a deleted dataset.
func (d *dataset) release() {
	f := d.n.f
	if f.allocator == nil {
		return
	}
	switch d.dl.Class {
	case message.LayoutChunked:
		if d.ensureIndex() != nil {
			break
		}
		for _, e := range d.index.Entries {
			if e.Stored() {
				f.allocator.Free(e.Addr, e.Size)
			}
		}
		for _, b := range d.index.Blocks {
			f.allocator.Free(b.Addr, b.Size)
		}
	case message.LayoutContiguous:
		if d.dl.Address != undefinedAddr && !f.reader.IsUndefinedOffset(d.dl.Address) {
			f.allocator.Free(d.dl.Address, d.dl.Size)
		}
	}
	d.cache, d.cached = nil, 0
	d.dirty.Clear()
}

// Dataset represents an HDF5 dataset.
type Dataset struct {
	handle
}

func newDataset(n *node) *Dataset { return &Dataset{handle{n}} }

func (d *Dataset) state() *dataset { return d.n.ds }

// Shape returns the dataset dimensions.
func (d *Dataset) Shape() []int {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	return slices.Clone(d.state().shape)
}

// Rank returns the number of dimensions.
func (d *Dataset) Rank() int {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	return len(d.state().shape)
}

// NumElements returns the number of elements.
func (d *Dataset) NumElements() int {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	return array.NumElements(d.state().shape)
}

// DType returns the element type; array.Invalid for datatypes that do not
// map onto an array type.
func (d *Dataset) DType() array.DType {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	return d.state().dt
}

// Chunks returns the chunk shape, or nil if the dataset is not chunked.
func (d *Dataset) Chunks() []int {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	if !d.state().dl.IsChunked() {
		return nil
	}
	return slices.Clone(d.state().grid.Chunk)
}

// Layout returns "chunked", "contiguous" or "compact".
func (d *Dataset) Layout() string {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	switch d.state().dl.Class {
	case message.LayoutCompact:
		return "compact"
	case message.LayoutContiguous:
		return "contiguous"
	case message.LayoutChunked:
		return "chunked"
	}
	return "virtual"
}

// Filters returns the names of the filters applied to chunks, in order.
func (d *Dataset) Filters() []string {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	var names []string
	if fp := d.state().pipeline; fp != nil {
		for _, f := range fp.Filters {
			names = append(names, filter.Name(f.ID))
		}
	}
	return names
}

// FillValue returns the value of elements that were never written.
func (d *Dataset) FillValue() float64 {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	ds := d.state()
	a, err := array.FromBytes(ds.dt, nil, bytes.Clone(ds.fillElem))
	if err != nil {
		return 0
	}
	return a.Flat(0)
}

// StoredChunks returns how many chunks have file space.
func (d *Dataset) StoredChunks() (int, error) {
	d.n.f.mu.Lock()
	defer d.n.f.mu.Unlock()
	ds := d.state()
	if err := d.n.check(false); err != nil {
		return 0, err
	}
	if ds.err != nil {
		return 0, ds.err
	}
	if !ds.dl.IsChunked() {
		return 0, nil
	}
	if err := ds.ensureIndex(); err != nil {
		return 0, err
	}
	n := 0
	for i, e := range ds.index.Entries {
		if e.Stored() || ds.dirty.Contains(uint32(i)) {
			n++
		}
	}
	return n, nil
}

// Read reads the whole dataset.
func (d *Dataset) Read() (*array.Array, error) {
	return d.ReadSliceContext(context.Background(), nil)
}

// ReadSlice reads the elements selected by sel. Only chunks overlapping
// the selection are read.
func (d *Dataset) ReadSlice(sel array.Selection) (*array.Array, error) {
	return d.ReadSliceContext(context.Background(), sel)
}

// ReadSliceContext is ReadSlice with a context bounding chunk decoding.
func (d *Dataset) ReadSliceContext(ctx context.Context, sel array.Selection) (*array.Array, error) {
	f := d.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	ds := d.state()
	if err := d.n.check(false); err != nil {
		return nil, err
	}
	if ds.err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.n.path(), ds.err)
	}
	start, count, err := sel.Resolve(ds.shape)
	if err != nil {
		return nil, fmt.Errorf("reading %s%s: %w", d.n.path(), sel, err)
	}
	out := array.New(ds.dt, count...)
	if out.Len() == 0 {
		return out, nil
	}
	if err := ds.read(ctx, out.Bytes(), start, count); err != nil {
		return nil, fmt.Errorf("reading %s%s: %w", d.n.path(), sel, err)
	}
	return out, nil
}

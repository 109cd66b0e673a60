package hdf5

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/alloc"
	"github.com/robert-malhotra/h5path/internal/dtype"
	"github.com/robert-malhotra/h5path/internal/layout"
	"github.com/robert-malhotra/h5path/internal/message"
)

// Write replaces the contents of the dataset with a. The shape of a must
// equal the dataset shape.
func (d *Dataset) Write(a *array.Array) error {
	return d.WriteSliceContext(context.Background(), nil, a)
}

// WriteSlice writes a into the elements selected by sel. The shape of a
// must equal the shape of the selection; values are cast to the dataset
// dtype. Chunked writes are buffered until the file is flushed.
func (d *Dataset) WriteSlice(sel array.Selection, a *array.Array) error {
	return d.WriteSliceContext(context.Background(), sel, a)
}

// WriteSliceContext is WriteSlice with a context bounding chunk decoding.
func (d *Dataset) WriteSliceContext(ctx context.Context, sel array.Selection, a *array.Array) error {
	f := d.n.f
	f.mu.Lock()
	defer f.mu.Unlock()

	ds := d.state()
	if err := d.n.check(true); err != nil {
		return err
	}
	if ds.err != nil {
		return fmt.Errorf("writing %s: %w", d.n.path(), ds.err)
	}
	start, count, err := sel.Resolve(ds.shape)
	if err != nil {
		return fmt.Errorf("writing %s%s: %w", d.n.path(), sel, err)
	}
	if !slices.Equal(count, a.Shape()) {
		return fmt.Errorf("%w: writing %v into selection %s%s of shape %v",
			ErrShapeMismatch, a.Shape(), d.n.path(), sel, count)
	}
	if array.NumElements(count) == 0 {
		return nil
	}
	src := a
	if a.DType() != ds.dt {
		src = a.AsType(ds.dt)
	}

	switch ds.dl.Class {
	case message.LayoutCompact:
		ds.writeCompact(src.Bytes(), start, count)
	case message.LayoutContiguous:
		err = ds.writeContiguous(src.Bytes(), start, count)
	default:
		err = ds.writeChunks(ctx, src.Bytes(), start, count)
	}
	if err != nil {
		return fmt.Errorf("writing %s%s: %w", d.n.path(), sel, err)
	}
	return nil
}

// writeCompact modifies data stored in the object header.
func (d *dataset) writeCompact(src []byte, start, count []int) {
	data := dtype.ToNative(d.ftype, bytes.Clone(d.dl.CompactData))
	layout.CopyRegion(data, d.shape, start, src, count, make([]int, len(count)), count, d.elem)
	d.dl = message.NewCompactLayout(dtype.ToNative(d.ftype, data))
	d.n.touch()
}

// writeContiguous writes rows in place, allocating the data block on first
// write.
func (d *dataset) writeContiguous(src []byte, start, count []int) error {
	f := d.n.f
	if d.dl.Address == undefinedAddr || f.reader.IsUndefinedOffset(d.dl.Address) {
		size := uint64(array.NumElements(d.shape) * d.elem)
		addr := f.allocator.AllocTagged(size, "data "+d.n.path())
		if err := d.fillBlock(addr, size); err != nil {
			return err
		}
		d.dl = message.NewContiguousLayout(addr, size)
	}

	rowBytes := d.rowBytes(count)
	pos := 0
	err := d.rows(start, count, func(off int64) error {
		row := dtype.ToNative(d.ftype, src[pos:pos+rowBytes])
		pos += rowBytes
		_, err := f.data.WriteAt(row, int64(d.dl.Address)+off)
		return err
	})
	if err != nil {
		return fmt.Errorf("contiguous data: %w", err)
	}
	d.n.touch()
	return nil
}

// fillBlock writes the fill value over size bytes at addr.
func (d *dataset) fillBlock(addr, size uint64) error {
	const step = 1 << 20
	buf := make([]byte, min(size, step)/uint64(d.elem)*uint64(d.elem))
	if len(buf) == 0 {
		return nil
	}
	fill := dtype.ToNative(d.ftype, bytes.Clone(d.fillElem))
	if !isZero(fill) {
		layout.Fill(buf, fill)
	}
	for done := uint64(0); done < size; {
		n := min(uint64(len(buf)), size-done)
		if _, err := d.n.f.data.WriteAt(buf[:n], int64(addr+done)); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// covers reports whether the box (start, count) covers every in-bounds
// element of chunk id.
func (d *dataset) covers(id int, start, count []int) bool {
	origin := d.grid.Origin(id)
	_, _, extent := d.grid.Intersect(origin, start, count)
	for k, e := range extent {
		if e != min(d.grid.Chunk[k], d.shape[k]-origin[k]) {
			return false
		}
	}
	return true
}

// writeChunks merges src into the cached chunks it overlaps. Partially
// covered chunks are read first.
func (d *dataset) writeChunks(ctx context.Context, src []byte, start, count []int) error {
	ids := d.grid.Overlapping(start, count)
	bufs, err := d.fetch(ctx, ids, func(i int) bool { return d.covers(ids[i], start, count) })
	if err != nil {
		return err
	}
	for i, id := range ids {
		b := bufs[i]
		if b == nil {
			b = d.fillChunk()
		}
		if _, ok := d.cache[id]; !ok {
			d.cache[id] = b
			d.cached += d.chunkBytes
		}
		inChunk, inBox, extent := d.grid.Intersect(d.grid.Origin(id), start, count)
		layout.CopyRegion(b, d.grid.Chunk, inChunk, src, count, inBox, extent, d.elem)
		d.dirty.Add(uint32(id))
	}
	d.n.touch()

	if d.cached > d.n.f.opts.cacheSize {
		return d.spill(ctx)
	}
	return nil
}

// spill writes dirty chunks to fresh space and empties the cache. The
// chunk index is written at the next flush.
func (d *dataset) spill(ctx context.Context) error {
	n := d.dirty.GetCardinality()
	if err := d.writeDirty(ctx); err != nil {
		return err
	}
	d.n.f.log.Debug("spilled chunk cache", "path", d.n.path(), "chunks", n, "bytes", d.cached)
	clear(d.cache)
	d.cached = 0
	return nil
}

type encodedChunk struct {
	data []byte
	mask uint32
}

// writeDirty encodes the dirty chunks concurrently and writes each into
// newly allocated space.
func (d *dataset) writeDirty(ctx context.Context) error {
	f := d.n.f
	ids := d.dirty.ToArray()
	raw := make([][]byte, len(ids))
	for i, id := range ids {
		raw[i] = d.cache[int(id)]
	}
	enc := make([]encodedChunk, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.workers)
	for i := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, mask, err := d.filters.Encode(dtype.ToNative(d.ftype, raw[i]))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", ids[i], err)
			}
			enc[i] = encodedChunk{data: data, mask: mask}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range ids {
		e := enc[i]
		addr := f.allocator.AllocTagged(uint64(len(e.data)), "chunk "+d.n.path())
		if _, err := f.data.WriteAt(e.data, int64(addr)); err != nil {
			return fmt.Errorf("chunk %d: %w", id, err)
		}
		if old := d.index.Entries[id]; old.Stored() && !d.n.shared {
			f.allocator.Free(old.Addr, old.Size)
		}
		d.index.Entries[id] = layout.Entry{Addr: addr, Size: uint64(len(e.data)), Mask: e.mask}
		d.dirty.Remove(id)
	}
	d.indexDirty = true
	return nil
}

// flush writes dirty chunks and, if any chunk moved, a new fixed array
// index. Indexes of other types are replaced by a fixed array on the
// first modification.
func (d *dataset) flush(ctx context.Context) error {
	if !d.dl.IsChunked() || d.index == nil {
		return nil
	}
	start := time.Now()
	n := d.dirty.GetCardinality()
	if !d.dirty.IsEmpty() {
		if err := d.writeDirty(ctx); err != nil {
			return err
		}
	}
	if !d.indexDirty {
		return nil
	}
	if err := d.writeIndex(); err != nil {
		return err
	}
	d.n.f.log.Debug("flushed dataset", "path", d.n.path(), "chunks", n, "elapsed", time.Since(start))
	return nil
}

// writeIndex writes the chunk index as a fixed array and points the
// layout message at it.
func (d *dataset) writeIndex() error {
	f := d.n.f
	fa := layout.NewFixedArray(f.cfg, d.grid.NumChunks(), d.filtered(), d.chunkBytes)

	addr := undefinedAddr
	var blocks []alloc.Block
	if slices.ContainsFunc(d.index.Entries, layout.Entry.Stored) {
		hdrAddr := f.allocator.AllocTagged(uint64(fa.HeaderSize()), "fahd "+d.n.path())
		dataAddr := f.allocator.AllocTagged(uint64(fa.DataBlockSize()), "fadb "+d.n.path())
		hdr, data, err := fa.Encode(hdrAddr, dataAddr, d.index.Entries)
		if err != nil {
			return fmt.Errorf("chunk index: %w", err)
		}
		if _, err := f.data.WriteAt(hdr, int64(hdrAddr)); err != nil {
			return fmt.Errorf("chunk index: %w", err)
		}
		if _, err := f.data.WriteAt(data, int64(dataAddr)); err != nil {
			return fmt.Errorf("chunk index: %w", err)
		}
		addr = hdrAddr
		blocks = []alloc.Block{
			{Addr: hdrAddr, Size: uint64(len(hdr))},
			{Addr: dataAddr, Size: uint64(len(data))},
		}
	}
	if !d.n.shared {
		for _, b := range d.index.Blocks {
			f.allocator.Free(b.Addr, b.Size)
		}
	}
	d.index.Blocks = blocks

	dl := message.NewChunkedLayout(d.grid.Chunk, d.elem, message.IndexFixedArray, fa.PageBits())
	dl.Address = addr
	d.dl = dl
	d.indexDirty = false
	return nil
}

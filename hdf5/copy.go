package hdf5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/message"
)

const copyBlockSize = 4 << 20

// CopyOption configures CopyTo.
type CopyOption func(*copyOptions)

type copyOptions struct {
	bytesPerSec int
}

// WithCopyRateLimit bounds the copy throughput in bytes per second.
func WithCopyRateLimit(bytesPerSec int) CopyOption {
	return func(o *copyOptions) {
		if bytesPerSec > 0 {
			o.bytesPerSec = bytesPerSec
		}
	}
}

// CopyTo flushes f and writes a copy of it to dest. The copy is assembled
// in a temporary file next to dest and renamed into place, so dest is
// never seen half-written. f stays open.
func (f *File) CopyTo(ctx context.Context, dest string, opts ...CopyOption) (err error) {
	o := &copyOptions{}
	for _, opt := range opts {
		opt(o)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.mode.Writable() {
		if err := f.commit(ctx); err != nil {
			return err
		}
	}
	if abs, aerr := filepath.Abs(dest); aerr == nil {
		if src, serr := filepath.Abs(f.path); serr == nil && abs == src {
			return fmt.Errorf("%w: copy destination is the file itself", ErrExists)
		}
	}

	size := int64(f.superblock.BaseAddress + f.superblock.EOFAddress)
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	start := time.Now()
	if err := tmp.Truncate(size); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := f.copyBlocks(ctx, tmp, size, o); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	f.log.Debug("copied", "dest", dest, "bytes", size, "elapsed", time.Since(start))
	return nil
}

// copyBlocks copies the first size bytes of f into w in parallel blocks.
func (f *File) copyBlocks(ctx context.Context, w io.WriterAt, size int64, o *copyOptions) error {
	block := int64(copyBlockSize)
	var limiter *rate.Limiter
	if o.bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.bytesPerSec), o.bytesPerSec)
		block = min(block, int64(o.bytesPerSec))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.workers)
	for off := int64(0); off < size; off += block {
		n := min(block, size-off)
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.WaitN(gctx, int(n)); err != nil {
					return err
				}
			} else if err := gctx.Err(); err != nil {
				return err
			}
			buf := make([]byte, n)
			if _, err := f.file.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			_, err := w.WriteAt(buf, off)
			return err
		})
	}
	return g.Wait()
}

// CopyGroup copies the members and attributes of src into dst, which may
// belong to another file. Datasets are rewritten block by block with the
// storage settings of the source, overridden by opts.
func CopyGroup(ctx context.Context, dst, src *Group, opts ...DatasetOption) error {
	if err := copyAttrs(dst, src); err != nil {
		return err
	}
	names, err := src.Members()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := src.Get(name)
		if err != nil {
			return err
		}
		switch o := obj.(type) {
		case *Group:
			g, err := dst.RequireGroup(name)
			if err != nil {
				return err
			}
			if err := CopyGroup(ctx, g, o, opts...); err != nil {
				return err
			}
		case *Dataset:
			if err := copyDataset(ctx, dst, name, o, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyAttrs(dst Object, src Object) error {
	names, err := src.AttrNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		v, err := src.Attr(name)
		if err != nil {
			return err
		}
		if err := dst.SetAttr(name, v); err != nil {
			return err
		}
	}
	return nil
}

func copyDataset(ctx context.Context, dst *Group, name string, src *Dataset, opts []DatasetOption) error {
	dt, shape := src.DType(), src.Shape()
	if !dt.Valid() {
		src.n.f.log.Warn("skipping dataset with unsupported type", "path", src.Path())
		return nil
	}
	all := append(src.storageOptions(), opts...)
	d, err := dst.CreateDataset(name, dt, shape, all...)
	if err != nil {
		return err
	}
	if err := copyAttrs(d, src); err != nil {
		return err
	}
	if array.NumElements(shape) == 0 {
		return nil
	}

	if len(shape) == 0 {
		a, err := src.ReadSliceContext(ctx, nil)
		if err != nil {
			return err
		}
		return d.WriteSliceContext(ctx, nil, a)
	}

	// Copy slabs of whole chunk rows along the first axis.
	step := shape[0]
	if chunks := d.Chunks(); chunks != nil {
		step = chunks[0]
	}
	for lo := 0; lo < shape[0]; lo += step {
		sel := array.Selection{array.R(lo, min(lo+step, shape[0]))}
		a, err := src.ReadSliceContext(ctx, sel)
		if err != nil {
			return err
		}
		if err := d.WriteSliceContext(ctx, sel, a); err != nil {
			return err
		}
	}
	return nil
}

// storageOptions returns the options that recreate the chunking, filters
// and fill value of d.
func (d *Dataset) storageOptions() []DatasetOption {
	d.n.f.mu.RLock()
	defer d.n.f.mu.RUnlock()
	ds := d.state()

	var opts []DatasetOption
	if ds.dl.IsChunked() {
		opts = append(opts, WithChunks(ds.grid.Chunk...))
	}
	if ds.pipeline != nil {
		for _, fi := range ds.pipeline.Filters {
			switch fi.ID {
			case message.FilterShuffle:
				opts = append(opts, WithShuffle())
			case message.FilterDeflate:
				level := 4
				if len(fi.ClientData) > 0 {
					level = int(fi.ClientData[0])
				}
				opts = append(opts, WithCompression(level))
			case message.FilterFletcher32:
				opts = append(opts, WithFletcher32())
			case message.FilterLZ4:
				opts = append(opts, WithLZ4())
			case message.FilterZstd:
				level := 3
				if len(fi.ClientData) > 0 {
					level = int(fi.ClientData[0])
				}
				opts = append(opts, WithZstd(level))
			}
		}
	}
	if ds.fill != nil && ds.fill.Defined {
		a, err := array.FromBytes(ds.dt, nil, append([]byte(nil), ds.fillElem...))
		if err == nil {
			opts = append(opts, WithFillValue(a.Flat(0)))
		}
	}
	return opts
}

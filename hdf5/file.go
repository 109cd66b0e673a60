package hdf5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robert-malhotra/h5path/internal/alloc"
	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/heap"
	"github.com/robert-malhotra/h5path/internal/mmap"
	"github.com/robert-malhotra/h5path/internal/superblock"
)

// File represents an open HDF5 file.
//
// All methods of a File and of the groups and datasets reached from it are
// safe for concurrent use; operations are serialized by the file.
type File struct {
	mu sync.RWMutex

	path string
	mode Mode
	opts *fileOptions
	log  *slog.Logger

	file *os.File
	mm   *mmap.File
	data based

	cfg        binary.Config
	reader     *binary.Reader
	superblock *superblock.Superblock
	allocator  *alloc.Allocator
	heap       *heap.Cache

	root   *node
	nodes  map[uint64]*node
	closed bool
}

// based shifts addresses by the superblock base address, which is nonzero
// when a user block precedes the HDF5 data.
type based struct {
	r    io.ReaderAt
	w    io.WriterAt
	base int64
}

func (b based) ReadAt(p []byte, off int64) (int, error) {
	return b.r.ReadAt(p, off+b.base)
}

func (b based) WriteAt(p []byte, off int64) (int, error) {
	if b.w == nil {
		return 0, ErrReadOnly
	}
	return b.w.WriteAt(p, off+b.base)
}

// Open opens an HDF5 file for reading.
func Open(path string, opts ...FileOption) (*File, error) {
	return OpenFile(path, ModeReadOnly, opts...)
}

// OpenReadWrite opens an existing HDF5 file for reading and writing.
func OpenReadWrite(path string, opts ...FileOption) (*File, error) {
	return OpenFile(path, ModeReadWrite, opts...)
}

// Create creates a new HDF5 file, truncating any existing file.
func Create(path string, opts ...FileOption) (*File, error) {
	return OpenFile(path, ModeCreate, opts...)
}

// OpenFile opens or creates the file at path according to mode.
func OpenFile(path string, mode Mode, opts ...FileOption) (*File, error) {
	o := defaultFileOptions()
	for _, opt := range opts {
		opt(o)
	}
	f := &File{
		path:  path,
		mode:  mode,
		opts:  o,
		log:   o.logger.With("file", path),
		nodes: make(map[uint64]*node),
	}

	var err error
	switch mode {
	case ModeReadOnly, ModeReadWrite:
		err = f.open()
	case ModeCreate, ModeCreateExclusive:
		err = f.create()
	default:
		err = fmt.Errorf("unknown mode %d", mode)
	}
	if err != nil {
		_ = f.release()
		return nil, err
	}
	return f, nil
}

func (f *File) open() error {
	flag := os.O_RDONLY
	if f.mode == ModeReadWrite {
		flag = os.O_RDWR
	}
	file, err := os.OpenFile(f.path, flag, 0)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	f.file = file

	var src io.ReaderAt = file
	if f.mode == ModeReadOnly && f.opts.mmap {
		if mm, err := mmap.Open(f.path); err == nil {
			_ = mm.Advise(mmap.AccessRandom)
			f.mm, src = mm, mm
		} else {
			f.log.Warn("mmap unavailable, using reads", "error", err)
		}
	}

	sb, err := superblock.Read(src)
	if err != nil {
		if errors.Is(err, superblock.ErrNotHDF5) {
			return fmt.Errorf("%w: %s", ErrNotHDF5, f.path)
		}
		return fmt.Errorf("reading superblock: %w", err)
	}
	f.cfg = sb.Config()
	if err := f.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	f.superblock = sb
	f.data = based{r: src, base: int64(sb.BaseAddress)}
	if f.mode == ModeReadWrite {
		f.data.w = file
	}
	f.reader = binary.NewReader(f.data, f.cfg)
	f.heap = heap.NewCache(f.reader)

	if f.mode == ModeReadWrite {
		start := uint64(sb.FileOffset-int64(sb.BaseAddress)) + uint64(sb.Size())
		f.allocator = alloc.New(start)
		f.allocator.SetEOFAddr(sb.EOFAddress)
	}

	root, err := f.loadNode(nil, "", sb.RootGroupAddress)
	if err != nil {
		return fmt.Errorf("opening root group: %w", err)
	}
	if root.kind != kindGroup {
		return fmt.Errorf("%w: root object is not a group", ErrCorrupt)
	}
	f.root = root
	f.log.Debug("opened", "mode", f.mode, "superblock", sb.Version, "eof", sb.EOFAddress)
	return nil
}

func (f *File) create() error {
	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if f.mode == ModeCreateExclusive {
		flag = os.O_RDWR | os.O_CREATE | os.O_EXCL
	}
	file, err := os.OpenFile(f.path, flag, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, f.path)
		}
		return fmt.Errorf("creating file: %w", err)
	}
	f.file = file

	f.cfg = binary.DefaultConfig()
	f.cfg.OffsetSize, f.cfg.LengthSize = f.opts.offsetSize, f.opts.lengthSize
	f.superblock = superblock.New(f.cfg)
	f.data = based{r: file, w: file}
	f.reader = binary.NewReader(f.data, f.cfg)
	f.heap = heap.NewCache(f.reader)
	f.allocator = alloc.New(uint64(f.superblock.Size()))

	f.root = f.newNode(nil, "", kindGroup)
	f.root.touch()
	if err := f.commit(context.Background()); err != nil {
		return fmt.Errorf("writing root group: %w", err)
	}
	f.log.Debug("created", "offset_size", f.cfg.OffsetSize, "length_size", f.cfg.LengthSize)
	return nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Mode returns the mode the file was opened with.
func (f *File) Mode() Mode { return f.mode }

// Root returns the root group.
func (f *File) Root() *Group { return newGroup(f.root) }

// Group returns the group at path, relative to the root.
func (f *File) Group(path ...string) (*Group, error) { return f.Root().Group(path...) }

// Dataset returns the dataset at path, relative to the root.
func (f *File) Dataset(path ...string) (*Dataset, error) { return f.Root().Dataset(path...) }

// Info describes the file-level structures.
type Info struct {
	SuperblockVersion int
	OffsetSize        int
	LengthSize        int
	BaseAddress       uint64
	EOFAddress        uint64
	Allocated         uint64 // bytes allocated since open
	Freed             uint64 // bytes released since open
}

// Info returns file-level information.
func (f *File) Info() Info {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info := Info{
		SuperblockVersion: int(f.superblock.Version),
		OffsetSize:        f.cfg.OffsetSize,
		LengthSize:        f.cfg.LengthSize,
		BaseAddress:       f.superblock.BaseAddress,
		EOFAddress:        f.superblock.EOFAddress,
	}
	if f.allocator != nil {
		s := f.allocator.Stats()
		info.Allocated, info.Freed = s.BytesAlloc, s.BytesFreed
	}
	return info
}

// Flush writes all pending modifications and commits them with a new
// superblock. Flush on a read-only file does nothing.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if !f.mode.Writable() {
		return nil
	}
	return f.commit(context.Background())
}

// Close flushes a writable file and releases it. Closing a closed file is a
// no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.mode.Writable() && f.root != nil {
		err = f.commit(context.Background())
	}
	if cerr := f.release(); err == nil {
		err = cerr
	}
	f.nodes = nil
	return err
}

// release closes the underlying handles.
func (f *File) release() error {
	var err error
	if f.mm != nil {
		err = f.mm.Close()
		f.mm = nil
	}
	if f.file != nil {
		if cerr := f.file.Close(); err == nil {
			err = cerr
		}
		f.file = nil
	}
	return err
}

// check reports whether the file accepts an operation.
func (f *File) check(write bool) error {
	if f.closed {
		return ErrClosed
	}
	if write && !f.mode.Writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, f.path)
	}
	return nil
}

// commit writes every dirty object, then the superblock. Space released by
// the rewrite becomes reusable only once the new superblock is on disk.
func (f *File) commit(ctx context.Context) error {
	if !f.root.dirty {
		return nil
	}
	start := time.Now()
	before := f.allocator.Stats()

	if err := f.writeNode(ctx, f.root); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	sb := f.superblock
	if sb.IsLegacy() {
		up := superblock.New(f.cfg)
		up.BaseAddress, up.FileOffset = sb.BaseAddress, sb.FileOffset
		f.superblock, sb = up, up
	}
	sb.RootGroupAddress = f.root.addr
	sb.EOFAddress = f.allocator.EOFAddr()

	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("flush: sync: %w", err)
	}
	if err := sb.WriteTo(f.file); err != nil {
		return fmt.Errorf("flush: writing superblock: %w", err)
	}

	if eof := f.allocator.Commit(); eof != sb.EOFAddress {
		sb.EOFAddress = eof
		if err := sb.WriteTo(f.file); err != nil {
			return fmt.Errorf("flush: writing superblock: %w", err)
		}
		if err := f.file.Truncate(int64(sb.BaseAddress + eof)); err != nil {
			return fmt.Errorf("flush: truncating: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("flush: sync: %w", err)
	}

	after := f.allocator.Stats()
	f.log.Debug("flushed",
		"root", sb.RootGroupAddress,
		"eof", sb.EOFAddress,
		"written", after.BytesAlloc-before.BytesAlloc,
		"released", after.BytesFreed-before.BytesFreed,
		"elapsed", time.Since(start))
	return nil
}

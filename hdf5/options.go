package hdf5

import (
	"log/slog"
	"runtime"
)

// Mode selects how OpenFile treats the path.
type Mode int

const (
	// ModeReadOnly opens an existing file for reading.
	ModeReadOnly Mode = iota
	// ModeReadWrite opens an existing file for reading and writing.
	ModeReadWrite
	// ModeCreate creates a new file, truncating any existing one.
	ModeCreate
	// ModeCreateExclusive creates a new file and fails if the path exists.
	ModeCreateExclusive
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "r"
	case ModeReadWrite:
		return "r+"
	case ModeCreate:
		return "w"
	case ModeCreateExclusive:
		return "x"
	}
	return "unknown"
}

// Writable reports whether files opened in mode accept modifications.
func (m Mode) Writable() bool { return m != ModeReadOnly }

// DefaultCacheSize bounds the decoded chunk cache of each dataset.
const DefaultCacheSize = 64 << 20

// FileOption configures how a file is opened or created.
type FileOption func(*fileOptions)

type fileOptions struct {
	offsetSize int
	lengthSize int
	logger     *slog.Logger
	mmap       bool
	workers    int
	cacheSize  int
}

func defaultFileOptions() *fileOptions {
	return &fileOptions{
		offsetSize: 8,
		lengthSize: 8,
		logger:     slog.New(slog.DiscardHandler),
		workers:    runtime.GOMAXPROCS(0),
		cacheSize:  DefaultCacheSize,
	}
}

// WithOffsetSize sets the size in bytes for file offsets (2, 4, or 8) of a
// new file.
func WithOffsetSize(size int) FileOption {
	return func(o *fileOptions) {
		if size == 2 || size == 4 || size == 8 {
			o.offsetSize = size
		}
	}
}

// WithLengthSize sets the size in bytes for lengths (2, 4, or 8) of a new
// file.
func WithLengthSize(size int) FileOption {
	return func(o *fileOptions) {
		if size == 2 || size == 4 || size == 8 {
			o.lengthSize = size
		}
	}
}

// WithLogger sets the logger used for flush and open diagnostics.
func WithLogger(l *slog.Logger) FileOption {
	return func(o *fileOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMmap memory-maps files opened read-only.
func WithMmap() FileOption {
	return func(o *fileOptions) {
		o.mmap = true
	}
}

// WithWorkers bounds how many chunks are encoded or decoded concurrently.
func WithWorkers(n int) FileOption {
	return func(o *fileOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithCacheSize bounds the bytes of decoded chunks a dataset keeps in
// memory. Modified chunks beyond the bound are written out early.
func WithCacheSize(bytes int) FileOption {
	return func(o *fileOptions) {
		if bytes > 0 {
			o.cacheSize = bytes
		}
	}
}

// DatasetOption configures dataset creation options.
type DatasetOption func(*datasetOptions)

// attrDef holds an attribute definition for creation.
type attrDef struct {
	name  string
	value any
}

type datasetOptions struct {
	chunks         []int
	leadingChunks  []int
	compressionLvl int
	shuffle        bool
	fletcher32     bool
	lz4            bool
	zstdLvl        int
	fill           *float64
	attributes     []attrDef
}

func defaultDatasetOptions() *datasetOptions {
	return &datasetOptions{compressionLvl: -1}
}

// WithChunks sets the chunk dimensions. Without it a chunk shape is chosen
// from the dataset shape and element size.
func WithChunks(dims ...int) DatasetOption {
	return func(o *datasetOptions) {
		o.chunks = dims
		o.leadingChunks = nil
	}
}

// WithLeadingChunks chunks the leading axes by dims and keeps the remaining
// axes whole, so one option fits datasets of any rank. A dimension of dims
// beyond the dataset rank is ignored.
func WithLeadingChunks(dims ...int) DatasetOption {
	return func(o *datasetOptions) {
		o.leadingChunks = dims
		o.chunks = nil
	}
}

// WithCompression enables gzip compression at level 0-9.
func WithCompression(level int) DatasetOption {
	return func(o *datasetOptions) {
		if level >= 0 && level <= 9 {
			o.compressionLvl = level
		}
	}
}

// WithoutFilters removes any filters set by earlier options.
func WithoutFilters() DatasetOption {
	return func(o *datasetOptions) {
		o.compressionLvl = -1
		o.shuffle, o.fletcher32, o.lz4 = false, false, false
		o.zstdLvl = 0
	}
}

// WithShuffle enables the shuffle filter (improves compression).
func WithShuffle() DatasetOption {
	return func(o *datasetOptions) {
		o.shuffle = true
	}
}

// WithFletcher32 enables Fletcher32 checksum validation.
func WithFletcher32() DatasetOption {
	return func(o *datasetOptions) {
		o.fletcher32 = true
	}
}

// WithLZ4 enables the LZ4 filter (registered filter 32004).
func WithLZ4() DatasetOption {
	return func(o *datasetOptions) {
		o.lz4 = true
	}
}

// WithZstd enables the Zstandard filter (registered filter 32015).
func WithZstd(level int) DatasetOption {
	return func(o *datasetOptions) {
		o.zstdLvl = max(level, 1)
	}
}

// WithFillValue sets the value unwritten elements read back as.
func WithFillValue(v float64) DatasetOption {
	return func(o *datasetOptions) {
		o.fill = &v
	}
}

// WithAttribute adds an attribute to the dataset.
// The value can be a scalar or slice of: bool, int, int8-64, uint, uint8-64,
// float32, float64, string, or an *array.Array.
// Multiple WithAttribute options can be used to add multiple attributes.
func WithAttribute(name string, value any) DatasetOption {
	return func(o *datasetOptions) {
		o.attributes = append(o.attributes, attrDef{name: name, value: value})
	}
}

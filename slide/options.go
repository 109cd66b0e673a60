package slide

import (
	"github.com/robert-malhotra/h5path/hdf5"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	path      string
	tempDir   string
	readOnly  bool
	logger    *Logger
	fileOpts  []hdf5.FileOption
	arrayOpts []hdf5.DatasetOption
	maskOpts  []hdf5.DatasetOption
	copyOpts  []hdf5.CopyOption
}

// DefaultStorage is the dataset profile used for the array and masks:
// deflate level 5 with byte shuffling.
func DefaultStorage() []hdf5.DatasetOption {
	return []hdf5.DatasetOption{hdf5.WithCompression(5), hdf5.WithShuffle()}
}

func defaultOptions() *options {
	return &options{
		logger:    NoopLogger(),
		arrayOpts: DefaultStorage(),
		maskOpts:  DefaultStorage(),
	}
}

// WithPath makes Bind build the container at path instead of in a scratch
// file. The file must not exist yet.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithTempDir sets the directory scratch containers are created in. The
// default is the OS temp directory.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// ReadOnly makes Open map the container read-only. Any number of read-only
// managers may share one file.
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithLogger sets the logger. Logging is off by default.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFileOptions passes options through to the hdf5 file.
func WithFileOptions(opts ...hdf5.FileOption) Option {
	return func(o *options) { o.fileOpts = append(o.fileOpts, opts...) }
}

// WithArrayStorage replaces the storage profile of the full-resolution
// array.
func WithArrayStorage(opts ...hdf5.DatasetOption) Option {
	return func(o *options) { o.arrayOpts = opts }
}

// WithMaskStorage replaces the storage profile of masks.
func WithMaskStorage(opts ...hdf5.DatasetOption) Option {
	return func(o *options) { o.maskOpts = opts }
}

// WithWriteRateLimit throttles Write to bytesPerSec.
func WithWriteRateLimit(bytesPerSec int) Option {
	return func(o *options) {
		o.copyOpts = append(o.copyOpts, hdf5.WithCopyRateLimit(bytesPerSec))
	}
}

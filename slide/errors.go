package slide

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
)

// Error kinds. Every error a Manager returns matches exactly one of these
// with errors.Is. The first four are the hdf5 sentinels, so lower-layer
// errors match them directly.
var (
	ErrNotFound      = hdf5.ErrNotFound
	ErrAlreadyExists = hdf5.ErrExists
	ErrShapeMismatch = hdf5.ErrShapeMismatch
	ErrOutOfBounds   = hdf5.ErrOutOfBounds

	// ErrInvalidState is returned for an operation the manager's lifecycle
	// state does not allow, such as a write after Close.
	ErrInvalidState = errors.New("invalid manager state")

	// ErrIOFailure wraps failures of the storage medium: disk full,
	// permission denied, corrupt file.
	ErrIOFailure = errors.New("i/o failure")

	// ErrUnsupportedFormat is returned for a file that is not an h5path
	// container.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Error records the operation and key that failed.
type Error struct {
	Op  string // "bind", "set_mask", "get_tile", ...
	Key string // mask name, tile key, label or file path; may be empty
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("slide: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("slide: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: translateError(err)}
}

// translateError folds lower-layer errors into the error kinds above.
func translateError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrShapeMismatch),
		errors.Is(err, ErrOutOfBounds),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrIOFailure),
		errors.Is(err, ErrUnsupportedFormat):
		return err
	case errors.Is(err, hdf5.ErrClosed), errors.Is(err, hdf5.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	case errors.Is(err, hdf5.ErrNotHDF5), errors.Is(err, hdf5.ErrUnsupported), errors.Is(err, array.ErrDType):
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	case errors.Is(err, hdf5.ErrInvalidPath),
		errors.Is(err, hdf5.ErrNotGroup),
		errors.Is(err, hdf5.ErrNotDataset),
		errors.Is(err, hdf5.ErrLinkDepth),
		errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrIOFailure, err)
}

// Package hdf5 reads and writes the subset of HDF5 that h5path containers
// use: groups, attributes and numeric datasets.
//
// Files are read whether they were written by h5py, the HDF5 C library or
// this package. Chunked writes go through copy-on-write: modified object
// headers, chunks and chunk indexes are written to fresh space and the
// superblock is updated last, so an interrupted Flush leaves the previous
// state intact. Contiguous and compact data is rewritten in place.
package hdf5

import (
	"errors"

	"github.com/robert-malhotra/h5path/array"
)

// Common errors
var (
	ErrNotHDF5     = errors.New("not an HDF5 file")
	ErrNotFound    = errors.New("object not found")
	ErrExists      = errors.New("object already exists")
	ErrNotDataset  = errors.New("object is not a dataset")
	ErrNotGroup    = errors.New("object is not a group")
	ErrUnsupported = errors.New("unsupported feature")
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("file is closed")
	ErrReadOnly    = errors.New("file is read-only")
	ErrCorrupt     = errors.New("corrupt file")
	ErrLinkDepth   = errors.New("maximum link depth exceeded")

	ErrShapeMismatch = array.ErrShapeMismatch
	ErrOutOfBounds   = array.ErrOutOfBounds
)

// MaxLinkDepth is the maximum number of soft links followed while resolving
// one path.
const MaxLinkDepth = 100

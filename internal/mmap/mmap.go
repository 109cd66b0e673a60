// Package mmap maps read-only container files into memory.
package mmap

import (
	"errors"
	"io"
	"os"
)

// AccessPattern is an access hint passed to the kernel.
type AccessPattern int

const (
	AccessNormal AccessPattern = iota
	AccessSequential
	AccessRandom
)

// File is a read-only memory-mapped file. It implements io.ReaderAt.
type File struct {
	data  []byte
	unmap func([]byte) error
	f     *os.File
}

// Open maps the file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		f.Close()
		return nil, errors.New("mmap: file too large to map")
	}
	if size == 0 {
		return &File{f: f}, nil
	}
	data, unmap, err := osMap(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{data: data, unmap: unmap, f: f}, nil
}

// Len returns the mapped size.
func (m *File) Len() int { return len(m.data) }

// Bytes returns the mapping. It is invalid after Close.
func (m *File) Bytes() []byte { return m.data }

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Advise passes an access hint for the whole mapping. Hints are best
// effort and never fail on platforms without them.
func (m *File) Advise(pattern AccessPattern) error {
	return osAdvise(m.data, pattern)
}

// Close unmaps the memory and closes the file. It is safe to call twice.
func (m *File) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.data != nil && m.unmap != nil {
		err = m.unmap(m.data)
	}
	m.data, m.unmap = nil, nil
	if m.f != nil {
		if cerr := m.f.Close(); err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}

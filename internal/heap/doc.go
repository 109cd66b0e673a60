// Package heap reads the local and global heaps of older HDF5 files. Local
// heaps hold the member names of symbol-table groups; global heaps hold
// variable-length data such as h5py's variable-length string attributes.
package heap

// Package superblock reads and writes the HDF5 superblock, the fixed entry
// point that records address widths, end-of-file and the root group.
//
// Versions 0 and 1 (written by h5py with default settings) are read-only.
// New files are written with version 3.
package superblock

// Package filter implements the HDF5 chunk filters the container reads
// and writes: deflate, shuffle, fletcher32, and the registered LZ4 and
// Zstandard plugins.
//
// Filters run in pipeline order when a chunk is written and in reverse
// order when it is read.
package filter

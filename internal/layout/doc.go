// Package layout holds the geometry of chunked datasets and the chunk
// index structures that locate chunks on disk.
//
// Chunks are numbered in row-major order over the chunk grid. Every index
// format is read into a dense []Entry with one slot per chunk, so callers
// never deal with the on-disk representation.
//
// # Index Formats
//
//   - [ReadIndex] dispatches on the layout message and returns an [Index].
//   - [FixedArray] encodes the fixed-array index of layout version 4, the
//     only format written; [ReadFixedArray] decodes it.
//   - Version 1 B-tree chunk indexes are read through package btree.
//   - Single-chunk and implicit indexes need no on-disk structure.
package layout

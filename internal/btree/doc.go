// Package btree reads version 1 B-trees, which older HDF5 files use to
// index both symbol-table group members and dataset chunks.
//
// # Group Indexing
//
// [ReadGroup] walks a v1 group B-tree down to its symbol table nodes
// (SNOD), whose entries name their members through offsets into the
// group's [heap.Local].
//
// # Chunk Indexing
//
// [ReadChunks] collects the leaves of a v1 chunk B-tree, each keyed by its
// offset in element coordinates, into a flat list that package layout
// spreads over the chunk grid.
package btree

// Package alloc manages file space for HDF5 writing.
//
// Space is handed out first-fit from a free list and otherwise appended at
// end-of-file. Space released while the on-disk superblock may still point
// at it goes through Free and only becomes reusable after Commit, so a crash
// before the new superblock is written never leaves the old tree pointing
// at overwritten bytes.
package alloc

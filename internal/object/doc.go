// Package object reads and writes HDF5 object headers.
//
// Version 2 headers are read and written; version 1 headers, which older
// writers emit for every object, are read only. A rewritten object always
// gets a version 2 header.
package object

// Package dtype maps between HDF5 datatypes and the element types of
// package array, and encodes small Go values as attribute payloads.
//
// # Type Mapping
//
//	HDF5 class              | array.DType
//	------------------------|-----------------------------
//	Fixed-point, bitfield   | (u)int8/16/32/64 by size and sign
//	Floating-point          | float32 (4 bytes) or float64 (8 bytes)
//	Enum FALSE/TRUE over i1 | bool (the h5py encoding)
//	Other enums             | the base integer type
//
// Datasets are always written little-endian. Big-endian data from other
// writers is swapped to native order by [ToNative] on read.
//
// # Attribute Values
//
// [Encode] turns a Go value into a datatype, dataspace and payload:
//
//	string, []string            fixed-length UTF-8 strings
//	bool, []bool                the h5py bool enum
//	int, uint and sized numbers scalar (int and uint widen to 64 bits)
//	slices of numbers           1-D arrays
//	*array.Array                an array of its shape
//
// [Decoder.Decode] reverses this. Scalars come back as the Go type
// matching the stored width (int64 for an int written by Encode), 1-D
// data as a slice of it, and higher ranks as *array.Array. Variable-length
// strings written by h5py are resolved through the global heap.
package dtype

// Package array holds dense N-dimensional arrays in memory.
//
// An Array stores its elements row-major in little-endian byte order, the
// same layout chunks use on disk, so slices of a dataset move between the
// file and memory without per-element work on common platforms.
package array

import (
	"fmt"
	"strings"
)

// DType is the element type of an Array.
type DType uint8

const (
	Invalid DType = iota
	Bool
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("DType(%d)", uint8(d))
}

// ParseDType returns the DType named s, accepting numpy spellings such as
// "u1" and "f8".
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimLeft(s, "<=|"))
	for d, name := range dtypeNames {
		if name == s && d != int(Invalid) {
			return DType(d), nil
		}
	}
	switch s {
	case "?", "b1":
		return Bool, nil
	case "i1":
		return Int8, nil
	case "u1":
		return Uint8, nil
	case "i2":
		return Int16, nil
	case "u2":
		return Uint16, nil
	case "i4":
		return Int32, nil
	case "u4":
		return Uint32, nil
	case "i8", "int":
		return Int64, nil
	case "u8":
		return Uint64, nil
	case "f4":
		return Float32, nil
	case "f8", "float":
		return Float64, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrDType, s)
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

func (d DType) Valid() bool { return d > Invalid && d <= Float64 }

func (d DType) IsFloat() bool { return d == Float32 || d == Float64 }

// IsSigned reports whether d is a signed integer type.
func (d DType) IsSigned() bool {
	return d == Int8 || d == Int16 || d == Int32 || d == Int64
}

// IsUnsigned reports whether d is an unsigned integer type.
func (d DType) IsUnsigned() bool {
	return d == Uint8 || d == Uint16 || d == Uint32 || d == Uint64
}

// Numeric is the set of Go types an Array can be built from.
type Numeric interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 |
		~float32 | ~float64 | ~int | ~uint
}

// DTypeOf returns the DType matching T. int and uint map to their 64-bit
// forms.
func DTypeOf[T Numeric | ~bool]() DType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return Bool
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case uint32:
		return Uint32
	case int64, int:
		return Int64
	case uint64, uint:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return Invalid
}

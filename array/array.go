package array

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Array is a dense N-dimensional array. A zero-rank Array holds one
// scalar element.
type Array struct {
	dtype DType
	shape []int
	data  []byte
}

// New returns a zero-filled array.
func New(dt DType, shape ...int) *Array {
	return &Array{
		dtype: dt,
		shape: slices.Clone(shape),
		data:  make([]byte, NumElements(shape)*dt.Size()),
	}
}

// FromBytes wraps data, which must hold exactly the elements of shape in
// row-major little-endian order. The array takes ownership of data.
func FromBytes(dt DType, shape []int, data []byte) (*Array, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrDType, dt)
	}
	if want := NumElements(shape) * dt.Size(); len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes for shape %v of %s, want %d",
			ErrShapeMismatch, len(data), shape, dt, want)
	}
	return &Array{dtype: dt, shape: slices.Clone(shape), data: data}, nil
}

// FromSlice builds an array from values. With no shape the result is 1-D.
func FromSlice[T Numeric](values []T, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	if NumElements(shape) != len(values) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(values), shape)
	}
	a := New(DTypeOf[T](), shape...)
	for i, v := range values {
		switch any(v).(type) {
		case float32, float64:
			a.SetFlat(i, float64(v))
		default:
			a.setFlatInt(i, int64(v))
		}
	}
	return a, nil
}

// FromBools builds a bool array from values.
func FromBools(values []bool, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	if NumElements(shape) != len(values) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(values), shape)
	}
	a := New(Bool, shape...)
	for i, v := range values {
		if v {
			a.data[i] = 1
		}
	}
	return a, nil
}

// Full returns an array with every element set to value.
func Full(dt DType, value float64, shape ...int) *Array {
	a := New(dt, shape...)
	a.Fill(value)
	return a
}

// NumElements returns the number of elements in shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (a *Array) DType() DType { return a.dtype }

// Shape returns a copy of the shape.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

func (a *Array) Rank() int { return len(a.shape) }

// Len returns the number of elements.
func (a *Array) Len() int { return NumElements(a.shape) }

// Bytes returns the underlying storage. Mutating it mutates the array.
func (a *Array) Bytes() []byte { return a.data }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{dtype: a.dtype, shape: slices.Clone(a.shape), data: slices.Clone(a.data)}
}

// Equal reports whether b has the same dtype, shape and bytes.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.dtype == b.dtype && slices.Equal(a.shape, b.shape) && bytes.Equal(a.data, b.data)
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(%s%v)", a.dtype, a.shape)
}

// Offset returns the flat index of idx.
func (a *Array) Offset(idx ...int) (int, error) {
	if len(idx) != len(a.shape) {
		return 0, fmt.Errorf("%w: %d indices for rank %d", ErrShapeMismatch, len(idx), len(a.shape))
	}
	off := 0
	for d, i := range idx {
		if i < 0 || i >= a.shape[d] {
			return 0, fmt.Errorf("%w: index %d on axis %d of size %d", ErrOutOfBounds, i, d, a.shape[d])
		}
		off = off*a.shape[d] + i
	}
	return off, nil
}

// At returns the element at idx as a float64. It panics on a bad index.
func (a *Array) At(idx ...int) float64 {
	off, err := a.Offset(idx...)
	if err != nil {
		panic(err)
	}
	return a.Flat(off)
}

// Set stores value at idx, converting it to the array's dtype.
func (a *Array) Set(value float64, idx ...int) {
	off, err := a.Offset(idx...)
	if err != nil {
		panic(err)
	}
	a.SetFlat(off, value)
}

// Flat returns the i'th element in row-major order.
func (a *Array) Flat(i int) float64 {
	sz := a.dtype.Size()
	return loadFloat(a.dtype, a.data[i*sz:(i+1)*sz])
}

// SetFlat stores value as the i'th element in row-major order.
func (a *Array) SetFlat(i int, value float64) {
	sz := a.dtype.Size()
	storeFloat(a.dtype, a.data[i*sz:(i+1)*sz], value)
}

func (a *Array) setFlatInt(i int, value int64) {
	sz := a.dtype.Size()
	storeBits(a.dtype, a.data[i*sz:(i+1)*sz], uint64(value))
}

// Fill sets every element to value.
func (a *Array) Fill(value float64) {
	sz := a.dtype.Size()
	if len(a.data) == 0 || sz == 0 {
		return
	}
	storeFloat(a.dtype, a.data[:sz], value)
	for n := sz; n < len(a.data); n *= 2 {
		copy(a.data[n:], a.data[:n])
	}
}

// Float64s returns every element converted to float64.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.Flat(i)
	}
	return out
}

// Int64s returns every element converted to int64. Floats truncate.
func (a *Array) Int64s() []int64 {
	out := make([]int64, a.Len())
	sz := a.dtype.Size()
	for i := range out {
		b := a.data[i*sz : (i+1)*sz]
		if a.dtype.IsFloat() {
			out[i] = int64(loadFloat(a.dtype, b))
		} else {
			out[i] = int64(loadBits(a.dtype, b))
		}
	}
	return out
}

// Values returns every element converted to T.
func Values[T Numeric](a *Array) []T {
	out := make([]T, a.Len())
	if a.dtype.IsFloat() {
		for i := range out {
			out[i] = T(a.Flat(i))
		}
		return out
	}
	for i, v := range a.Int64s() {
		out[i] = T(v)
	}
	return out
}

// Bools returns every element as a bool.
func (a *Array) Bools() []bool {
	out := make([]bool, a.Len())
	for i := range out {
		out[i] = a.Flat(i) != 0
	}
	return out
}

// Ints is Int64s as []int.
func (a *Array) Ints() []int {
	v := a.Int64s()
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

// Reshape returns an array sharing a's storage with a new shape of the
// same element count.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	if NumElements(shape) != a.Len() {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, a.shape, shape)
	}
	return &Array{dtype: a.dtype, shape: slices.Clone(shape), data: a.data}, nil
}

// AsType returns a copy of a converted to dt. Conversions follow numpy
// astype: floats truncate toward zero, integers wrap, and any nonzero
// value becomes true.
func (a *Array) AsType(dt DType) *Array {
	if dt == a.dtype {
		return a.Clone()
	}
	out := New(dt, a.shape...)
	Convert(out.data, dt, a.data, a.dtype)
	return out
}

// Convert converts the elements in src of type from into dst of type to.
func Convert(dst []byte, to DType, src []byte, from DType) {
	if to == from {
		copy(dst, src)
		return
	}
	ss, ds := from.Size(), to.Size()
	n := len(src) / ss
	for i := range n {
		in, out := src[i*ss:(i+1)*ss], dst[i*ds:(i+1)*ds]
		switch {
		case to.IsFloat() || from.IsFloat():
			v := loadFloat(from, in)
			if !to.IsFloat() && to != Bool {
				if to.IsUnsigned() && v >= 0 {
					storeBits(to, out, uint64(v))
				} else {
					storeBits(to, out, uint64(int64(v)))
				}
				continue
			}
			storeFloat(to, out, v)
		case to == Bool:
			storeBits(to, out, boolBits(loadBits(from, in) != 0))
		default:
			storeBits(to, out, loadBits(from, in))
		}
	}
}

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// loadBits returns an integer element sign- or zero-extended to 64 bits.
func loadBits(dt DType, b []byte) uint64 {
	switch dt {
	case Bool, Uint8:
		return uint64(b[0])
	case Int8:
		return uint64(int64(int8(b[0])))
	case Uint16:
		return uint64(binary.LittleEndian.Uint16(b))
	case Int16:
		return uint64(int64(int16(binary.LittleEndian.Uint16(b))))
	case Uint32:
		return uint64(binary.LittleEndian.Uint32(b))
	case Int32:
		return uint64(int64(int32(binary.LittleEndian.Uint32(b))))
	case Uint64, Int64:
		return binary.LittleEndian.Uint64(b)
	case Float32:
		return uint64(int64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case Float64:
		return uint64(int64(math.Float64frombits(binary.LittleEndian.Uint64(b))))
	}
	return 0
}

func storeBits(dt DType, b []byte, v uint64) {
	switch dt {
	case Bool:
		b[0] = byte(boolBits(v != 0))
	case Int8, Uint8:
		b[0] = byte(v)
	case Int16, Uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Int32, Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Int64, Uint64:
		binary.LittleEndian.PutUint64(b, v)
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(int64(v))))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(float64(int64(v))))
	}
}

func loadFloat(dt DType, b []byte) float64 {
	switch dt {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case Uint8, Uint16, Uint32, Bool:
		return float64(loadBits(dt, b))
	}
	return float64(int64(loadBits(dt, b)))
}

func storeFloat(dt DType, b []byte, v float64) {
	switch dt {
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	case Bool:
		b[0] = byte(boolBits(v != 0))
	case Uint64:
		if v >= 0 {
			binary.LittleEndian.PutUint64(b, uint64(v))
			return
		}
		storeBits(dt, b, uint64(int64(v)))
	default:
		storeBits(dt, b, uint64(int64(v)))
	}
}

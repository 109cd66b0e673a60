package dtype

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/robert-malhotra/h5path/array"
	h5bin "github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/heap"
	"github.com/robert-malhotra/h5path/internal/message"
)

// Encode returns the datatype, dataspace and payload storing value.
func Encode(value any) (*message.Datatype, *message.Dataspace, []byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil, nil, fmt.Errorf("%w: nil value", ErrUnsupported)
	case *array.Array:
		dt, err := FromArray(v.DType())
		if err != nil {
			return nil, nil, nil, err
		}
		ds := message.NewScalarDataspace()
		if v.Rank() > 0 {
			ds = message.NewSimpleDataspace(v.Shape())
		}
		return dt, ds, bytes.Clone(v.Bytes()), nil
	case string:
		dt := message.NewString(uint32(len(v)+1), message.PadNullTerm, message.CharsetUTF8)
		return dt, message.NewScalarDataspace(), encodeStrings([]string{v}, int(dt.Size)), nil
	case []string:
		width := 1
		for _, s := range v {
			width = max(width, len(s)+1)
		}
		dt := message.NewString(uint32(width), message.PadNullTerm, message.CharsetUTF8)
		return dt, message.NewSimpleDataspace([]int{len(v)}), encodeStrings(v, width), nil
	}

	rv := reflect.ValueOf(value)
	scalar := true
	n := 1
	elemKind := rv.Kind()
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		scalar = false
		n = rv.Len()
		elemKind = rv.Type().Elem().Kind()
	}
	dt, err := kindType(elemKind)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %T", err, value)
	}

	a := array.New(dt, n)
	for i := range n {
		elem := rv
		if !scalar {
			elem = rv.Index(i)
		}
		storeValue(a, i, elem)
	}
	mdt, err := FromArray(dt)
	if err != nil {
		return nil, nil, nil, err
	}
	ds := message.NewSimpleDataspace([]int{n})
	if scalar {
		ds = message.NewScalarDataspace()
	}
	return mdt, ds, a.Bytes(), nil
}

func kindType(k reflect.Kind) (array.DType, error) {
	switch k {
	case reflect.Bool:
		return array.Bool, nil
	case reflect.Int8:
		return array.Int8, nil
	case reflect.Uint8:
		return array.Uint8, nil
	case reflect.Int16:
		return array.Int16, nil
	case reflect.Uint16:
		return array.Uint16, nil
	case reflect.Int32:
		return array.Int32, nil
	case reflect.Uint32:
		return array.Uint32, nil
	case reflect.Int, reflect.Int64:
		return array.Int64, nil
	case reflect.Uint, reflect.Uint64:
		return array.Uint64, nil
	case reflect.Float32:
		return array.Float32, nil
	case reflect.Float64:
		return array.Float64, nil
	}
	return array.Invalid, ErrUnsupported
}

func storeValue(a *array.Array, i int, v reflect.Value) {
	size := a.DType().Size()
	b := a.Bytes()[i*size : (i+1)*size]
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			b[0] = 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		h5bin.EncodeUint(b, uint64(v.Int()), size, binary.LittleEndian)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		h5bin.EncodeUint(b, v.Uint(), size, binary.LittleEndian)
	case reflect.Float32, reflect.Float64:
		a.SetFlat(i, v.Float())
	}
}

func encodeStrings(values []string, width int) []byte {
	out := make([]byte, len(values)*width)
	for i, s := range values {
		copy(out[i*width:], s)
	}
	return out
}

// Decoder turns attribute payloads back into Go values.
type Decoder struct {
	Config h5bin.Config

	// Heap resolves variable-length strings. It may be nil when no
	// attribute uses them.
	Heap *heap.Cache
}

// Decode returns the value stored in data with datatype dt and dataspace
// ds.
func (d Decoder) Decode(dt *message.Datatype, ds *message.Dataspace, data []byte) (any, error) {
	if ds == nil || ds.SpaceType == message.DataspaceNull {
		return nil, nil
	}
	n := int(ds.NumElements())
	shape := ds.Shape()

	switch {
	case dt.Class == message.ClassString:
		strs, err := fixedStrings(dt, data, n)
		if err != nil {
			return nil, err
		}
		return stringValue(ds, strs), nil
	case dt.IsVarLenString():
		strs, err := d.varLenStrings(data, n)
		if err != nil {
			return nil, err
		}
		return stringValue(ds, strs), nil
	}

	if ds.IsScalar() {
		shape = nil
	}
	if len(data) < n*int(dt.Size) {
		return nil, fmt.Errorf("attribute payload has %d bytes, need %d", len(data), n*int(dt.Size))
	}
	a, err := ToArrayValue(dt, shape, data[:n*int(dt.Size)])
	if err != nil {
		return nil, err
	}
	switch a.Rank() {
	case 0:
		return scalarOf(a), nil
	case 1:
		return sliceOf(a), nil
	}
	return a, nil
}

func stringValue(ds *message.Dataspace, strs []string) any {
	if ds.IsScalar() {
		return strs[0]
	}
	return strs
}

func fixedStrings(dt *message.Datatype, data []byte, n int) ([]string, error) {
	size := int(dt.Size)
	if len(data) < n*size {
		return nil, fmt.Errorf("string payload has %d bytes, need %d", len(data), n*size)
	}
	out := make([]string, n)
	for i := range out {
		raw := data[i*size : (i+1)*size]
		if dt.StringPadding == message.PadSpacePad {
			out[i] = strings.TrimRight(string(raw), " ")
			continue
		}
		if j := bytes.IndexByte(raw, 0); j >= 0 {
			raw = raw[:j]
		}
		out[i] = string(raw)
	}
	return out, nil
}

// varLenStrings resolves elements stored as length + global heap ID.
func (d Decoder) varLenStrings(data []byte, n int) ([]string, error) {
	if d.Heap == nil {
		return nil, fmt.Errorf("%w: variable-length string without heap access", ErrUnsupported)
	}
	elem := 4 + d.Config.OffsetSize + 4
	if len(data) < n*elem {
		return nil, fmt.Errorf("variable-length payload has %d bytes, need %d", len(data), n*elem)
	}
	out := make([]string, n)
	for i := range out {
		raw := data[i*elem:]
		length := int(binary.LittleEndian.Uint32(raw))
		if length == 0 {
			continue
		}
		id, err := heap.ParseID(raw[4:], d.Config)
		if err != nil {
			return nil, err
		}
		if id.Collection == 0 {
			continue
		}
		obj, err := d.Heap.Object(id)
		if err != nil {
			return nil, fmt.Errorf("variable-length string %d: %w", i, err)
		}
		out[i] = string(obj[:min(length, len(obj))])
	}
	return out, nil
}

func scalarOf(a *array.Array) any {
	switch a.DType() {
	case array.Bool:
		return a.Flat(0) != 0
	case array.Int8:
		return int8(a.Int64s()[0])
	case array.Uint8:
		return uint8(a.Int64s()[0])
	case array.Int16:
		return int16(a.Int64s()[0])
	case array.Uint16:
		return uint16(a.Int64s()[0])
	case array.Int32:
		return int32(a.Int64s()[0])
	case array.Uint32:
		return uint32(a.Int64s()[0])
	case array.Int64:
		return a.Int64s()[0]
	case array.Uint64:
		return uint64(a.Int64s()[0])
	case array.Float32:
		return float32(a.Flat(0))
	}
	return a.Flat(0)
}

func sliceOf(a *array.Array) any {
	switch a.DType() {
	case array.Bool:
		return a.Bools()
	case array.Int8:
		return array.Values[int8](a)
	case array.Uint8:
		return array.Values[uint8](a)
	case array.Int16:
		return array.Values[int16](a)
	case array.Uint16:
		return array.Values[uint16](a)
	case array.Int32:
		return array.Values[int32](a)
	case array.Uint32:
		return array.Values[uint32](a)
	case array.Int64:
		return a.Int64s()
	case array.Uint64:
		return array.Values[uint64](a)
	case array.Float32:
		return array.Values[float32](a)
	}
	return a.Float64s()
}

// ToInts converts a decoded integer value or integer slice to []int.
func ToInts(v any) ([]int, bool) {
	switch x := v.(type) {
	case *array.Array:
		if x.DType().IsFloat() {
			return nil, false
		}
		return x.Ints(), true
	case []int:
		return x, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []int{int(rv.Int())}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []int{int(rv.Uint())}, true
	case reflect.Slice:
		out := make([]int, rv.Len())
		for i := range out {
			e := rv.Index(i)
			switch e.Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				out[i] = int(e.Int())
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				out[i] = int(e.Uint())
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

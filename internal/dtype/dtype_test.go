package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/heap"
	"github.com/robert-malhotra/h5path/internal/message"
)

func TestArrayMappingRoundTrip(t *testing.T) {
	for _, dt := range []array.DType{
		array.Bool, array.Int8, array.Uint8, array.Int16, array.Uint16,
		array.Int32, array.Uint32, array.Int64, array.Uint64, array.Float32, array.Float64,
	} {
		t.Run(dt.String(), func(t *testing.T) {
			m, err := FromArray(dt)
			require.NoError(t, err)
			assert.Equal(t, uint32(dt.Size()), m.Size)
			got, err := ToArray(m)
			require.NoError(t, err)
			assert.Equal(t, dt, got)
		})
	}
	_, err := FromArray(array.Invalid)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestToArrayOtherClasses(t *testing.T) {
	enum := message.NewEnum(message.NewFixedPoint(2, false, message.OrderLE),
		[]string{"A", "B"}, [][]byte{{0, 0}, {1, 0}})
	dt, err := ToArray(enum)
	require.NoError(t, err)
	assert.Equal(t, array.Uint16, dt)

	bitfield := &message.Datatype{Class: message.ClassBitfield, Size: 4, Signed: true}
	dt, err = ToArray(bitfield)
	require.NoError(t, err)
	assert.Equal(t, array.Uint32, dt)

	_, err = ToArray(message.NewString(4, message.PadNullTerm, message.CharsetASCII))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = ToArray(&message.Datatype{Class: message.ClassFixedPoint, Size: 3})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, IsNumeric(nil))
}

func TestToNativeSwapsBigEndian(t *testing.T) {
	be := message.NewFixedPoint(2, false, message.OrderBE)
	a, err := ToArrayValue(be, []int{2}, []byte{0x01, 0x02, 0x00, 0x05})
	require.NoError(t, err)
	assert.Equal(t, []int64{0x0102, 5}, a.Int64s())

	le := message.NewFloat(4, message.OrderLE)
	data := []byte{0, 0, 0x80, 0x3f}
	assert.Same(t, &data[0], &ToNative(le, data)[0])

	bef := message.NewFloat(8, message.OrderBE)
	a, err = ToArrayValue(bef, nil, []byte{0x40, 0x09, 0x21, 0xfb, 0x54, 0x44, 0x2d, 0x18})
	require.NoError(t, err)
	assert.InDelta(t, 3.14159265, a.At(), 1e-8)
}

func TestEncodeDecodeValues(t *testing.T) {
	dec := Decoder{Config: binary.DefaultConfig()}
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "H&E", "H&E"},
		{"empty string", "", ""},
		{"strings", []string{"a", "bcd"}, []string{"a", "bcd"}},
		{"bool", true, true},
		{"bools", []bool{true, false}, []bool{true, false}},
		{"int widens", 42, int64(42)},
		{"int8", int8(-3), int8(-3)},
		{"uint16", uint16(600), uint16(600)},
		{"float32", float32(0.5), float32(0.5)},
		{"float64", 2.25, 2.25},
		{"ints", []int{0, 256, 3}, []int64{0, 256, 3}},
		{"uint8s", []uint8{1, 2}, []uint8{1, 2}},
		{"float64s", []float64{1.5, -2}, []float64{1.5, -2}},
		{"empty ints", []int{}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt, ds, data, err := Encode(tt.in)
			require.NoError(t, err)
			got, err := dec.Decode(dt, ds, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeArrayValue(t *testing.T) {
	a, err := array.FromSlice([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	dt, ds, data, err := Encode(a)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ds.Shape())

	got, err := Decoder{}.Decode(dt, ds, data)
	require.NoError(t, err)
	require.IsType(t, &array.Array{}, got)
	assert.True(t, a.Equal(got.(*array.Array)))

	scalar := array.Full(array.Uint8, 7)
	dt, ds, data, err = Encode(scalar)
	require.NoError(t, err)
	assert.True(t, ds.IsScalar())
	got, err = Decoder{}.Decode(dt, ds, data)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), got)
}

func TestEncodeUnsupported(t *testing.T) {
	for _, v := range []any{nil, struct{}{}, map[string]int{}, [][]int{{1}}} {
		_, _, _, err := Encode(v)
		assert.ErrorIs(t, err, ErrUnsupported, "%T", v)
	}
}

func TestDecodeSpacePaddedString(t *testing.T) {
	dt := message.NewString(6, message.PadSpacePad, message.CharsetASCII)
	got, err := Decoder{}.Decode(dt, message.NewScalarDataspace(), []byte("tile  "))
	require.NoError(t, err)
	assert.Equal(t, "tile", got)

	got, err = Decoder{}.Decode(dt, &message.Dataspace{SpaceType: message.DataspaceNull}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeVarLenString(t *testing.T) {
	cfg := binary.DefaultConfig()

	// one global heap collection at 0 holding "tumor" as object 1
	w, buf := binary.NewBufferWriter(cfg, 64)
	require.NoError(t, w.WriteBytes([]byte("GCOL")))
	require.NoError(t, w.WriteUint8(1))
	require.NoError(t, w.WriteZeros(3))
	require.NoError(t, w.WriteLength(4096))
	require.NoError(t, w.WriteUint16(1))
	require.NoError(t, w.WriteZeros(6))
	require.NoError(t, w.WriteLength(5))
	require.NoError(t, w.WriteBytes([]byte("tumor")))
	require.NoError(t, w.WritePadding(8))
	require.NoError(t, w.WriteUint16(0))
	require.NoError(t, w.WriteZeros(64))

	// the collection address 0 is reserved for "no object", so place it at 8
	file := binary.NewBuffer(0)
	_, _ = file.WriteAt(buf.Bytes(), 8)
	dec := Decoder{Config: cfg, Heap: heap.NewCache(binary.NewReader(file, cfg))}

	payload := make([]byte, 16)
	payload[0] = 5
	payload[4] = 8
	payload[12] = 1
	vt := &message.Datatype{Class: message.ClassVarLen, ClassBits: 1, Size: 16}
	got, err := dec.Decode(vt, message.NewScalarDataspace(), payload)
	require.NoError(t, err)
	assert.Equal(t, "tumor", got)

	_, err = Decoder{Config: cfg}.Decode(vt, message.NewScalarDataspace(), payload)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestToInts(t *testing.T) {
	for _, v := range []any{[]int64{0, 256}, []int32{0, 256}, []uint64{0, 256}, []int{0, 256}} {
		got, ok := ToInts(v)
		require.True(t, ok, "%T", v)
		assert.Equal(t, []int{0, 256}, got)
	}
	got, ok := ToInts(int64(5))
	assert.True(t, ok)
	assert.Equal(t, []int{5}, got)

	_, ok = ToInts([]float64{1})
	assert.False(t, ok)
	_, ok = ToInts("(0, 256)")
	assert.False(t, ok)
}

package message

import (
	"encoding/binary"
	"fmt"

	h5bin "github.com/robert-malhotra/h5path/internal/binary"
)

// LayoutClass is the storage class of a dataset.
type LayoutClass uint8

const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// ChunkIndexType identifies the structure that maps chunk coordinates to
// file addresses. Version 3 layouts always use a version 1 B-tree.
type ChunkIndexType uint8

const (
	IndexBTreeV1         ChunkIndexType = 0
	IndexSingleChunk     ChunkIndexType = 1
	IndexImplicit        ChunkIndexType = 2
	IndexFixedArray      ChunkIndexType = 3
	IndexExtensibleArray ChunkIndexType = 4
	IndexBTreeV2         ChunkIndexType = 5
)

func (t ChunkIndexType) String() string {
	switch t {
	case IndexBTreeV1:
		return "btree-v1"
	case IndexSingleChunk:
		return "single"
	case IndexImplicit:
		return "implicit"
	case IndexFixedArray:
		return "fixed-array"
	case IndexExtensibleArray:
		return "extensible-array"
	case IndexBTreeV2:
		return "btree-v2"
	}
	return fmt.Sprintf("index(%d)", uint8(t))
}

// Chunked layout flags (version 4).
const (
	LayoutFlagDontFilterPartial = 0x01
	LayoutFlagSingleFiltered    = 0x02
)

// DataLayout is a data layout message (type 0x0008).
type DataLayout struct {
	Version uint8
	Class   LayoutClass

	// Address is the raw data for contiguous storage and the chunk index
	// for chunked storage. Undefined until storage is allocated.
	Address uint64
	Size    uint64 // contiguous only

	CompactData []byte

	ChunkDims   []uint32 // per dataset dimension, element size excluded
	ElementSize uint32
	Flags       uint8
	IndexType   ChunkIndexType
	PageBits    uint8 // fixed array

	SingleFilteredSize uint64
	SingleFilterMask   uint32

	// IndexParams keeps extensible array and v2 B-tree parameters verbatim.
	IndexParams []byte
}

func (m *DataLayout) Type() Type { return TypeDataLayout }

// IsChunked reports whether the dataset uses chunked storage.
func (m *DataLayout) IsChunked() bool { return m.Class == LayoutChunked }

// NewChunkedLayout returns a version 4 layout indexed by a fixed array, or
// by a single chunk when the dataset fits in one.
func NewChunkedLayout(chunk []int, elemSize int, index ChunkIndexType, pageBits uint8) *DataLayout {
	dims := make([]uint32, len(chunk))
	for i, c := range chunk {
		dims[i] = uint32(c)
	}
	return &DataLayout{
		Version:     4,
		Class:       LayoutChunked,
		Address:     ^uint64(0),
		ChunkDims:   dims,
		ElementSize: uint32(elemSize),
		IndexType:   index,
		PageBits:    pageBits,
	}
}

// NewContiguousLayout returns a contiguous layout.
func NewContiguousLayout(addr, size uint64) *DataLayout {
	return &DataLayout{Version: 3, Class: LayoutContiguous, Address: addr, Size: size}
}

// NewCompactLayout returns a layout that stores data in the header.
func NewCompactLayout(data []byte) *DataLayout {
	return &DataLayout{Version: 3, Class: LayoutCompact, CompactData: data}
}

func parseDataLayout(data []byte, r *h5bin.Reader) (*DataLayout, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("data layout message too short")
	}
	m := &DataLayout{Version: data[0]}
	switch m.Version {
	case 1, 2:
		return parseLayoutV1(m, data, r)
	case 3, 4:
		return parseLayoutV3(m, data, r)
	}
	return nil, fmt.Errorf("unsupported data layout version %d", m.Version)
}

// layoutCursor reads fields from a message body, remembering the first
// overrun.
type layoutCursor struct {
	data  []byte
	pos   int
	order binary.ByteOrder
	err   error
}

func (c *layoutCursor) uint(n int) uint64 {
	if c.err != nil {
		return 0
	}
	if c.pos+n > len(c.data) {
		c.err = fmt.Errorf("data layout message truncated")
		return 0
	}
	v := h5bin.DecodeUint(c.data[c.pos:], n, c.order)
	c.pos += n
	return v
}

func (c *layoutCursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.pos+n > len(c.data) {
		c.err = fmt.Errorf("data layout message truncated")
		return nil
	}
	b := append([]byte(nil), c.data[c.pos:c.pos+n]...)
	c.pos += n
	return b
}

func parseLayoutV1(m *DataLayout, data []byte, r *h5bin.Reader) (*DataLayout, error) {
	c := &layoutCursor{data: data, order: binary.LittleEndian}
	c.pos = 1
	ndims := int(c.uint(1))
	m.Class = LayoutClass(c.uint(1))
	c.pos += 5
	if m.Class != LayoutCompact {
		m.Address = c.uint(r.OffsetSize())
	}
	dims := make([]uint32, ndims)
	for i := range dims {
		dims[i] = uint32(c.uint(4))
	}
	switch m.Class {
	case LayoutChunked:
		if ndims > 0 {
			m.ChunkDims = dims[:ndims-1]
			m.ElementSize = dims[ndims-1]
		}
		m.IndexType = IndexBTreeV1
	case LayoutCompact:
		size := int(c.uint(4))
		m.CompactData = c.bytes(size)
	case LayoutContiguous:
		m.Size = 1
		for _, d := range dims {
			m.Size *= uint64(d)
		}
	}
	return m, c.err
}

func parseLayoutV3(m *DataLayout, data []byte, r *h5bin.Reader) (*DataLayout, error) {
	c := &layoutCursor{data: data, order: binary.LittleEndian}
	c.pos = 1
	m.Class = LayoutClass(c.uint(1))

	switch m.Class {
	case LayoutCompact:
		size := int(c.uint(2))
		m.CompactData = c.bytes(size)
	case LayoutContiguous:
		m.Address = c.uint(r.OffsetSize())
		m.Size = c.uint(r.LengthSize())
	case LayoutChunked:
		if m.Version == 3 {
			ndims := int(c.uint(1))
			m.Address = c.uint(r.OffsetSize())
			dims := make([]uint32, ndims)
			for i := range dims {
				dims[i] = uint32(c.uint(4))
			}
			if ndims > 0 {
				m.ChunkDims = dims[:ndims-1]
				m.ElementSize = dims[ndims-1]
			}
			m.IndexType = IndexBTreeV1
			break
		}
		m.Flags = uint8(c.uint(1))
		ndims := int(c.uint(1))
		width := int(c.uint(1))
		dims := make([]uint32, ndims)
		for i := range dims {
			dims[i] = uint32(c.uint(width))
		}
		if ndims > 0 {
			m.ChunkDims = dims[:ndims-1]
			m.ElementSize = dims[ndims-1]
		}
		m.IndexType = ChunkIndexType(c.uint(1))
		switch m.IndexType {
		case IndexSingleChunk:
			if m.Flags&LayoutFlagSingleFiltered != 0 {
				m.SingleFilteredSize = c.uint(r.LengthSize())
				m.SingleFilterMask = uint32(c.uint(4))
			}
		case IndexImplicit:
		case IndexFixedArray:
			m.PageBits = uint8(c.uint(1))
		case IndexExtensibleArray:
			m.IndexParams = c.bytes(5)
		case IndexBTreeV2:
			m.IndexParams = c.bytes(6)
		default:
			return nil, fmt.Errorf("unknown chunk index type %d", m.IndexType)
		}
		m.Address = c.uint(r.OffsetSize())
	case LayoutVirtual:
		return nil, fmt.Errorf("virtual dataset layout is not supported")
	default:
		return nil, fmt.Errorf("unknown layout class %d", m.Class)
	}
	return m, c.err
}

// dimWidth returns the bytes needed to encode the largest chunk dimension.
func (m *DataLayout) dimWidth() int {
	largest := uint64(m.ElementSize)
	for _, d := range m.ChunkDims {
		largest = max(largest, uint64(d))
	}
	n := 1
	for largest >= 1<<(8*n) && n < 8 {
		n++
	}
	return n
}

func (m *DataLayout) version() uint8 {
	if m.Class == LayoutChunked && m.IndexType != IndexBTreeV1 {
		return 4
	}
	return 3
}

// Serialize writes a version 3 layout, or version 4 for chunked datasets
// not indexed by a v1 B-tree.
func (m *DataLayout) Serialize(w *h5bin.Writer) error {
	e := &encoder{w: w}
	version := m.version()
	e.u8(version)
	e.u8(uint8(m.Class))

	switch m.Class {
	case LayoutCompact:
		e.u16(uint16(len(m.CompactData)))
		e.bytes(m.CompactData)
	case LayoutContiguous:
		e.offset(m.Address)
		e.length(m.Size)
	case LayoutChunked:
		if version == 3 {
			e.u8(uint8(len(m.ChunkDims) + 1))
			e.offset(m.Address)
			for _, d := range m.ChunkDims {
				e.u32(d)
			}
			e.u32(m.ElementSize)
			break
		}
		width := m.dimWidth()
		e.u8(m.Flags)
		e.u8(uint8(len(m.ChunkDims) + 1))
		e.u8(uint8(width))
		for _, d := range m.ChunkDims {
			e.uintN(uint64(d), width)
		}
		e.uintN(uint64(m.ElementSize), width)
		e.u8(uint8(m.IndexType))
		switch m.IndexType {
		case IndexSingleChunk:
			if m.Flags&LayoutFlagSingleFiltered != 0 {
				e.length(m.SingleFilteredSize)
				e.u32(m.SingleFilterMask)
			}
		case IndexFixedArray:
			e.u8(m.PageBits)
		case IndexExtensibleArray, IndexBTreeV2:
			e.bytes(m.IndexParams)
		}
		e.offset(m.Address)
	default:
		return fmt.Errorf("cannot serialize layout class %d", m.Class)
	}
	return e.err
}

func (m *DataLayout) SerializedSize(w *h5bin.Writer) int {
	switch m.Class {
	case LayoutCompact:
		return 4 + len(m.CompactData)
	case LayoutContiguous:
		return 2 + w.OffsetSize() + w.LengthSize()
	case LayoutChunked:
		if m.version() == 3 {
			return 3 + w.OffsetSize() + 4*(len(m.ChunkDims)+1)
		}
		size := 5 + m.dimWidth()*(len(m.ChunkDims)+1) + 1 + w.OffsetSize()
		switch m.IndexType {
		case IndexSingleChunk:
			if m.Flags&LayoutFlagSingleFiltered != 0 {
				size += w.LengthSize() + 4
			}
		case IndexFixedArray:
			size++
		case IndexExtensibleArray, IndexBTreeV2:
			size += len(m.IndexParams)
		}
		return size
	}
	return 0
}

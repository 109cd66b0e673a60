package heap

import (
	"fmt"
	"sync"

	"github.com/robert-malhotra/h5path/internal/binary"
)

// ID addresses one object in a global heap collection.
type ID struct {
	Collection uint64
	Index      uint32
}

// ParseID decodes a heap ID stored as a collection address and index.
func ParseID(data []byte, cfg binary.Config) (ID, error) {
	if len(data) < cfg.OffsetSize+4 {
		return ID{}, fmt.Errorf("global heap ID needs %d bytes, have %d", cfg.OffsetSize+4, len(data))
	}
	return ID{
		Collection: binary.DecodeUint(data, cfg.OffsetSize, cfg.ByteOrder),
		Index:      uint32(binary.DecodeUint(data[cfg.OffsetSize:], 4, cfg.ByteOrder)),
	}, nil
}

// Collection is a parsed global heap collection.
type Collection struct {
	Address uint64
	objects map[uint16][]byte
}

// ReadCollection reads the global heap collection at address.
func ReadCollection(r *binary.Reader, address uint64) (*Collection, error) {
	hr := r.At(int64(address))
	prefix, err := hr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading global heap at 0x%x: %w", address, err)
	}
	if string(prefix[:4]) != "GCOL" {
		return nil, fmt.Errorf("bad global heap signature %q at 0x%x", prefix[:4], address)
	}
	if prefix[4] != 1 {
		return nil, fmt.Errorf("unsupported global heap version %d", prefix[4])
	}
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}

	c := &Collection{Address: address, objects: make(map[uint16][]byte)}
	end := int64(address) + int64(size)
	objHeader := int64(8 + hr.LengthSize())
	for hr.Pos()+objHeader <= end {
		index, err := hr.ReadUint16()
		if err != nil {
			return nil, err
		}
		if index == 0 {
			// free space runs to the end of the collection
			break
		}
		hr.Skip(6) // reference count, reserved
		n, err := hr.ReadLength()
		if err != nil {
			return nil, err
		}
		data, err := hr.ReadBytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("global heap object %d: %w", index, err)
		}
		c.objects[index] = data
		hr.Align(8)
	}
	return c, nil
}

// Object returns a copy of the object at index.
func (c *Collection) Object(index uint32) ([]byte, error) {
	data, ok := c.objects[uint16(index)]
	if !ok {
		return nil, fmt.Errorf("global heap 0x%x has no object %d", c.Address, index)
	}
	return append([]byte(nil), data...), nil
}

// Cache memoizes collections by address. It is safe for concurrent use.
type Cache struct {
	r    *binary.Reader
	mu   sync.Mutex
	cols map[uint64]*Collection
}

// NewCache returns a cache reading through r.
func NewCache(r *binary.Reader) *Cache {
	return &Cache{r: r, cols: make(map[uint64]*Collection)}
}

// Object resolves id, reading its collection on first use.
func (c *Cache) Object(id ID) ([]byte, error) {
	c.mu.Lock()
	col, ok := c.cols[id.Collection]
	c.mu.Unlock()
	if !ok {
		var err error
		if col, err = ReadCollection(c.r, id.Collection); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cols[id.Collection] = col
		c.mu.Unlock()
	}
	return col.Object(id.Index)
}

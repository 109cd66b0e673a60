package layout

import (
	"fmt"
	"math/bits"

	"github.com/robert-malhotra/h5path/internal/alloc"
	"github.com/robert-malhotra/h5path/internal/binary"
)

/*
Fixed array chunk index:

	FAHD: "FAHD", version 0, client (0 plain, 1 filtered), entry size,
	      page bits, max entries (length), data block address, checksum
	FADB: "FADB", version 0, client, header address,
	      [page init bitmap], entries | checksum, [pages]

A filtered entry is address, chunk size (variable width) and filter mask.
When there are more entries than one page holds, entries live in pages
that follow the block prefix, each with its own checksum.
*/

const (
	faClientPlain    = 0
	faClientFiltered = 1
	minPageBits      = 10
)

// PageBits returns the page size exponent that keeps n entries in one
// unpaged data block.
func PageBits(n int) uint8 {
	b := minPageBits
	if n > 1 {
		b = max(b, bits.Len(uint(n-1)))
	}
	return uint8(b)
}

// chunkSizeLen is the width of the stored chunk size in a filtered entry.
func chunkSizeLen(chunkBytes int) int {
	n := 1 + (bits.Len64(uint64(max(chunkBytes, 1)))-1+8)/8
	return min(n, 8)
}

// FixedArray describes the encoded index for n chunks.
type FixedArray struct {
	cfg        binary.Config
	n          int
	filtered   bool
	chunkBytes int
}

// NewFixedArray prepares an index for n chunks.
func NewFixedArray(cfg binary.Config, n int, filtered bool, chunkBytes int) FixedArray {
	return FixedArray{cfg: cfg, n: n, filtered: filtered, chunkBytes: chunkBytes}
}

func (fa FixedArray) entrySize() int {
	if fa.filtered {
		return fa.cfg.OffsetSize + chunkSizeLen(fa.chunkBytes) + 4
	}
	return fa.cfg.OffsetSize
}

func (fa FixedArray) client() uint8 {
	if fa.filtered {
		return faClientFiltered
	}
	return faClientPlain
}

// HeaderSize returns the FAHD size.
func (fa FixedArray) HeaderSize() int {
	return 4 + 4 + fa.cfg.LengthSize + fa.cfg.OffsetSize + 4
}

// DataBlockSize returns the FADB size.
func (fa FixedArray) DataBlockSize() int {
	return 6 + fa.cfg.OffsetSize + fa.n*fa.entrySize() + 4
}

// PageBits returns the page bits the header records.
func (fa FixedArray) PageBits() uint8 { return PageBits(fa.n) }

// Encode returns the header and data block for entries, to be written at
// hdrAddr and dataAddr.
func (fa FixedArray) Encode(hdrAddr, dataAddr uint64, entries []Entry) (hdr, data []byte, err error) {
	if len(entries) != fa.n {
		return nil, nil, fmt.Errorf("fixed array sized for %d entries, got %d", fa.n, len(entries))
	}

	w, buf := binary.NewBufferWriter(fa.cfg, fa.HeaderSize())
	e := errs{}
	e.do(w.WriteBytes([]byte("FAHD")))
	e.do(w.WriteUint8(0))
	e.do(w.WriteUint8(fa.client()))
	e.do(w.WriteUint8(uint8(fa.entrySize())))
	e.do(w.WriteUint8(fa.PageBits()))
	e.do(w.WriteLength(uint64(fa.n)))
	e.do(w.WriteOffset(dataAddr))
	e.do(w.WriteUint32(binary.Lookup3Checksum(buf.Bytes())))
	hdr = buf.Bytes()

	sizeLen := chunkSizeLen(fa.chunkBytes)
	w, buf = binary.NewBufferWriter(fa.cfg, fa.DataBlockSize())
	e.do(w.WriteBytes([]byte("FADB")))
	e.do(w.WriteUint8(0))
	e.do(w.WriteUint8(fa.client()))
	e.do(w.WriteOffset(hdrAddr))
	for _, ent := range entries {
		addr := ent.Addr
		if addr == Undefined {
			addr = binary.Undefined(fa.cfg.OffsetSize)
		}
		e.do(w.WriteOffset(addr))
		if fa.filtered {
			size := ent.Size
			if !ent.Stored() {
				size = 0
			}
			e.do(w.WriteUintN(size, sizeLen))
			e.do(w.WriteUint32(ent.Mask))
		}
	}
	e.do(w.WriteUint32(binary.Lookup3Checksum(buf.Bytes())))
	if e.err != nil {
		return nil, nil, e.err
	}
	return hdr, buf.Bytes(), nil
}

type errs struct{ err error }

func (e *errs) do(err error) {
	if e.err == nil {
		e.err = err
	}
}

// ReadFixedArray reads a fixed array index holding n chunks. It also
// returns the file blocks the index occupies.
func ReadFixedArray(r *binary.Reader, addr uint64, n, chunkBytes int) ([]Entry, []alloc.Block, error) {
	o, l := r.OffsetSize(), r.LengthSize()
	hdr, err := r.At(int64(addr)).ReadBytes(12 + l + o)
	if err != nil {
		return nil, nil, fmt.Errorf("reading fixed array header: %w", err)
	}
	if string(hdr[:4]) != "FAHD" {
		return nil, nil, fmt.Errorf("bad fixed array signature %q", hdr[:4])
	}
	if hdr[4] != 0 {
		return nil, nil, fmt.Errorf("unsupported fixed array version %d", hdr[4])
	}
	if !verifyTail(hdr) {
		return nil, nil, fmt.Errorf("fixed array header checksum mismatch")
	}
	client, entrySize, pageBits := hdr[5], int(hdr[6]), int(hdr[7])
	order := r.ByteOrder()
	count := int(binary.DecodeUint(hdr[8:], l, order))
	dataAddr := binary.DecodeUint(hdr[8+l:], o, order)
	if count < n {
		return nil, nil, fmt.Errorf("fixed array holds %d entries, dataset needs %d", count, n)
	}

	entries := Empty(n)
	blocks := []alloc.Block{{Addr: addr, Size: uint64(len(hdr))}}
	if r.IsUndefinedOffset(dataAddr) {
		return entries, blocks, nil
	}

	filtered := client == faClientFiltered
	sizeLen := entrySize - o - 4
	if filtered && (sizeLen < 1 || sizeLen > 8) {
		return nil, nil, fmt.Errorf("fixed array entry size %d is invalid", entrySize)
	}
	decode := func(raw []byte, i int) {
		if i >= n {
			return
		}
		a := binary.DecodeUint(raw, o, order)
		if r.IsUndefinedOffset(a) || a == 0 {
			return
		}
		e := Entry{Addr: a, Size: uint64(chunkBytes)}
		if filtered {
			e.Size = binary.DecodeUint(raw[o:], sizeLen, order)
			e.Mask = uint32(binary.DecodeUint(raw[o+sizeLen:], 4, order))
		}
		entries[i] = e
	}

	prefix := 6 + o
	pageElems := 1 << pageBits
	if count <= pageElems {
		block, err := r.At(int64(dataAddr)).ReadBytes(prefix + count*entrySize + 4)
		if err != nil {
			return nil, nil, fmt.Errorf("reading fixed array data block: %w", err)
		}
		if string(block[:4]) != "FADB" || !verifyTail(block) {
			return nil, nil, fmt.Errorf("fixed array data block is corrupt")
		}
		for i := range count {
			decode(block[prefix+i*entrySize:], i)
		}
		return entries, append(blocks, alloc.Block{Addr: dataAddr, Size: uint64(len(block))}), nil
	}

	npages := (count + pageElems - 1) / pageElems
	bitmapLen := (npages + 7) / 8
	block, err := r.At(int64(dataAddr)).ReadBytes(prefix + bitmapLen + 4)
	if err != nil {
		return nil, nil, fmt.Errorf("reading fixed array data block: %w", err)
	}
	if string(block[:4]) != "FADB" || !verifyTail(block) {
		return nil, nil, fmt.Errorf("fixed array data block is corrupt")
	}
	bitmap := block[prefix : prefix+bitmapLen]
	pos := int64(dataAddr) + int64(len(block))
	for p := range npages {
		elems := min(pageElems, count-p*pageElems)
		size := elems*entrySize + 4
		if bitmap[p/8]&(0x80>>(p%8)) != 0 {
			page, err := r.At(pos).ReadBytes(size)
			if err != nil {
				return nil, nil, fmt.Errorf("reading fixed array page %d: %w", p, err)
			}
			if !verifyTail(page) {
				return nil, nil, fmt.Errorf("fixed array page %d checksum mismatch", p)
			}
			for i := range elems {
				decode(page[i*entrySize:], p*pageElems+i)
			}
		}
		pos += int64(size)
	}
	blocks = append(blocks, alloc.Block{Addr: dataAddr, Size: uint64(pos) - dataAddr})
	return entries, blocks, nil
}

func verifyTail(block []byte) bool {
	n := len(block) - 4
	stored := uint32(block[n]) | uint32(block[n+1])<<8 | uint32(block[n+2])<<16 | uint32(block[n+3])<<24
	return binary.VerifyLookup3(block[:n], stored)
}

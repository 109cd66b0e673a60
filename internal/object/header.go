package object

import (
	gobinary "encoding/binary"
	"errors"
	"fmt"

	"github.com/robert-malhotra/h5path/internal/binary"
	"github.com/robert-malhotra/h5path/internal/message"
)

var (
	signatureV2   = []byte("OHDR")
	signatureCont = []byte("OCHK")
)

var (
	ErrInvalidHeader      = errors.New("invalid object header")
	ErrUnsupportedVersion = errors.New("unsupported object header version")
	ErrChecksumMismatch   = errors.New("object header checksum mismatch")
	ErrMessageTooLarge    = errors.New("header message exceeds 65535 bytes")
)

// Span is a block of file space occupied by part of a header.
type Span struct {
	Addr uint64
	Size uint64
}

// Header is a parsed object header.
type Header struct {
	Version  uint8
	Address  uint64
	Flags    uint8
	RefCount uint32
	Messages []message.Message

	// Spans lists the chunks the header occupies, the first chunk first.
	Spans []Span

	AccessTime uint32
	ModTime    uint32
	ChangeTime uint32
	BirthTime  uint32
}

// Read parses the object header at address.
func Read(r *binary.Reader, address uint64) (*Header, error) {
	hr := r.At(int64(address))
	peek, err := hr.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading object header at 0x%x: %w", address, err)
	}
	if string(peek) == string(signatureV2) {
		return readV2(hr, address)
	}
	if peek[0] == 1 {
		return readV1(hr, address)
	}
	return nil, fmt.Errorf("%w: no header at 0x%x", ErrInvalidHeader, address)
}

// Message returns the first message of typ, or nil.
func (h *Header) Message(typ message.Type) message.Message {
	for _, m := range h.Messages {
		if m.Type() == typ {
			return m
		}
	}
	return nil
}

// All returns every message of typ in header order.
func (h *Header) All(typ message.Type) []message.Message {
	var out []message.Message
	for _, m := range h.Messages {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

// Dataspace returns the dataspace message, or nil.
func (h *Header) Dataspace() *message.Dataspace {
	m, _ := h.Message(message.TypeDataspace).(*message.Dataspace)
	return m
}

// Datatype returns the datatype message, or nil.
func (h *Header) Datatype() *message.Datatype {
	m, _ := h.Message(message.TypeDatatype).(*message.Datatype)
	return m
}

// Layout returns the data layout message, or nil.
func (h *Header) Layout() *message.DataLayout {
	m, _ := h.Message(message.TypeDataLayout).(*message.DataLayout)
	return m
}

// FilterPipeline returns the filter pipeline message, or nil.
func (h *Header) FilterPipeline() *message.FilterPipeline {
	m, _ := h.Message(message.TypeFilterPipeline).(*message.FilterPipeline)
	return m
}

// FillValue returns the fill value message, or nil.
func (h *Header) FillValue() *message.FillValue {
	m, _ := h.Message(message.TypeFillValue).(*message.FillValue)
	return m
}

// SymbolTable returns the symbol table message of an old-style group.
func (h *Header) SymbolTable() *message.SymbolTable {
	m, _ := h.Message(message.TypeSymbolTable).(*message.SymbolTable)
	return m
}

// Links returns the header-resident links.
func (h *Header) Links() []*message.Link {
	var out []*message.Link
	for _, m := range h.Messages {
		if l, ok := m.(*message.Link); ok {
			out = append(out, l)
		}
	}
	return out
}

// Attributes returns the header-resident attributes.
func (h *Header) Attributes() []*message.Attribute {
	var out []*message.Attribute
	for _, m := range h.Messages {
		if a, ok := m.(*message.Attribute); ok {
			out = append(out, a)
		}
	}
	return out
}

// IsGroup reports whether the header describes a group.
func (h *Header) IsGroup() bool {
	return h.Message(message.TypeLinkInfo) != nil || h.SymbolTable() != nil
}

// IsDataset reports whether the header describes a dataset.
func (h *Header) IsDataset() bool {
	return h.Layout() != nil
}

// HasDenseLinks reports whether links live in a fractal heap, which this
// package does not read.
func (h *Header) HasDenseLinks() bool {
	li, ok := h.Message(message.TypeLinkInfo).(*message.LinkInfo)
	return ok && li.HasDenseStorage()
}

// HasDenseAttributes reports whether attributes live in a fractal heap.
// An attribute info message whose heap address is undefined only records
// creation order for compact attributes.
func (h *Header) HasDenseAttributes(offsetSize int) bool {
	u, ok := h.Message(message.TypeAttributeInfo).(*message.Unknown)
	if !ok {
		return false
	}
	data := u.Data()
	pos := 2
	if len(data) < pos {
		return true
	}
	if data[1]&0x01 != 0 {
		pos += 2
	}
	if len(data) < pos+offsetSize {
		return true
	}
	addr := binary.DecodeUint(data[pos:], offsetSize, gobinary.LittleEndian)
	return addr != binary.Undefined(offsetSize)
}

package filter

import (
	"fmt"

	"github.com/robert-malhotra/h5path/internal/message"
)

// Pipeline applies an ordered list of filters to chunks.
type Pipeline struct {
	filters []Filter
	infos   []message.Filter
	slots   []int // position of each filter in the message, for the mask
}

// NewPipeline builds a pipeline from a filter pipeline message. A nil
// message yields an empty pipeline.
func NewPipeline(fp *message.FilterPipeline, elemSize int) (*Pipeline, error) {
	p := &Pipeline{}
	if fp == nil {
		return p, nil
	}
	for i, info := range fp.Filters {
		f, err := New(info, elemSize)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		p.filters = append(p.filters, f)
		p.infos = append(p.infos, info)
		p.slots = append(p.slots, i)
	}
	return p, nil
}

// Empty reports whether the pipeline has no filters.
func (p *Pipeline) Empty() bool { return len(p.filters) == 0 }

// Len returns the number of active filters.
func (p *Pipeline) Len() int { return len(p.filters) }

// Encode runs the filters in order and returns the filter mask. An
// optional filter that fails is skipped and its bit set in the mask.
func (p *Pipeline) Encode(data []byte) ([]byte, uint32, error) {
	var mask uint32
	for i, f := range p.filters {
		out, err := f.Encode(data)
		if err != nil {
			if p.infos[i].Optional() {
				mask |= 1 << p.slots[i]
				continue
			}
			return nil, 0, fmt.Errorf("%s encode: %w", Name(f.ID()), err)
		}
		data = out
	}
	return data, mask, nil
}

// Decode reverses Encode, skipping filters whose bit is set in mask.
func (p *Pipeline) Decode(data []byte, mask uint32) ([]byte, error) {
	for i := len(p.filters) - 1; i >= 0; i-- {
		if mask&(1<<p.slots[i]) != 0 {
			continue
		}
		out, err := p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s decode: %w", Name(p.filters[i].ID()), err)
		}
		data = out
	}
	return data, nil
}

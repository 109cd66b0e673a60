package array

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the distribution of an array's values.
type Summary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	Std   float64
}

// Summarize returns summary statistics over every element.
func (a *Array) Summarize() Summary {
	return summarize(a.Float64s())
}

func summarize(x []float64) Summary {
	if len(x) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(x), Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		s.Mean = x[0]
		return s
	}
	s.Mean, s.Std = stat.PopMeanStdDev(x, nil)
	return s
}

// Merge returns the summary of the union of the values s and o describe.
// Means and deviations combine pairwise, so a large array can be summarized
// one slice at a time.
func (s Summary) Merge(o Summary) Summary {
	switch {
	case o.Count == 0:
		return s
	case s.Count == 0:
		return o
	}
	n, n1, n2 := float64(s.Count+o.Count), float64(s.Count), float64(o.Count)
	delta := o.Mean - s.Mean
	m2 := s.Std*s.Std*n1 + o.Std*o.Std*n2 + delta*delta*n1*n2/n
	return Summary{
		Count: s.Count + o.Count,
		Min:   math.Min(s.Min, o.Min),
		Max:   math.Max(s.Max, o.Max),
		Mean:  s.Mean + delta*n2/n,
		Std:   math.Sqrt(m2 / n),
	}
}

// ChannelSummaries returns one Summary per index of the last axis, the
// colour channel of an image stack.
func (a *Array) ChannelSummaries() ([]Summary, error) {
	if a.Rank() == 0 {
		return nil, fmt.Errorf("%w: scalar has no channels", ErrShapeMismatch)
	}
	nc := a.shape[a.Rank()-1]
	if nc == 0 {
		return nil, nil
	}
	all := a.Float64s()
	per := len(all) / nc
	out := make([]Summary, nc)
	col := make([]float64, per)
	for c := range nc {
		for i := range per {
			col[i] = all[i*nc+c]
		}
		out[c] = summarize(col)
	}
	return out, nil
}

// NonZero returns the number of nonzero elements.
func (a *Array) NonZero() int {
	return floats.Count(func(v float64) bool { return v != 0 }, a.Float64s())
}

// Coverage returns the fraction of nonzero elements, the tissue fraction
// of a binary mask.
func (a *Array) Coverage() float64 {
	n := a.Len()
	if n == 0 {
		return 0
	}
	return float64(a.NonZero()) / float64(n)
}

package trials

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Tensor stores all extracted trials in one flat contiguous float32 buffer
// with row-major [trials, channels, samples] layout. Keeping the buffer flat
// lets workers' results be copied in with one copy per session and makes
// the whole tensor serializable as-is.
type Tensor struct {
	Data  []float32
	Shape []int
}

// NewTensor allocates a zeroed tensor for n trials of channels x samples.
func NewTensor(n, channels, samples int) *Tensor {
	return &Tensor{
		Data:  make([]float32, n*channels*samples),
		Shape: []int{n, channels, samples},
	}
}

// N returns the number of trials.
func (t *Tensor) N() int { return t.Shape[0] }

// Channels returns the channel count per trial.
func (t *Tensor) Channels() int { return t.Shape[1] }

// Samples returns the window length per trial.
func (t *Tensor) Samples() int { return t.Shape[2] }

// TrialElems returns the number of values one trial occupies.
func (t *Tensor) TrialElems() int { return t.Shape[1] * t.Shape[2] }

// SizeBytes returns the buffer size in bytes.
func (t *Tensor) SizeBytes() int64 {
	return int64(len(t.Data)) * 4
}

// At returns the value of trial i at the given channel and sample.
func (t *Tensor) At(i, channel, sample int) float32 {
	return t.Data[i*t.TrialElems()+channel*t.Shape[2]+sample]
}

// TrialAt returns trial i as a flat view into the buffer.
func (t *Tensor) TrialAt(i int) []float32 {
	n := t.TrialElems()
	return t.Data[i*n : (i+1)*n]
}

// Trial returns trial i as per-channel views into the buffer.
func (t *Tensor) Trial(i int) [][]float32 {
	flat := t.TrialAt(i)
	samples := t.Shape[2]
	rows := make([][]float32, t.Shape[1])
	for ch := range rows {
		rows[ch] = flat[ch*samples : (ch+1)*samples]
	}
	return rows
}

// ToGomlx converts the whole tensor into a gomlx tensor. The conversion
// materializes a nested view per trial, so for large datasets prefer
// converting batches.
func (t *Tensor) ToGomlx() *tensors.Tensor {
	nested := make([][][]float32, t.N())
	for i := range nested {
		nested[i] = t.Trial(i)
	}
	return tensors.FromAnyValue(nested)
}

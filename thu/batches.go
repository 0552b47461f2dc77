package thu

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/nik-sm/thu-rsvp-go/trials"
)

// TrialBatches presents an extracted trial tensor as batches of gomlx
// tensors, following gomlx's train.Dataset protocol: Yield hands out
// batches until the epoch is exhausted and returns io.EOF, Restart begins
// the next epoch over the same order.
//
// The tensor stays in memory as a single buffer; Example and Batch return
// views into it, so callers must not mutate what they receive.
type TrialBatches struct {
	tensor *trials.Tensor
	labels []int64

	// BatchSize is the number of trials per Yield. The final batch of an
	// epoch may be smaller.
	BatchSize int

	rand   *rand.Rand
	order  []int
	cursor int
}

// NewTrialBatches wraps a trial tensor and its labels. The initial order is
// the extraction order (subjects ascending, session A before B); call
// Shuffle to randomize it.
func NewTrialBatches(t *trials.Tensor, labels []int64) (*TrialBatches, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	if t.N() != len(labels) {
		return nil, fmt.Errorf("%d trials but %d labels", t.N(), len(labels))
	}
	order := make([]int, t.N())
	for i := range order {
		order[i] = i
	}
	return &TrialBatches{
		tensor:    t,
		labels:    labels,
		BatchSize: 32,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		order:     order,
	}, nil
}

// Len returns the number of trials.
func (b *TrialBatches) Len() int {
	return b.tensor.N()
}

// Example returns trial i as per-channel views plus its label.
func (b *TrialBatches) Example(i int) (inputs [][]float32, label int64, err error) {
	if i < 0 || i >= b.tensor.N() {
		return nil, 0, fmt.Errorf("example %d out of range [0, %d)", i, b.tensor.N())
	}
	return b.tensor.Trial(i), b.labels[i], nil
}

// Batch gathers the given trials into a [batch][channels][samples] slice of
// views plus their labels.
func (b *TrialBatches) Batch(indices []int) (inputs [][][]float32, labels []int64, err error) {
	inputs = make([][][]float32, len(indices))
	labels = make([]int64, len(indices))
	for pos, i := range indices {
		in, label, err := b.Example(i)
		if err != nil {
			return nil, nil, err
		}
		inputs[pos] = in
		labels[pos] = label
	}
	return inputs, labels, nil
}

// Shuffle permutes the epoch order and restarts the epoch. The order is a
// function of the seed alone, so the same seed always reproduces the same
// epoch.
func (b *TrialBatches) Shuffle(seed int64) {
	for i := range b.order {
		b.order[i] = i
	}
	b.rand.Seed(seed)
	b.rand.Shuffle(len(b.order), func(i, j int) {
		b.order[i], b.order[j] = b.order[j], b.order[i]
	})
	b.cursor = 0
}

// Yield returns the next batch of the epoch as gomlx tensors, shaped
// [batch, channels, samples] for inputs and [batch] for labels. It returns
// io.EOF once the epoch is exhausted; call Restart or Shuffle to begin
// another.
func (b *TrialBatches) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if b.BatchSize <= 0 {
		return nil, nil, nil, fmt.Errorf("batch size %d, want > 0", b.BatchSize)
	}
	if b.cursor >= len(b.order) {
		return nil, nil, nil, io.EOF
	}
	end := b.cursor + b.BatchSize
	if end > len(b.order) {
		end = len(b.order)
	}
	indices := b.order[b.cursor:end]
	b.cursor = end

	in, la, err := b.Batch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	inT := tensors.FromAnyValue(in)
	laT := tensors.FromAnyValue(la)
	return nil, []*tensors.Tensor{inT}, []*tensors.Tensor{laT}, nil
}

// Restart rewinds to the start of the epoch, keeping the current order.
func (b *TrialBatches) Restart() error {
	b.cursor = 0
	return nil
}

// Name identifies the dataset in training logs.
func (b *TrialBatches) Name() string {
	return "thu-rsvp"
}

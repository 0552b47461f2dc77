// Package trials turns continuous per-session EEG recordings into a single
// labeled trial tensor. A session holds two recorded blocks, each with trial
// onset positions and labels; the package conditions the blocks, slices a
// fixed window per trial and collects everything into one flat float32
// buffer, fanning sessions out over a worker pool while keeping the output
// in session order.
package trials

import (
	"fmt"

	"github.com/nik-sm/thu-rsvp-go/filters"
)

// SessionRecord is one recording session as read from disk: two continuous
// signal blocks plus the trial onsets and labels of each block. Signal rows
// are channels, columns are samples at the original rate.
type SessionRecord struct {
	Block1 [][]float32
	Block2 [][]float32

	// Onsets1 and Onsets2 hold the sample index where each trial starts,
	// in presentation order.
	Onsets1 []int
	Onsets2 []int

	// Labels1 and Labels2 hold the raw label of each trial: 1 for target,
	// 2 for non-target.
	Labels1 []int
	Labels2 []int
}

// Validate checks structural invariants: non-empty rectangular blocks,
// onset and label slices of matching length per block, non-negative onsets
// and raw labels restricted to 1 and 2.
func (r *SessionRecord) Validate() error {
	for b, block := range [2][][]float32{r.Block1, r.Block2} {
		if len(block) == 0 || len(block[0]) == 0 {
			return fmt.Errorf("block %d is empty", b+1)
		}
		width := len(block[0])
		for ch, row := range block {
			if len(row) != width {
				return fmt.Errorf("block %d channel %d has %d samples, channel 0 has %d", b+1, ch, len(row), width)
			}
		}
	}
	for b, pair := range [2]struct {
		onsets []int
		labels []int
	}{
		{r.Onsets1, r.Labels1},
		{r.Onsets2, r.Labels2},
	} {
		if len(pair.onsets) != len(pair.labels) {
			return fmt.Errorf("block %d has %d onsets but %d labels", b+1, len(pair.onsets), len(pair.labels))
		}
		for k, onset := range pair.onsets {
			if onset < 0 {
				return fmt.Errorf("block %d trial %d has negative onset %d", b+1, k, onset)
			}
		}
		for k, label := range pair.labels {
			if label != 1 && label != 2 {
				return fmt.Errorf("block %d trial %d has label %d, want 1 or 2", b+1, k, label)
			}
		}
	}
	return nil
}

// TrialCount returns the number of trials the record contributes.
func (r *SessionRecord) TrialCount() int {
	return len(r.Onsets1) + len(r.Onsets2)
}

// SessionReader loads one session file. The production reader parses the
// MAT-file layout of the published recordings; tests substitute synthetic
// readers.
type SessionReader func(path string) (*SessionRecord, error)

// Config controls how sessions are parsed into trials.
type Config struct {
	// ChannelsToUse selects signal rows before the transform is applied.
	// Nil keeps every channel.
	ChannelsToUse []int

	// OriginalSampleRateHz is the recording rate of the raw blocks.
	OriginalSampleRateHz int

	// TrialDurationSamples is the window length per trial, counted at the
	// post-transform sample rate.
	TrialDurationSamples int

	// Transform optionally conditions each block before slicing. Nil
	// slices the raw signal.
	Transform filters.Transform

	// ReadSession loads a session file.
	ReadSession SessionReader
}

// ParseError reports a failure tied to one session file. Extraction treats
// any ParseError as fatal for the whole run.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

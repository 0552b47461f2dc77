package trials

import (
	"fmt"

	"github.com/nik-sm/thu-rsvp-go/filters"
)

// ProbeShape determines the per-trial output shape without touching real
// data. It runs the transform over an all-ones block of nChannels x
// durationSamples and reports the resulting [channels, samples] shape along
// with the post-transform sample rate. With a nil transform the input shape
// and rate pass through unchanged.
func ProbeShape(nChannels, durationSamples, sampleRateHz int, tf filters.Transform) ([]int, int, error) {
	if nChannels <= 0 || durationSamples <= 0 {
		return nil, 0, fmt.Errorf("probe with %d channels x %d samples", nChannels, durationSamples)
	}
	if tf == nil {
		return []int{nChannels, durationSamples}, sampleRateHz, nil
	}

	dummy := make([][]float32, nChannels)
	for ch := range dummy {
		row := make([]float32, durationSamples)
		for i := range row {
			row[i] = 1
		}
		dummy[ch] = row
	}
	out, rate, err := tf(dummy, sampleRateHz)
	if err != nil {
		return nil, 0, fmt.Errorf("probe transform: %w", err)
	}
	if err := rectangular(out); err != nil {
		return nil, 0, fmt.Errorf("probe transform %w", err)
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("probe transform reported sample rate %d", rate)
	}
	return []int{len(out), len(out[0])}, rate, nil
}

// ParseSession reads one session and slices it into trials. The returned
// data holds the session's trials back to back in [trial, channel, sample]
// order, block 1 before block 2 and each block in onset order; labels are
// the raw labels shifted down by one, so 0 marks a target and 1 a
// non-target. Any failure is wrapped in a ParseError carrying the path.
func ParseSession(path string, cfg Config) ([]float32, []int64, error) {
	fail := func(err error) ([]float32, []int64, error) {
		return nil, nil, &ParseError{Path: path, Err: err}
	}

	if cfg.ReadSession == nil {
		return fail(fmt.Errorf("no session reader configured"))
	}
	if cfg.OriginalSampleRateHz <= 0 {
		return fail(fmt.Errorf("original sample rate %d", cfg.OriginalSampleRateHz))
	}
	rec, err := cfg.ReadSession(path)
	if err != nil {
		return fail(err)
	}
	if err := rec.Validate(); err != nil {
		return fail(err)
	}

	blocks := make([][][]float32, 2)
	rates := make([]int, 2)
	for b, raw := range [2][][]float32{rec.Block1, rec.Block2} {
		sig, err := selectChannels(raw, cfg.ChannelsToUse)
		if err != nil {
			return fail(fmt.Errorf("block %d: %w", b+1, err))
		}
		rate := cfg.OriginalSampleRateHz
		if cfg.Transform != nil {
			sig, rate, err = cfg.Transform(sig, rate)
			if err != nil {
				return fail(fmt.Errorf("transform block %d: %w", b+1, err))
			}
			if err := rectangular(sig); err != nil {
				return fail(fmt.Errorf("transform block %d: %w", b+1, err))
			}
			if rate <= 0 {
				return fail(fmt.Errorf("transform block %d reported sample rate %d", b+1, rate))
			}
		}
		blocks[b] = sig
		rates[b] = rate
	}
	if len(blocks[0]) != len(blocks[1]) {
		return fail(fmt.Errorf("blocks disagree on channel count: %d vs %d", len(blocks[0]), len(blocks[1])))
	}
	if rates[0] != rates[1] {
		return fail(fmt.Errorf("blocks disagree on sample rate: %d vs %d", rates[0], rates[1]))
	}

	// Onsets were recorded at the original rate; when the transform changed
	// the rate they scale by the downsampling factor, flooring like the
	// strided downsampler itself.
	factor := float64(cfg.OriginalSampleRateHz) / float64(rates[0])

	channels := len(blocks[0])
	window := cfg.TrialDurationSamples
	if window <= 0 {
		return fail(fmt.Errorf("trial duration %d samples", window))
	}
	count := rec.TrialCount()
	data := make([]float32, count*channels*window)
	labels := make([]int64, 0, count)
	cursor := 0

	for b, sig := range blocks {
		onsets, raw := rec.Onsets1, rec.Labels1
		if b == 1 {
			onsets, raw = rec.Onsets2, rec.Labels2
		}
		blockLen := len(sig[0])
		for k, onset := range onsets {
			start := int(float64(onset) / factor)
			end := start + window
			if end > blockLen {
				return fail(fmt.Errorf("block %d trial %d: window [%d, %d) runs past the block's %d samples", b+1, k, start, end, blockLen))
			}
			for ch, row := range sig {
				copy(data[cursor+ch*window:], row[start:end])
			}
			cursor += channels * window
			labels = append(labels, int64(raw[k]-1))
		}
	}
	return data, labels, nil
}

// selectChannels picks the requested rows. Nil keeps the block as is.
func selectChannels(block [][]float32, channels []int) ([][]float32, error) {
	if channels == nil {
		return block, nil
	}
	out := make([][]float32, len(channels))
	for i, ch := range channels {
		if ch < 0 || ch >= len(block) {
			return nil, fmt.Errorf("channel %d out of range, block has %d channels", ch, len(block))
		}
		out[i] = block[ch]
	}
	return out, nil
}

func rectangular(block [][]float32) error {
	if len(block) == 0 || len(block[0]) == 0 {
		return fmt.Errorf("produced an empty block")
	}
	for ch, row := range block {
		if len(row) != len(block[0]) {
			return fmt.Errorf("produced ragged output: channel %d has %d samples, channel 0 has %d", ch, len(row), len(block[0]))
		}
	}
	return nil
}

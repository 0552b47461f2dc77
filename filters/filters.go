// Package filters provides signal conditioning for continuous EEG blocks:
// notch and band-pass filtering plus downsampling, composable into a single
// transform that is applied before trials are sliced out. The filter designs
// follow the ones BciPy uses for this dataset.
package filters

import (
	"fmt"
)

// Transform conditions a multi-channel signal block. Rows are channels,
// columns are samples at the given rate. A transform returns the conditioned
// block and the sample rate of its output; it must not modify its input and
// must be safe for concurrent use, since session workers share one instance.
type Transform func(data [][]float32, sampleRateHz int) ([][]float32, int, error)

// Compose chains transforms left to right, feeding each one's output and
// sample rate into the next.
func Compose(transforms ...Transform) Transform {
	return func(data [][]float32, sampleRateHz int) ([][]float32, int, error) {
		out, rate := data, sampleRateHz
		for i, tf := range transforms {
			var err error
			out, rate, err = tf(out, rate)
			if err != nil {
				return nil, 0, fmt.Errorf("transform %d of %d: %w", i+1, len(transforms), err)
			}
		}
		return out, rate, nil
	}
}

// Downsample keeps every factor-th sample of each channel. The output rate
// is the integer quotient of the input rate and the factor.
func Downsample(factor int) Transform {
	return func(data [][]float32, sampleRateHz int) ([][]float32, int, error) {
		if factor < 1 {
			return nil, 0, fmt.Errorf("downsample factor %d, want >= 1", factor)
		}
		out := make([][]float32, len(data))
		for i, row := range data {
			kept := make([]float32, 0, (len(row)+factor-1)/factor)
			for j := 0; j < len(row); j += factor {
				kept = append(kept, row[j])
			}
			out[i] = kept
		}
		return out, sampleRateHz / factor, nil
	}
}

// Notch removes a single frequency, typically power line interference, with
// a second-order notch of the given quality factor. Filtering is zero-phase:
// the section runs forward and backward so trial onsets are not shifted.
func Notch(removeFreqHz, qualityFactor float64) Transform {
	return func(data [][]float32, sampleRateHz int) ([][]float32, int, error) {
		if sampleRateHz <= 0 {
			return nil, 0, fmt.Errorf("sample rate %d, want > 0", sampleRateHz)
		}
		nyquist := float64(sampleRateHz) / 2
		if removeFreqHz <= 0 || removeFreqHz >= nyquist {
			return nil, 0, fmt.Errorf("notch frequency %g Hz outside (0, %g)", removeFreqHz, nyquist)
		}
		if qualityFactor <= 0 {
			return nil, 0, fmt.Errorf("notch quality factor %g, want > 0", qualityFactor)
		}
		section := notchSection(removeFreqHz, qualityFactor, float64(sampleRateHz))

		out := make([][]float32, len(data))
		for i, row := range data {
			filtered, err := filtfilt(section, toFloat64(row))
			if err != nil {
				return nil, 0, fmt.Errorf("notch channel %d: %w", i, err)
			}
			out[i] = toFloat32(filtered)
		}
		return out, sampleRateHz, nil
	}
}

// Bandpass keeps frequencies between lowHz and highHz with a Butterworth
// filter of the given order, applied causally as cascaded second-order
// sections.
func Bandpass(lowHz, highHz float64, order int) Transform {
	return func(data [][]float32, sampleRateHz int) ([][]float32, int, error) {
		if sampleRateHz <= 0 {
			return nil, 0, fmt.Errorf("sample rate %d, want > 0", sampleRateHz)
		}
		nyquist := float64(sampleRateHz) / 2
		if lowHz <= 0 || lowHz >= highHz || highHz >= nyquist {
			return nil, 0, fmt.Errorf("band edges %g-%g Hz outside 0 < low < high < %g", lowHz, highHz, nyquist)
		}
		if order < 1 {
			return nil, 0, fmt.Errorf("band-pass order %d, want >= 1", order)
		}
		sos, err := butterBandpass(order, lowHz, highHz, float64(sampleRateHz))
		if err != nil {
			return nil, 0, fmt.Errorf("band-pass design: %w", err)
		}

		out := make([][]float32, len(data))
		for i, row := range data {
			out[i] = toFloat32(sosfilt(sos, toFloat64(row)))
		}
		return out, sampleRateHz, nil
	}
}

// DefaultConfig parameterizes Default.
type DefaultConfig struct {
	// NotchFreqHz is the line frequency to remove.
	NotchFreqHz float64
	// NotchQ is the notch quality factor.
	NotchQ float64
	// BandpassLowHz and BandpassHighHz are the band edges to keep.
	BandpassLowHz  float64
	BandpassHighHz float64
	// BandpassOrder is the Butterworth filter order.
	BandpassOrder int
	// DownsampleFactor divides the sample rate after filtering.
	DownsampleFactor int
}

// NewDefaultConfig returns the conditioning used when the dataset was
// published: a 50 Hz notch, a 2-45 Hz band-pass of order 5, then 2x
// downsampling.
func NewDefaultConfig() DefaultConfig {
	return DefaultConfig{
		NotchFreqHz:      50,
		NotchQ:           30,
		BandpassLowHz:    2,
		BandpassHighHz:   45,
		BandpassOrder:    5,
		DownsampleFactor: 2,
	}
}

// Default builds the standard conditioning chain: notch, band-pass,
// downsample.
func Default(cfg DefaultConfig) Transform {
	return Compose(
		Notch(cfg.NotchFreqHz, cfg.NotchQ),
		Bandpass(cfg.BandpassLowHz, cfg.BandpassHighHz, cfg.BandpassOrder),
		Downsample(cfg.DownsampleFactor),
	)
}

func toFloat64(row []float32) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(row []float64) []float32 {
	out := make([]float32, len(row))
	for i, v := range row {
		out[i] = float32(v)
	}
	return out
}

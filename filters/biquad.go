package filters

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// biquad is one second-order filter section with the a0 coefficient
// normalized to 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// lfilter runs the section causally over x using the direct form II
// transposed structure, starting from the state (z1, z2).
func lfilter(s biquad, x []float64, z1, z2 float64) []float64 {
	y := make([]float64, len(x))
	for n, xn := range x {
		yn := s.b0*xn + z1
		z1 = s.b1*xn - s.a1*yn + z2
		z2 = s.b2*xn - s.a2*yn
		y[n] = yn
	}
	return y
}

// steadyState returns the initial state that makes the section's step
// response settle immediately, like scipy.signal.lfilter_zi for a
// second-order section. Scaling it by the first input sample suppresses the
// startup transient.
func (s biquad) steadyState() (z1, z2 float64) {
	g := (s.b0 + s.b1 + s.b2) / (1 + s.a1 + s.a2)
	z2 = s.b2 - s.a2*g
	z1 = s.b1 - s.a1*g + z2
	return z1, z2
}

// filtfiltPad is the edge extension length for zero-phase filtering of a
// single section, three times the coefficient count.
const filtfiltPad = 9

// filtfilt applies the section forward and backward for zero phase shift.
// The signal is extended by odd reflection at both ends and each pass starts
// from the scaled steady state, so edge transients stay out of the returned
// samples.
func filtfilt(s biquad, x []float64) ([]float64, error) {
	if len(x) <= filtfiltPad {
		return nil, fmt.Errorf("signal of %d samples is too short for zero-phase filtering (need more than %d)", len(x), filtfiltPad)
	}
	ext := oddExt(x, filtfiltPad)
	zi1, zi2 := s.steadyState()

	y := lfilter(s, ext, zi1*ext[0], zi2*ext[0])
	floats.Reverse(y)
	y = lfilter(s, y, zi1*y[0], zi2*y[0])
	floats.Reverse(y)
	return y[filtfiltPad : len(y)-filtfiltPad], nil
}

// oddExt extends x by n samples of odd reflection about each endpoint.
func oddExt(x []float64, n int) []float64 {
	out := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		out = append(out, 2*x[0]-x[i])
	}
	out = append(out, x...)
	last := len(x) - 1
	for i := 1; i <= n; i++ {
		out = append(out, 2*x[last]-x[last-i])
	}
	return out
}

// sosfilt runs a cascade of sections causally over x from zero state.
func sosfilt(sos []biquad, x []float64) []float64 {
	y := append([]float64(nil), x...)
	for _, s := range sos {
		y = lfilter(s, y, 0, 0)
	}
	return y
}

// notchSection designs a notch at freqHz with the given quality factor,
// matching scipy.signal.iirnotch: unit-circle zeros at the notch frequency
// with poles pulled inside by the bandwidth.
func notchSection(freqHz, q, rateHz float64) biquad {
	w0 := 2 * math.Pi * freqHz / rateHz
	alpha := math.Sin(w0) / (2 * q)
	c := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: 1 / a0,
		b1: -2 * c / a0,
		b2: 1 / a0,
		a1: -2 * c / a0,
		a2: (1 - alpha) / a0,
	}
}

// butterBandpass designs an order-n Butterworth band-pass as cascaded
// second-order sections. The derivation follows the classical analog route:
// Butterworth poles on the unit circle, the lowpass-to-bandpass
// transformation with pre-warped band edges, then the bilinear transform.
// The band-pass zeros land at z=+1 and z=-1, one pair per section, and the
// cascade is normalized to unit gain at the geometric center frequency,
// where a Butterworth band-pass is exactly flat.
func butterBandpass(order int, lowHz, highHz, rateHz float64) ([]biquad, error) {
	nyquist := rateHz / 2
	low := lowHz / nyquist
	high := highHz / nyquist

	// Pre-warped analog band edges for a bilinear transform with fs = 2.
	warpedLow := 4 * math.Tan(math.Pi*low/2)
	warpedHigh := 4 * math.Tan(math.Pi*high/2)
	bw := warpedHigh - warpedLow
	w0 := math.Sqrt(warpedLow * warpedHigh)

	zPoles := make([]complex128, 0, 2*order)
	for k := 1; k <= order; k++ {
		theta := math.Pi * float64(2*k+order-1) / float64(2*order)
		p := cmplx.Rect(1, theta)

		// Lowpass to bandpass: p maps to bw*p/2 +- sqrt((bw*p/2)^2 - w0^2).
		half := complex(bw/2, 0) * p
		d := cmplx.Sqrt(half*half - complex(w0*w0, 0))
		for _, sp := range []complex128{half + d, half - d} {
			// Bilinear transform, z = (4+s)/(4-s) at fs = 2.
			zPoles = append(zPoles, (4+sp)/(4-sp))
		}
	}

	denoms, err := pairPoles(zPoles)
	if err != nil {
		return nil, err
	}
	sos := make([]biquad, len(denoms))
	for i, d := range denoms {
		sos[i] = biquad{b0: 1, b1: 0, b2: -1, a1: d[0], a2: d[1]}
	}

	center := 2 * math.Atan2(w0, 4)
	gain := cascadeGain(sos, center)
	if gain == 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return nil, errors.New("degenerate design, center-frequency gain is unusable")
	}
	scale := math.Pow(1/gain, 1/float64(len(sos)))
	for i := range sos {
		sos[i].b0 *= scale
		sos[i].b2 *= scale
	}
	return sos, nil
}

// pairPoles groups a conjugate-symmetric pole set into real-coefficient
// quadratic denominators (a1, a2).
func pairPoles(poles []complex128) ([][2]float64, error) {
	const tol = 1e-8
	var reals []float64
	var upper []complex128
	lower := 0
	for _, p := range poles {
		switch {
		case math.Abs(imag(p)) < tol:
			reals = append(reals, real(p))
		case imag(p) > 0:
			upper = append(upper, p)
		default:
			lower++
		}
	}
	if len(upper) != lower || len(reals)%2 != 0 {
		return nil, fmt.Errorf("pole set of %d is not conjugate-symmetric", len(poles))
	}

	sort.Slice(upper, func(i, j int) bool {
		if real(upper[i]) != real(upper[j]) {
			return real(upper[i]) < real(upper[j])
		}
		return imag(upper[i]) < imag(upper[j])
	})
	sort.Float64s(reals)

	out := make([][2]float64, 0, len(upper)+len(reals)/2)
	for _, p := range upper {
		out = append(out, [2]float64{-2 * real(p), real(p)*real(p) + imag(p)*imag(p)})
	}
	for i := 0; i+1 < len(reals); i += 2 {
		r1, r2 := reals[i], reals[i+1]
		out = append(out, [2]float64{-(r1 + r2), r1 * r2})
	}
	return out, nil
}

// cascadeGain evaluates the cascade's magnitude response at angular
// frequency w in radians per sample.
func cascadeGain(sos []biquad, w float64) float64 {
	zInv := cmplx.Rect(1, -w)
	g := 1.0
	for _, s := range sos {
		num := complex(s.b0, 0) + complex(s.b1, 0)*zInv + complex(s.b2, 0)*zInv*zInv
		den := 1 + complex(s.a1, 0)*zInv + complex(s.a2, 0)*zInv*zInv
		g *= cmplx.Abs(num / den)
	}
	return g
}

package filters

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
)

// sine builds a block of channels carrying the same sinusoid.
func sine(channels, n int, freqHz, amplitude float64, rateHz int) [][]float32 {
	out := make([][]float32, channels)
	for ch := range out {
		row := make([]float32, n)
		for i := range row {
			row[i] = float32(amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(rateHz)))
		}
		out[ch] = row
	}
	return out
}

// rms measures the root mean square of row[from:to].
func rms(row []float32, from, to int) float64 {
	seg := make([]float64, to-from)
	for i := range seg {
		seg[i] = float64(row[from+i])
	}
	return math.Sqrt(floats.Dot(seg, seg) / float64(len(seg)))
}

func TestDownsample(t *testing.T) {
	in := [][]float32{{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, {10, 11, 12, 13, 14, 15, 16, 17, 18, 19}}

	out, rate, err := Downsample(2)(in, 250)
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}
	if rate != 125 {
		t.Fatalf("rate %d, want 125", rate)
	}
	want := []float32{0, 2, 4, 6, 8}
	if len(out[0]) != len(want) {
		t.Fatalf("row length %d, want %d", len(out[0]), len(want))
	}
	for i := range want {
		if out[0][i] != want[i] {
			t.Fatalf("out[0][%d] = %v, want %v", i, out[0][i], want[i])
		}
	}
	if out[1][2] != 14 {
		t.Fatalf("out[1][2] = %v, want 14", out[1][2])
	}
}

func TestDownsampleKeepsPartialStride(t *testing.T) {
	in := [][]float32{{0, 1, 2, 3, 4}}
	out, rate, err := Downsample(2)(in, 250)
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}
	if len(out[0]) != 3 || out[0][2] != 4 {
		t.Fatalf("out = %v, want [0 2 4]", out[0])
	}
	if rate != 125 {
		t.Fatalf("rate %d, want 125", rate)
	}

	_, rate, err = Downsample(3)(in, 250)
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}
	if rate != 83 {
		t.Fatalf("rate %d, want integer quotient 83", rate)
	}
}

func TestDownsampleRejectsBadFactor(t *testing.T) {
	if _, _, err := Downsample(0)([][]float32{{1}}, 250); err == nil {
		t.Fatal("factor 0 accepted")
	}
}

func TestComposeAppliesInOrder(t *testing.T) {
	addOne := func(data [][]float32, rate int) ([][]float32, int, error) {
		out := make([][]float32, len(data))
		for i, row := range data {
			out[i] = make([]float32, len(row))
			for j, v := range row {
				out[i][j] = v + 1
			}
		}
		return out, rate, nil
	}
	double := func(data [][]float32, rate int) ([][]float32, int, error) {
		out := make([][]float32, len(data))
		for i, row := range data {
			out[i] = make([]float32, len(row))
			for j, v := range row {
				out[i][j] = v * 2
			}
		}
		return out, rate, nil
	}

	out, _, err := Compose(addOne, double)([][]float32{{1}}, 250)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if out[0][0] != 4 {
		t.Fatalf("got %v, want (1+1)*2 = 4", out[0][0])
	}
}

func TestComposeThreadsSampleRate(t *testing.T) {
	in := [][]float32{make([]float32, 100)}
	out, rate, err := Compose(Downsample(2), Downsample(5))(in, 1000)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if rate != 100 {
		t.Fatalf("rate %d, want 100", rate)
	}
	if len(out[0]) != 10 {
		t.Fatalf("row length %d, want 10", len(out[0]))
	}
}

func TestComposeReportsFailingStage(t *testing.T) {
	_, _, err := Compose(Downsample(1), Downsample(-1))([][]float32{{1}}, 250)
	if err == nil || !strings.Contains(err.Error(), "transform 2 of 2") {
		t.Fatalf("got %v, want failing stage context", err)
	}
}

func TestNotchRemovesLineFrequency(t *testing.T) {
	const rate = 250
	in := sine(2, 2000, 50, 1, rate)

	out, outRate, err := Notch(50, 30)(in, rate)
	if err != nil {
		t.Fatalf("Notch: %v", err)
	}
	if outRate != rate {
		t.Fatalf("rate %d, want %d", outRate, rate)
	}
	for ch := range out {
		if len(out[ch]) != 2000 {
			t.Fatalf("channel %d length %d, want 2000", ch, len(out[ch]))
		}
		residual := rms(out[ch], 200, 1800)
		if residual > 0.05*rms(in[ch], 200, 1800) {
			t.Fatalf("channel %d: 50 Hz residual RMS %v", ch, residual)
		}
	}
}

func TestNotchPreservesNeighboringBand(t *testing.T) {
	const rate = 250
	in := sine(1, 2000, 10, 1, rate)

	out, _, err := Notch(50, 30)(in, rate)
	if err != nil {
		t.Fatalf("Notch: %v", err)
	}
	// Zero-phase filtering leaves an off-notch sinusoid nearly untouched,
	// with no shift.
	for i := 500; i < 1500; i++ {
		diff := math.Abs(float64(out[0][i] - in[0][i]))
		if diff > 0.05 {
			t.Fatalf("sample %d moved by %v", i, diff)
		}
	}
}

func TestNotchValidation(t *testing.T) {
	in := sine(1, 100, 10, 1, 250)
	if _, _, err := Notch(125, 30)(in, 250); err == nil {
		t.Fatal("notch at Nyquist accepted")
	}
	if _, _, err := Notch(50, 30)([][]float32{{1, 2, 3}}, 250); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("got %v, want short-signal error", err)
	}
}

func TestButterBandpassSections(t *testing.T) {
	sos, err := butterBandpass(5, 2, 45, 250)
	if err != nil {
		t.Fatalf("butterBandpass: %v", err)
	}
	if len(sos) != 5 {
		t.Fatalf("%d sections, want 5", len(sos))
	}
	for i, s := range sos {
		// Each numerator has zeros at z=1 and z=-1, so its coefficients sum
		// to zero and the section blocks DC exactly.
		if sum := s.b0 + s.b1 + s.b2; math.Abs(sum) > 1e-12 {
			t.Fatalf("section %d numerator sums to %v", i, sum)
		}
		// Poles must be inside the unit circle.
		if math.Abs(s.a2) >= 1 || math.Abs(s.a1) >= 1+s.a2 {
			t.Fatalf("section %d is unstable: a1=%v a2=%v", i, s.a1, s.a2)
		}
	}

	w0 := math.Sqrt(4*math.Tan(math.Pi*2/250) * 4 * math.Tan(math.Pi*45/250))
	center := 2 * math.Atan2(w0, 4)
	if g := cascadeGain(sos, center); math.Abs(g-1) > 1e-9 {
		t.Fatalf("center-frequency gain %v, want 1", g)
	}
}

func TestBandpassBlocksDC(t *testing.T) {
	const rate = 250
	in := make([][]float32, 1)
	in[0] = make([]float32, 4000)
	for i := range in[0] {
		in[0][i] = 1
	}

	out, _, err := Bandpass(2, 45, 5)(in, rate)
	if err != nil {
		t.Fatalf("Bandpass: %v", err)
	}
	if tail := rms(out[0], 3000, 4000); tail > 0.05 {
		t.Fatalf("DC residual RMS %v after settling", tail)
	}
}

func TestBandpassKeepsPassband(t *testing.T) {
	const rate = 250
	in := sine(1, 4000, 10, 1, rate)

	out, _, err := Bandpass(2, 45, 5)(in, rate)
	if err != nil {
		t.Fatalf("Bandpass: %v", err)
	}
	ratio := rms(out[0], 1000, 3000) / rms(in[0], 1000, 3000)
	if ratio < 0.8 || ratio > 1.2 {
		t.Fatalf("passband gain %v, want close to 1", ratio)
	}
}

func TestBandpassAttenuatesStopband(t *testing.T) {
	const rate = 250
	in := sine(1, 4000, 100, 1, rate)

	out, _, err := Bandpass(2, 45, 5)(in, rate)
	if err != nil {
		t.Fatalf("Bandpass: %v", err)
	}
	ratio := rms(out[0], 1000, 3000) / rms(in[0], 1000, 3000)
	if ratio > 0.1 {
		t.Fatalf("stopband gain %v, want under 0.1", ratio)
	}
}

func TestBandpassValidation(t *testing.T) {
	in := sine(1, 100, 10, 1, 250)
	if _, _, err := Bandpass(45, 2, 5)(in, 250); err == nil {
		t.Fatal("inverted band edges accepted")
	}
	if _, _, err := Bandpass(2, 130, 5)(in, 250); err == nil {
		t.Fatal("band edge above Nyquist accepted")
	}
	if _, _, err := Bandpass(2, 45, 0)(in, 250); err == nil {
		t.Fatal("order 0 accepted")
	}
}

func TestSteadyStateSuppressesStepTransient(t *testing.T) {
	s := notchSection(50, 30, 250)
	z1, z2 := s.steadyState()

	step := make([]float64, 200)
	for i := range step {
		step[i] = 1
	}
	y := lfilter(s, step, z1, z2)

	dcGain := (s.b0 + s.b1 + s.b2) / (1 + s.a1 + s.a2)
	for i, v := range y {
		if math.Abs(v-dcGain) > 1e-12 {
			t.Fatalf("sample %d = %v, want settled value %v", i, v, dcGain)
		}
	}
}

func TestDefaultChain(t *testing.T) {
	const rate = 250
	in := sine(2, 2000, 10, 1, rate)

	out, outRate, err := Default(NewDefaultConfig())(in, rate)
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if outRate != 125 {
		t.Fatalf("rate %d, want 125", outRate)
	}
	if len(out) != 2 || len(out[0]) != 1000 {
		t.Fatalf("output %dx%d, want 2x1000", len(out), len(out[0]))
	}

	// The band-pass keeps 10 Hz, so energy should survive the whole chain.
	if got := rms(out[0], 250, 750); got < 0.5 {
		t.Fatalf("passband RMS %v after full chain", got)
	}
}

func TestTransformsDoNotMutateInput(t *testing.T) {
	const rate = 250
	in := sine(2, 2000, 10, 1, rate)
	snapshot := make([][]float32, len(in))
	for i, row := range in {
		snapshot[i] = append([]float32(nil), row...)
	}

	if _, _, err := Default(NewDefaultConfig())(in, rate); err != nil {
		t.Fatalf("Default: %v", err)
	}
	for i, row := range in {
		for j, v := range row {
			if v != snapshot[i][j] {
				t.Fatalf("input[%d][%d] changed from %v to %v", i, j, snapshot[i][j], v)
			}
		}
	}
}

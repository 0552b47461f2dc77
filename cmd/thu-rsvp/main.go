// Command thu-rsvp materializes the THU RSVP benchmark dataset and prints a
// summary of the extracted trials. It can optionally write an ERP plot, the
// per-class average response at one channel, which is a quick sanity check
// that target trials actually carry the expected P300 deflection.
//
// A full run downloads roughly 12 GiB, so the first invocation is slow; later
// invocations load the cached trial tensor in seconds.
package main

import (
	"flag"
	"image/color"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/nik-sm/thu-rsvp-go/filters"
	"github.com/nik-sm/thu-rsvp-go/thu"
	"github.com/nik-sm/thu-rsvp-go/trials"
)

func main() {
	dir := flag.String("dir", "data", "root directory for the dataset; files live under <dir>/thu")
	durationMS := flag.Int("duration-ms", 500, "trial window after stimulus onset in milliseconds")
	download := flag.Bool("download", false, "download missing or corrupt files from the distribution host")
	verify := flag.Bool("verify", true, "verify SHA-256 digests of all dataset files")
	verbose := flag.Bool("verbose", true, "log progress of each phase")
	forceExtract := flag.Bool("force-extract", false, "ignore cached trials and re-extract from the session files")
	workers := flag.Int("workers", 0, "parallel session parses during extraction (0 = 1.5x NumCPU)")
	useTransform := flag.Bool("default-transform", false, "apply the default signal conditioning (notch, band-pass, downsample)")
	notchFreq := flag.Float64("notch-freq", 50, "line frequency removed by the notch filter in Hz")
	notchQ := flag.Float64("notch-q", 30, "notch filter quality factor")
	bandLow := flag.Float64("bandpass-low", 2, "band-pass lower edge in Hz")
	bandHigh := flag.Float64("bandpass-high", 45, "band-pass upper edge in Hz")
	bandOrder := flag.Int("bandpass-order", 5, "band-pass Butterworth order")
	downsample := flag.Int("downsample", 2, "downsampling factor used by the default transform")
	erpOut := flag.String("plot-erp", "", "if set, write a per-class ERP plot PNG to this directory")
	erpChannel := flag.Int("erp-channel", 30, "tensor channel index to average for the ERP plot")
	flag.Parse()

	cfg := thu.Config{
		Dir:             *dir,
		TrialDurationMS: *durationMS,
		Download:        *download,
		VerifySHA256:    *verify,
		Verbose:         *verbose,
		ForceExtract:    *forceExtract,
		Workers:         *workers,
	}
	if *useTransform {
		cfg.Transform = filters.Default(filters.DefaultConfig{
			NotchFreqHz:      *notchFreq,
			NotchQ:           *notchQ,
			BandpassLowHz:    *bandLow,
			BandpassHighHz:   *bandHigh,
			BandpassOrder:    *bandOrder,
			DownsampleFactor: *downsample,
		})
	}

	ds, err := thu.New(cfg)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	tensor, labels, err := ds.GetData()
	if err != nil {
		log.Fatalf("failed to materialize dataset: %v", err)
	}

	var targets, nonTargets int64
	for _, label := range labels {
		if label == 0 {
			targets++
		} else {
			nonTargets++
		}
	}
	log.Printf("trials: %s (%s targets, %s non-targets)",
		humanize.Comma(int64(tensor.N())), humanize.Comma(targets), humanize.Comma(nonTargets))
	log.Printf("per trial: %d channels x %d samples at %d Hz",
		tensor.Channels(), tensor.Samples(), ds.FinalSampleRateHz())
	log.Printf("in memory: %s", humanize.IBytes(uint64(tensor.SizeBytes())))

	if *erpOut != "" {
		if *erpChannel < 0 || *erpChannel >= tensor.Channels() {
			log.Fatalf("-erp-channel %d out of range [0, %d)", *erpChannel, tensor.Channels())
		}
		if err := plotERP(*erpOut, tensor, labels, *erpChannel, ds.FinalSampleRateHz()); err != nil {
			log.Fatalf("failed to write ERP plot: %v", err)
		}
		log.Printf("ERP plot written to %s", filepath.Join(*erpOut, "erp.png"))
	}
}

// classMean averages all trials of one class at the given channel.
func classMean(tensor *trials.Tensor, labels []int64, class int64, channel int) []float64 {
	mean := make([]float64, tensor.Samples())
	var n int
	for i := 0; i < tensor.N(); i++ {
		if labels[i] != class {
			continue
		}
		n++
		for s := 0; s < tensor.Samples(); s++ {
			mean[s] += float64(tensor.At(i, channel, s))
		}
	}
	if n > 0 {
		for s := range mean {
			mean[s] /= float64(n)
		}
	}
	return mean
}

// plotERP writes erp.png into outDir: the average target and non-target
// response at one channel over the trial window.
func plotERP(outDir string, tensor *trials.Tensor, labels []int64, channel, sampleRateHz int) error {
	p := plot.New()
	p.Title.Text = "Average response: target (red), non-target (grey)"
	p.X.Label.Text = "time after onset (ms)"
	p.Y.Label.Text = "amplitude (uV)"

	toXYs := func(mean []float64) plotter.XYs {
		xys := make(plotter.XYs, len(mean))
		for s, v := range mean {
			xys[s].X = float64(s) * 1000 / float64(sampleRateHz)
			xys[s].Y = v
		}
		return xys
	}

	target, err := plotter.NewLine(toXYs(classMean(tensor, labels, 0, channel)))
	if err != nil {
		return err
	}
	target.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	target.Width = vg.Points(1.5)
	p.Add(target)
	p.Legend.Add("target", target)

	nonTarget, err := plotter.NewLine(toXYs(classMean(tensor, labels, 1, channel)))
	if err != nil {
		return err
	}
	nonTarget.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	nonTarget.Width = vg.Points(1.5)
	p.Add(nonTarget)
	p.Legend.Add("non-target", nonTarget)

	p.Add(plotter.NewGrid())

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, filepath.Join(outDir, "erp.png"))
}

// Package thu materializes the THU RSVP benchmark dataset: 64 subjects, two
// sessions each, 1,024,000 labeled EEG trials. It downloads and verifies the
// published archives, unpacks them, slices every session into fixed-duration
// trials over a worker pool and caches the resulting tensor as .npy files
// gated by SHA-256 sidecars, so later runs load in seconds.
//
// See https://www.frontiersin.org/articles/10.3389/fnins.2020.568000/full
// for the recording paradigm.
package thu

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nik-sm/thu-rsvp-go/filters"
	"github.com/nik-sm/thu-rsvp-go/trials"
)

var (
	// ErrMissingFile reports a distribution file that is absent and could
	// not be downloaded under the current configuration.
	ErrMissingFile = errors.New("missing dataset file")

	// ErrChecksumMismatch reports a file whose contents do not match the
	// manifest digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// TransformError reports a transform that failed the construction-time
// shape probe. It is fatal: a transform that cannot handle a dummy block
// cannot handle session data.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform probe failed: %v", e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Config controls dataset materialization.
type Config struct {
	// Dir is the root directory; everything lives under Dir/thu.
	Dir string

	// TrialDurationMS is the trial window after stimulus onset, in
	// milliseconds of original-rate signal.
	TrialDurationMS int

	// Transform optionally conditions each block before trials are
	// sliced; see the filters package. Nil slices the raw signal.
	Transform filters.Transform

	// Download permits fetching missing or corrupt files from SourceURL.
	Download bool

	// VerifySHA256 checks all file digests. Disabling it skips hashing
	// many gigabytes but trusts whatever is on disk.
	VerifySHA256 bool

	// Verbose logs the progress of each phase.
	Verbose bool

	// ForceExtract ignores previously cached tensors and re-extracts.
	// Required after changing Transform, because cached files are keyed
	// by trial duration alone.
	ForceExtract bool

	// Workers caps concurrent session parses during extraction. Zero
	// uses trials.DefaultWorkers.
	Workers int

	// ReadSession overrides session file loading. Nil uses
	// ReadSessionFile.
	ReadSession trials.SessionReader
}

// Dataset is a configured handle on the materialized dataset.
type Dataset struct {
	cfg       Config
	dir       string
	sourceURL string

	outputShape       []int
	finalSampleRateHz int

	// Test seams: narrowed to shrink the fixture layout.
	subjects         int
	trialsPerSession int
}

// New validates the configuration and probes the per-trial output shape by
// running the transform over a dummy block, so shape or transform problems
// surface before any data is touched.
func New(cfg Config) (*Dataset, error) {
	if cfg.Dir == "" {
		return nil, errors.New("Dir is required")
	}
	if cfg.TrialDurationMS <= 0 {
		return nil, fmt.Errorf("trial duration %d ms, want > 0", cfg.TrialDurationMS)
	}
	duration := cfg.TrialDurationMS * OriginalSampleRateHz / 1000
	if duration < 1 {
		return nil, fmt.Errorf("trial duration %d ms is under one sample at %d Hz", cfg.TrialDurationMS, OriginalSampleRateHz)
	}
	if cfg.ReadSession == nil {
		cfg.ReadSession = ReadSessionFile
	}

	shape, rate, err := trials.ProbeShape(len(ChannelsToUse()), duration, OriginalSampleRateHz, cfg.Transform)
	if err != nil {
		return nil, &TransformError{Err: err}
	}

	return &Dataset{
		cfg:               cfg,
		dir:               filepath.Join(cfg.Dir, "thu"),
		sourceURL:         SourceURL,
		outputShape:       shape,
		finalSampleRateHz: rate,
		subjects:          SubjectCount,
		trialsPerSession:  TrialsPerSession,
	}, nil
}

// Dir returns the dataset directory, Config.Dir joined with "thu".
func (d *Dataset) Dir() string { return d.dir }

// OutputShape returns the probed [channels, samples] shape of one trial.
func (d *Dataset) OutputShape() []int {
	return append([]int(nil), d.outputShape...)
}

// FinalSampleRateHz returns the sample rate after the transform.
func (d *Dataset) FinalSampleRateHz() int { return d.finalSampleRateHz }

// TrialDurationSamples returns the trial window length at the final rate.
func (d *Dataset) TrialDurationSamples() int { return d.outputShape[1] }

// SessionPaths lists every session file in extraction order: subjects
// ascending, each subject's A session before its B session.
func (d *Dataset) SessionPaths() []string {
	paths := make([]string, 0, d.subjects*SessionsPerSubject)
	for subject := 1; subject <= d.subjects; subject++ {
		folder := subjectFolder(subject)
		for _, session := range []string{"A", "B"} {
			paths = append(paths, filepath.Join(d.dir, folder, fmt.Sprintf("sub%d%s.mat", subject, session)))
		}
	}
	return paths
}

// GetData materializes the dataset: it ensures the source files are
// present and verified, unpacks the archives, then loads the cached trial
// tensor or extracts it from scratch. The tensor has one row per trial in
// subject and session order; labels hold 0 for target trials and 1 for
// non-target.
func (d *Dataset) GetData() (*trials.Tensor, []int64, error) {
	if d.cfg.Verbose {
		log.Printf("[thu] checking source files")
	}
	if err := d.ensureFiles(); err != nil {
		return nil, nil, err
	}
	if d.cfg.Verbose {
		log.Printf("[thu] decompressing archives")
	}
	if err := d.decompressAll(false); err != nil {
		return nil, nil, err
	}
	if d.cfg.Verbose {
		log.Printf("[thu] extracting trials")
	}
	return d.loadOrExtract()
}

func (d *Dataset) loadOrExtract() (*trials.Tensor, []int64, error) {
	p := d.cachePaths()
	if !d.cfg.ForceExtract && d.canReuse(p) {
		if d.cfg.Verbose {
			log.Printf("[cache] loading cached trials (checksum verified: %v)", d.cfg.VerifySHA256)
		}
		return d.loadCache(p)
	}

	tensor, labels, err := d.extract()
	if err != nil {
		return nil, nil, err
	}
	if err := d.saveCache(p, tensor, labels); err != nil {
		return nil, nil, err
	}
	return tensor, labels, nil
}

func (d *Dataset) extract() (*trials.Tensor, []int64, error) {
	paths := d.SessionPaths()
	total := len(paths) * d.trialsPerSession

	var done int64
	var stopProgress chan struct{}
	if d.cfg.Verbose {
		stopProgress = make(chan struct{})
		go func() {
			ticker := time.NewTicker(3 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					n := atomic.LoadInt64(&done)
					log.Printf("[extract] progress: %d/%d sessions", n, len(paths))
				case <-stopProgress:
					return
				}
			}
		}()
	}

	ex := trials.Extractor{
		Config: trials.Config{
			ChannelsToUse:        ChannelsToUse(),
			OriginalSampleRateHz: OriginalSampleRateHz,
			TrialDurationSamples: d.outputShape[1],
			Transform:            d.cfg.Transform,
			ReadSession:          d.cfg.ReadSession,
		},
		Workers: d.cfg.Workers,
		Progress: func(doneSessions, _ int) {
			atomic.StoreInt64(&done, int64(doneSessions))
		},
	}
	tensor, labels, err := ex.Extract(paths, d.outputShape, total)
	if stopProgress != nil {
		close(stopProgress)
	}
	if err != nil {
		return nil, nil, err
	}
	if d.cfg.Verbose {
		log.Printf("[extract] completed: %s trials, %s",
			humanize.Comma(int64(tensor.N())), humanize.IBytes(uint64(tensor.SizeBytes())))
	}
	return tensor, labels, nil
}

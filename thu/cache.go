package thu

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/nik-sm/thu-rsvp-go/integrity"
	"github.com/nik-sm/thu-rsvp-go/npy"
	"github.com/nik-sm/thu-rsvp-go/trials"
)

// cachePaths names the four artifacts one trial duration produces: the data
// and label arrays plus a sidecar checksum for each. The duration is the
// only cache key; extraction parameters such as the transform are not
// encoded, which is why ForceExtract exists.
type cachePaths struct {
	data      string
	dataSum   string
	labels    string
	labelsSum string
}

func (d *Dataset) cachePaths() cachePaths {
	ms := d.cfg.TrialDurationMS
	return cachePaths{
		data:      filepath.Join(d.dir, fmt.Sprintf("trial_data.%dms.npy", ms)),
		dataSum:   filepath.Join(d.dir, fmt.Sprintf("trial_data.%dms.sha256", ms)),
		labels:    filepath.Join(d.dir, fmt.Sprintf("trial_labels.%dms.npy", ms)),
		labelsSum: filepath.Join(d.dir, fmt.Sprintf("trial_labels.%dms.sha256", ms)),
	}
}

// canReuse reports whether both cached arrays exist and pass their sidecar
// checksums. With verification disabled, existence is enough.
func (d *Dataset) canReuse(p cachePaths) bool {
	dataSum, err := os.ReadFile(p.dataSum)
	if err != nil {
		if d.cfg.Verbose {
			log.Printf("[cache] cannot reuse trials, sidecar %s is missing", p.dataSum)
		}
		return false
	}
	labelsSum, err := os.ReadFile(p.labelsSum)
	if err != nil {
		if d.cfg.Verbose {
			log.Printf("[cache] cannot reuse trials, sidecar %s is missing", p.labelsSum)
		}
		return false
	}
	if !integrity.VerifyFile(p.data, string(dataSum), d.cfg.VerifySHA256) {
		if d.cfg.Verbose {
			log.Printf("[cache] cannot reuse trials, data file fails verification")
		}
		return false
	}
	if !integrity.VerifyFile(p.labels, string(labelsSum), d.cfg.VerifySHA256) {
		if d.cfg.Verbose {
			log.Printf("[cache] cannot reuse trials, label file fails verification")
		}
		return false
	}
	return true
}

// loadCache reads the cached tensor and labels back and checks that the two
// files agree on the trial count.
func (d *Dataset) loadCache(p cachePaths) (*trials.Tensor, []int64, error) {
	data, shape, err := npy.ReadFloat32(p.data)
	if err != nil {
		return nil, nil, fmt.Errorf("load cached trials: %w", err)
	}
	if len(shape) != 3 {
		return nil, nil, fmt.Errorf("cached trials have shape %v, want [trials, channels, samples]", shape)
	}
	labels, labShape, err := npy.ReadInt64(p.labels)
	if err != nil {
		return nil, nil, fmt.Errorf("load cached labels: %w", err)
	}
	if len(labShape) != 1 || labShape[0] != shape[0] {
		return nil, nil, fmt.Errorf("cached labels have shape %v for %d trials", labShape, shape[0])
	}
	return &trials.Tensor{Data: data, Shape: shape}, labels, nil
}

// saveCache persists the tensor, then its checksum, then the labels and
// theirs. Writing each array before its sidecar means an interrupted save
// leaves a cache that fails verification instead of a stale-looking one.
func (d *Dataset) saveCache(p cachePaths, tensor *trials.Tensor, labels []int64) error {
	if d.cfg.Verbose {
		log.Printf("[cache] saving %s", p.data)
	}
	if err := npy.WriteFloat32(p.data, tensor.Data, tensor.Shape); err != nil {
		return fmt.Errorf("save trials: %w", err)
	}
	sum, err := integrity.FileSHA256(p.data)
	if err != nil {
		return fmt.Errorf("checksum trials: %w", err)
	}
	if err := os.WriteFile(p.dataSum, []byte(sum), 0o644); err != nil {
		return fmt.Errorf("save trials checksum: %w", err)
	}

	if d.cfg.Verbose {
		log.Printf("[cache] saving %s", p.labels)
	}
	if err := npy.WriteInt64(p.labels, labels, []int{len(labels)}); err != nil {
		return fmt.Errorf("save labels: %w", err)
	}
	sum, err = integrity.FileSHA256(p.labels)
	if err != nil {
		return fmt.Errorf("checksum labels: %w", err)
	}
	if err := os.WriteFile(p.labelsSum, []byte(sum), 0o644); err != nil {
		return fmt.Errorf("save labels checksum: %w", err)
	}
	return nil
}

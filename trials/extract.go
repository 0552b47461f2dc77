package trials

import (
	"fmt"
	"runtime"
	"sync"
)

// DefaultWorkers is the worker count used when Extractor.Workers is zero:
// one and a half times the CPU count, at least one.
func DefaultWorkers() int {
	n := runtime.NumCPU() * 3 / 2
	if n < 1 {
		n = 1
	}
	return n
}

// Extractor runs session parsing over a worker pool and assembles the
// results into one tensor. Sessions are handed to workers in input order
// and collected in that same order, so the tensor layout is deterministic
// regardless of which worker finishes first. The number of parsed but not
// yet collected sessions never exceeds the worker count, which bounds peak
// memory while a slow session holds up collection.
type Extractor struct {
	Config Config

	// Workers caps concurrent session parses. Zero means DefaultWorkers.
	Workers int

	// Progress, when non-nil, is called after each session is collected,
	// with the number of collected sessions and the total.
	Progress func(done, total int)
}

type sessionResult struct {
	data   []float32
	labels []int64
	err    error
}

// Extract parses every session in paths and returns the assembled tensor
// with one label per trial. trialShape is the probed [channels, samples]
// shape of a single trial and totalTrials the expected overall count; any
// session that fails to parse, or a trial count that does not add up to
// totalTrials, fails the whole extraction.
func (e *Extractor) Extract(paths []string, trialShape []int, totalTrials int) (*Tensor, []int64, error) {
	if len(trialShape) != 2 || trialShape[0] <= 0 || trialShape[1] <= 0 {
		return nil, nil, fmt.Errorf("trial shape %v, want positive [channels, samples]", trialShape)
	}
	if e.Config.TrialDurationSamples != trialShape[1] {
		return nil, nil, fmt.Errorf("trial shape %v disagrees with configured duration of %d samples", trialShape, e.Config.TrialDurationSamples)
	}
	if totalTrials < 0 {
		return nil, nil, fmt.Errorf("expected trial count %d", totalTrials)
	}

	tensor := NewTensor(totalTrials, trialShape[0], trialShape[1])
	labels := make([]int64, totalTrials)
	if len(paths) == 0 {
		if totalTrials != 0 {
			return nil, nil, fmt.Errorf("no sessions to extract %d expected trials from", totalTrials)
		}
		return tensor, labels, nil
	}

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	// Per-session result slots let workers finish out of order while the
	// collector drains strictly in order. The semaphore is released only
	// once a slot has been drained, bounding in-flight sessions.
	results := make([]chan sessionResult, len(paths))
	for i := range results {
		results[i] = make(chan sessionResult, 1)
	}
	jobs := make(chan int)
	stop := make(chan struct{})
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				data, lab, err := ParseSession(paths[i], e.Config)
				results[i] <- sessionResult{data: data, labels: lab, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range paths {
			select {
			case sem <- struct{}{}:
			case <-stop:
				return
			}
			select {
			case jobs <- i:
			case <-stop:
				return
			}
		}
	}()

	trialElems := trialShape[0] * trialShape[1]
	cursor := 0
	var firstErr error
	for i := range paths {
		r := <-results[i]
		if r.err != nil {
			firstErr = r.err
			break
		}
		n := len(r.labels)
		if len(r.data) != n*trialElems {
			firstErr = fmt.Errorf("session %s produced %d values for %d trials, want %d per trial", paths[i], len(r.data), n, trialElems)
			break
		}
		if cursor+n > totalTrials {
			firstErr = fmt.Errorf("session %s overflows the expected %d trials", paths[i], totalTrials)
			break
		}
		copy(tensor.Data[cursor*trialElems:], r.data)
		copy(labels[cursor:], r.labels)
		cursor += n
		<-sem
		if e.Progress != nil {
			e.Progress(i+1, len(paths))
		}
	}

	close(stop)
	wg.Wait()
	if firstErr != nil {
		return nil, nil, firstErr
	}
	if cursor != totalTrials {
		return nil, nil, fmt.Errorf("extracted %d trials, expected %d", cursor, totalTrials)
	}
	return tensor, labels, nil
}

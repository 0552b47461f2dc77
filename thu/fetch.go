package thu

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/nik-sm/thu-rsvp-go/integrity"
)

// fetchChunk is the copy buffer size for downloads.
const fetchChunk = 10 * 1024 * 1024

// looseFetchParallelism bounds concurrent downloads of the small
// documentation files. The multi-gigabyte archives are fetched one at a
// time so a flaky connection fails fast and progress stays readable.
const looseFetchParallelism = 4

// ensureFiles brings every distribution file into d.dir. Files that already
// verify are left alone; the rest are downloaded when Download is enabled
// and verified afterwards.
func (d *Dataset) ensureFiles() error {
	if d.cfg.Download {
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return fmt.Errorf("create dataset dir: %w", err)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(looseFetchParallelism)
	for _, rf := range LooseFiles {
		g.Go(func() error { return d.ensureFile(rf) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rf := range ZipFiles {
		if err := d.ensureFile(rf); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) ensureFile(rf RemoteFile) error {
	path := filepath.Join(d.dir, rf.Name)
	if integrity.VerifyFile(path, rf.SHA256, d.cfg.VerifySHA256) {
		if d.cfg.Verbose {
			log.Printf("[download] already have %s (checksum verified: %v)", path, d.cfg.VerifySHA256)
		}
		return nil
	}

	if d.cfg.Download {
		if err := fetchURL(d.sourceURL+"/"+rf.Name, path, d.cfg.Verbose); err != nil {
			return err
		}
	}
	if !integrity.VerifyFile(path, rf.SHA256, d.cfg.VerifySHA256) {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s (enable Download to fetch it)", ErrMissingFile, rf.Name)
		}
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, rf.Name)
	}
	return nil
}

// fetchURL streams url into dest, replacing any existing file. With verbose
// logging it reports progress periodically, since the archives take a while.
func fetchURL(url, dest string, verbose bool) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	var done int64
	var stopProgress chan struct{}
	if verbose {
		total := "unknown size"
		if resp.ContentLength > 0 {
			total = humanize.IBytes(uint64(resp.ContentLength))
		}
		stopProgress = make(chan struct{})
		go func() {
			ticker := time.NewTicker(3 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					log.Printf("[download] %s: %s of %s", filepath.Base(dest), humanize.IBytes(uint64(atomic.LoadInt64(&done))), total)
				case <-stopProgress:
					log.Printf("[download] %s: finished (%s)", filepath.Base(dest), humanize.IBytes(uint64(atomic.LoadInt64(&done))))
					return
				}
			}
		}()
	}

	buf := make([]byte, fetchChunk)
	_, err = io.CopyBuffer(io.MultiWriter(f, progressWriter{&done}), resp.Body, buf)
	if stopProgress != nil {
		close(stopProgress)
	}
	if err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return nil
}

// progressWriter counts bytes for the download progress log.
type progressWriter struct {
	done *int64
}

func (w progressWriter) Write(p []byte) (int, error) {
	atomic.AddInt64(w.done, int64(len(p)))
	return len(p), nil
}

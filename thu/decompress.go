package thu

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// unzipParallelism bounds concurrent archive extraction, which is mostly
// disk bound.
const unzipParallelism = 2

// decompressAll unpacks each archive into a directory named after it,
// S1-S10.mat.zip into S1-S10.mat and so on. An archive whose output
// directory already exists is skipped unless force is set.
func (d *Dataset) decompressAll(force bool) error {
	g := new(errgroup.Group)
	g.SetLimit(unzipParallelism)
	for _, rf := range ZipFiles {
		src := filepath.Join(d.dir, rf.Name)
		dst := filepath.Join(d.dir, strings.TrimSuffix(rf.Name, ".zip"))

		if !force {
			if _, err := os.Stat(dst); err == nil {
				if d.cfg.Verbose {
					log.Printf("[decompress] skipping %s", dst)
				}
				continue
			}
		}
		g.Go(func() error {
			if d.cfg.Verbose {
				log.Printf("[decompress] unpacking %s to %s", src, dst)
			}
			return extractZip(src, dst)
		})
	}
	return g.Wait()
}

// extractZip unpacks src into dstDir, refusing entries that would land
// outside it.
func extractZip(src, dstDir string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dstDir, err)
	}
	for _, zf := range zr.File {
		if !filepath.IsLocal(filepath.FromSlash(zf.Name)) {
			return fmt.Errorf("archive %s: entry %q escapes the output directory", src, zf.Name)
		}
		dest := filepath.Join(dstDir, filepath.FromSlash(zf.Name))

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
		}
		if err := extractZipFile(zf, dest); err != nil {
			return fmt.Errorf("archive %s: %w", src, err)
		}
	}
	return nil
}

func extractZipFile(zf *zip.File, dest string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return nil
}

// Package integrity computes and checks SHA-256 content digests for files and
// directories. It is the gate for every reuse decision in the dataset
// pipeline: a file is only trusted when it exists and, unless verification is
// disabled, its digest matches the expected value.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// chunkSize bounds memory use while hashing multi-gigabyte archives.
const chunkSize = 10 * 1024 * 1024

// FileSHA256 computes the SHA-256 digest of the file contents and returns it
// as a lowercase hex string. The file is read in fixed-size chunks so the
// whole payload is never held in memory.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile reports whether path can be trusted against the expected hex
// digest. A missing file is never trusted. When verify is false, existence
// alone is sufficient. Expected digests are compared case-insensitively and
// with surrounding whitespace ignored, since sidecar files may end in a
// newline. Read failures are treated as verification failures.
func VerifyFile(path, expected string, verify bool) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if !verify {
		return true
	}
	got, err := FileSHA256(path)
	if err != nil {
		return false
	}
	return got == strings.ToLower(strings.TrimSpace(expected))
}

// FolderSHA256 computes a single SHA-256 digest over every regular file below
// dir, visited in lexical path order. If include is non-empty, only files
// whose base name appears in it contribute. The digest covers file contents
// only, so renaming a directory does not change it but editing a file does.
func FolderSHA256(dir string, include []string) (string, error) {
	var names map[string]bool
	if len(include) > 0 {
		names = make(map[string]bool, len(include))
		for _, n := range include {
			names[n] = true
		}
	}

	h := sha256.New()
	buf := make([]byte, chunkSize)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if names != nil && !names[d.Name()] {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.CopyBuffer(h, f, buf); err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFolder is the directory counterpart of VerifyFile: a missing
// directory is never trusted, a disabled check requires existence only, and
// otherwise the recursive digest must match expected.
func VerifyFolder(dir, expected string, verify bool, include []string) bool {
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	if !verify {
		return true
	}
	got, err := FolderSHA256(dir, include)
	if err != nil {
		return false
	}
	return got == strings.ToLower(strings.TrimSpace(expected))
}

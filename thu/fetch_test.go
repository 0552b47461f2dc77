package thu

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// SHA-256 of "hello world".
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// testDataset builds a Dataset rooted in a temp dir with the dataset
// directory already created, so tests can drop files into d.Dir() directly.
func testDataset(t *testing.T, cfg Config) *Dataset {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.TrialDurationMS == 0 {
		cfg.TrialDurationMS = 64
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := os.MkdirAll(d.Dir(), 0o755); err != nil {
		t.Fatalf("failed to create dataset dir: %v", err)
	}
	return d
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestEnsureFileAcceptsVerifiedFile(t *testing.T) {
	d := testDataset(t, Config{VerifySHA256: true})
	rf := RemoteFile{Name: "hello.txt", SHA256: helloDigest}
	writeFile(t, filepath.Join(d.Dir(), rf.Name), "hello world")

	if err := d.ensureFile(rf); err != nil {
		t.Fatalf("ensureFile failed on a verified file: %v", err)
	}
}

func TestEnsureFileMissingWithoutDownload(t *testing.T) {
	d := testDataset(t, Config{VerifySHA256: true})
	err := d.ensureFile(RemoteFile{Name: "hello.txt", SHA256: helloDigest})
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("got %v, want ErrMissingFile", err)
	}
}

func TestEnsureFileChecksumMismatch(t *testing.T) {
	d := testDataset(t, Config{VerifySHA256: true})
	rf := RemoteFile{Name: "hello.txt", SHA256: helloDigest}
	writeFile(t, filepath.Join(d.Dir(), rf.Name), "tampered")

	err := d.ensureFile(rf)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}

func TestEnsureFileDownloads(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		if r.URL.Path != "/hello.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	d := testDataset(t, Config{Download: true, VerifySHA256: true})
	d.sourceURL = srv.URL
	rf := RemoteFile{Name: "hello.txt", SHA256: helloDigest}

	if err := d.ensureFile(rf); err != nil {
		t.Fatalf("ensureFile failed: %v", err)
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Fatalf("server saw %d requests, want 1", n)
	}
	got, err := os.ReadFile(filepath.Join(d.Dir(), rf.Name))
	if err != nil {
		t.Fatalf("downloaded file unreadable: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("downloaded %q, want %q", got, "hello world")
	}

	// A second call must not hit the server again.
	if err := d.ensureFile(rf); err != nil {
		t.Fatalf("ensureFile failed on the downloaded file: %v", err)
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Fatalf("server saw %d requests after re-ensure, want 1", n)
	}
}

func TestEnsureFileReplacesCorruptFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	d := testDataset(t, Config{Download: true, VerifySHA256: true})
	d.sourceURL = srv.URL
	rf := RemoteFile{Name: "hello.txt", SHA256: helloDigest}
	path := filepath.Join(d.Dir(), rf.Name)
	writeFile(t, path, "tampered")

	if err := d.ensureFile(rf); err != nil {
		t.Fatalf("ensureFile failed to replace a corrupt file: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("replaced file unreadable: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("file holds %q after re-download, want %q", got, "hello world")
	}
}

func TestEnsureFileServedCorruptFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not the real file"))
	}))
	defer srv.Close()

	d := testDataset(t, Config{Download: true, VerifySHA256: true})
	d.sourceURL = srv.URL

	err := d.ensureFile(RemoteFile{Name: "hello.txt", SHA256: helloDigest})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}

// With verification off, ensureFiles only demands that every manifest file
// exists.
func TestEnsureFilesExistenceOnly(t *testing.T) {
	d := testDataset(t, Config{})
	for _, rf := range AllFiles() {
		writeFile(t, filepath.Join(d.Dir(), rf.Name), "placeholder")
	}
	if err := d.ensureFiles(); err != nil {
		t.Fatalf("ensureFiles failed with all files present: %v", err)
	}

	if err := os.Remove(filepath.Join(d.Dir(), ZipFiles[0].Name)); err != nil {
		t.Fatalf("failed to remove archive: %v", err)
	}
	err := d.ensureFiles()
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("got %v, want ErrMissingFile", err)
	}
	if !strings.Contains(err.Error(), ZipFiles[0].Name) {
		t.Fatalf("error %q does not name the missing file", err)
	}
}

func TestFetchURLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	err := fetchURL(srv.URL+"/missing", dest, false)
	if err == nil {
		t.Fatal("fetchURL succeeded on a 404")
	}
	if !strings.Contains(err.Error(), "unexpected status") {
		t.Fatalf("error %q does not mention the status", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("dest should not exist after a failed download, stat: %v", statErr)
	}
}

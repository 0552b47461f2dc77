package thu

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type zipEntry struct {
	name    string
	content string
}

func writeZip(t *testing.T, path string, entries []zipEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("failed to add entry %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.content)); err != nil {
			t.Fatalf("failed to write entry %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish %s: %v", path, err)
	}
}

func TestExtractZip(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "sessions.zip")
	writeZip(t, src, []zipEntry{
		{"S1-S10.mat/sub1A.mat", "session 1A"},
		{"S1-S10.mat/sub1B.mat", "session 1B"},
		{"readme", "top level"},
	})

	dst := filepath.Join(tmp, "out")
	if err := extractZip(src, dst); err != nil {
		t.Fatalf("extractZip failed: %v", err)
	}

	for path, want := range map[string]string{
		filepath.Join(dst, "S1-S10.mat", "sub1A.mat"): "session 1A",
		filepath.Join(dst, "S1-S10.mat", "sub1B.mat"): "session 1B",
		filepath.Join(dst, "readme"):                  "top level",
	} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("missing extracted file %s: %v", path, err)
		}
		if string(got) != want {
			t.Fatalf("%s holds %q, want %q", path, got, want)
		}
	}
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "evil.zip")
	writeZip(t, src, []zipEntry{{"../evil.txt", "outside"}})

	err := extractZip(src, filepath.Join(tmp, "out"))
	if err == nil {
		t.Fatal("extractZip accepted an entry escaping the output directory")
	}
	if !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("error %q does not mention the escape", err)
	}
	if _, statErr := os.Stat(filepath.Join(tmp, "evil.txt")); !os.IsNotExist(statErr) {
		t.Fatal("escaping entry was written outside the output directory")
	}
}

func TestDecompressAllSkipsExisting(t *testing.T) {
	d := testDataset(t, Config{})
	for _, rf := range ZipFiles {
		writeZip(t, filepath.Join(d.Dir(), rf.Name), []zipEntry{
			{"marker.txt", "from " + rf.Name},
		})
	}

	// Pre-create one output directory with different content. Without
	// force it must be left untouched.
	existing := filepath.Join(d.Dir(), strings.TrimSuffix(ZipFiles[0].Name, ".zip"))
	if err := os.MkdirAll(existing, 0o755); err != nil {
		t.Fatalf("failed to pre-create %s: %v", existing, err)
	}
	writeFile(t, filepath.Join(existing, "marker.txt"), "stale")

	if err := d.decompressAll(false); err != nil {
		t.Fatalf("decompressAll failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(existing, "marker.txt"))
	if err != nil {
		t.Fatalf("marker unreadable: %v", err)
	}
	if string(got) != "stale" {
		t.Fatalf("pre-existing directory was re-extracted, marker holds %q", got)
	}
	for _, rf := range ZipFiles[1:] {
		dir := filepath.Join(d.Dir(), strings.TrimSuffix(rf.Name, ".zip"))
		got, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
		if err != nil {
			t.Fatalf("archive %s was not extracted: %v", rf.Name, err)
		}
		if want := "from " + rf.Name; string(got) != want {
			t.Fatalf("%s marker holds %q, want %q", dir, got, want)
		}
	}
}

func TestDecompressAllForce(t *testing.T) {
	d := testDataset(t, Config{})
	for _, rf := range ZipFiles {
		writeZip(t, filepath.Join(d.Dir(), rf.Name), []zipEntry{
			{"marker.txt", "fresh"},
		})
	}
	existing := filepath.Join(d.Dir(), strings.TrimSuffix(ZipFiles[0].Name, ".zip"))
	if err := os.MkdirAll(existing, 0o755); err != nil {
		t.Fatalf("failed to pre-create %s: %v", existing, err)
	}
	writeFile(t, filepath.Join(existing, "marker.txt"), "stale")

	if err := d.decompressAll(true); err != nil {
		t.Fatalf("decompressAll failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(existing, "marker.txt"))
	if err != nil {
		t.Fatalf("marker unreadable: %v", err)
	}
	if string(got) != "fresh" {
		t.Fatalf("force did not re-extract, marker holds %q", got)
	}
}

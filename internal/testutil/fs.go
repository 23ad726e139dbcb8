package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

// CreateTestDevice builds a directory tree that passes device validation:
// a root containing the KOReader marker file plus plugins and patches dirs.
// It returns the root path.
func CreateTestDevice(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "koreader.sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("Failed to create device marker: %v", err)
	}
	for _, dir := range []string{"plugins", "patches"} {
		if err := os.Mkdir(filepath.Join(root, dir), 0755); err != nil {
			t.Fatalf("Failed to create %s dir: %v", dir, err)
		}
	}
	return root
}

// CreateTestArchive is a helper that creates a zip archive containing the
// given file names (each with a small payload). It returns the archive bytes.
func CreateTestArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	tmp := filepath.Join(t.TempDir(), "asset.zip")
	f, err := os.Create(tmp)
	if err != nil {
		t.Fatalf("Failed to create temp archive: %v", err)
	}

	zipWriter := zip.NewWriter(f)
	for name, content := range files {
		w, err := zipWriter.Create(name)
		if err != nil {
			t.Fatalf("Failed to create entry %q in zip: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write entry %q: %v", name, err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		t.Fatalf("Failed to finalize zip: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatalf("Failed to read archive back: %v", err)
	}
	return data
}

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAudioFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscoverBookDirsForScanFindsTopLevelBook(t *testing.T) {
	root := t.TempDir()
	bookDir := filepath.Join(root, "Author", "Title")
	writeAudioFile(t, filepath.Join(bookDir, "chapter1.mp3"))

	var found []string
	if err := discoverBookDirsForScan(root, func(dir string) { found = append(found, dir) }); err != nil {
		t.Fatalf("discoverBookDirsForScan: %v", err)
	}

	if len(found) != 1 || found[0] != bookDir {
		t.Fatalf("expected [%s], got %v", bookDir, found)
	}
}

func TestDiscoverBookDirsForScanDoesNotDescendIntoBookDir(t *testing.T) {
	root := t.TempDir()
	bookDir := filepath.Join(root, "Author", "Title")
	writeAudioFile(t, filepath.Join(bookDir, "chapter1.mp3"))
	writeAudioFile(t, filepath.Join(bookDir, "CD1", "track1.mp3"))

	var found []string
	if err := discoverBookDirsForScan(root, func(dir string) { found = append(found, dir) }); err != nil {
		t.Fatalf("discoverBookDirsForScan: %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("expected exactly one book directory, got %v", found)
	}
}

func TestDiscoverBookDirsForScanFindsMultipleBooks(t *testing.T) {
	root := t.TempDir()
	writeAudioFile(t, filepath.Join(root, "Author A", "Book One", "ch1.mp3"))
	writeAudioFile(t, filepath.Join(root, "Author B", "Book Two", "ch1.mp3"))

	var found []string
	if err := discoverBookDirsForScan(root, func(dir string) { found = append(found, dir) }); err != nil {
		t.Fatalf("discoverBookDirsForScan: %v", err)
	}

	if len(found) != 2 {
		t.Fatalf("expected 2 book directories, got %d: %v", len(found), found)
	}
}

func TestAudioFilesInSkipsNonAudio(t *testing.T) {
	root := t.TempDir()
	writeAudioFile(t, filepath.Join(root, "chapter1.mp3"))
	writeAudioFile(t, filepath.Join(root, "cover.jpg"))

	files, err := audioFilesIn(root)
	if err != nil {
		t.Fatalf("audioFilesIn: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 audio file, got %d: %v", len(files), files)
	}
}

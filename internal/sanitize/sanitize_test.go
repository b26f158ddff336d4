package sanitize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBookHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"02.mp3", "01.mp3", "10.mp3"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	h1, err := BookHash(dir)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := BookHash(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %q then %q", h1, h2)
	}
	if len(h1) != 16 {
		t.Fatalf("expected 16 hex chars, got %d: %q", len(h1), h1)
	}
}

func TestBookHashIgnoresNonAudioFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "01.mp3"), []byte("x"), 0644)

	h1, _ := BookHash(dir)

	os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("y"), 0644)
	h2, _ := BookHash(dir)

	if h1 != h2 {
		t.Fatalf("adding a non-audio file changed the hash: %q -> %q", h1, h2)
	}
}

func TestBookHashNaturalSort(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	for _, name := range []string{"1.mp3", "2.mp3", "10.mp3"} {
		os.WriteFile(filepath.Join(dirA, name), []byte("x"), 0644)
	}
	for _, name := range []string{"10.mp3", "1.mp3", "2.mp3"} {
		os.WriteFile(filepath.Join(dirB, name), []byte("x"), 0644)
	}

	// Within one dir the hash must be stable across fresh ReadDir
	// calls, and basenames must be ordered by numeric value ("2"
	// before "10"), not lexically.
	h1, err := BookHash(dirA)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := BookHash(dirA)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable hash across repeated reads")
	}
	if !naturalLess("2.mp3", "10.mp3") || naturalLess("10.mp3", "2.mp3") {
		t.Fatalf("expected natural ordering: 2.mp3 before 10.mp3")
	}
}

func TestComponentStripsInvalidBytes(t *testing.T) {
	got := Component(`a/b\c:d*e?f"g<h>i|j`, PurposeFolder)
	for _, c := range []byte{'/', '\\', ':', '*', '?', '"', '<', '>', '|', 0} {
		if strings.IndexByte(got, c) >= 0 {
			t.Fatalf("sanitized output %q still contains invalid byte %q", got, c)
		}
	}
}

func TestComponentEmptyInputSentinel(t *testing.T) {
	got := Component("", PurposeFolder)
	if got != "_" {
		t.Fatalf("expected sentinel %q, got %q", "_", got)
	}
	got = Component("...", PurposeFolder)
	if got != "_" {
		t.Fatalf("expected sentinel for all-trimmed input, got %q", got)
	}
}

func TestComponentTruncatesToByteCeiling(t *testing.T) {
	long := strings.Repeat("a", 400)
	got := Component(long, PurposeFolder)
	if len(got) > 255 {
		t.Fatalf("expected <=255 bytes, got %d", len(got))
	}
}

func TestComponentExactly255BytesUnchanged(t *testing.T) {
	exact := strings.Repeat("a", 255)
	got := Component(exact, PurposeFolder)
	if got != exact {
		t.Fatalf("expected unchanged 255-byte input, got len %d", len(got))
	}
}

func TestComponentCJKTruncatesOnRuneBoundary(t *testing.T) {
	// Each CJK rune here is 3 bytes in UTF-8; 100 runes = 300 bytes.
	long := strings.Repeat("书", 100)
	got := Component(long, PurposeFolder)
	if len(got) > 255 {
		t.Fatalf("expected <=255 bytes, got %d", len(got))
	}
	if !validLeadByte([]byte(got)) {
		t.Fatalf("truncation split a multi-byte rune: %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatalf("truncated output contains replacement rune, sequence was split")
		}
	}
}

func TestComponentFilenamePreservesExtension(t *testing.T) {
	long := strings.Repeat("a", 400) + ".mp3"
	got := Component(long, PurposeFilename)
	if !strings.HasSuffix(got, ".mp3") {
		t.Fatalf("expected extension preserved, got %q", got)
	}
	if len(got) > 255 {
		t.Fatalf("expected <=255 bytes, got %d", len(got))
	}
}

func TestComponentIdempotent(t *testing.T) {
	input := "Weird  Name__With (Spaces).mp3"
	once := Component(input, PurposeFilename)
	twice := Component(once, PurposeFilename)
	if once != twice {
		t.Fatalf("sanitize not idempotent: %q -> %q", once, twice)
	}
}

package pathparse

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRuleASeriesWithYear(t *testing.T) {
	h := Parse("/in/Brandon Sanderson - Mistborn 01 - The Final Empire (2006)", nil)
	if h.Author != "Brandon Sanderson" || h.Series != "Mistborn" || h.Position != "1" || h.Title != "The Final Empire" || h.Year != "2006" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleBAuthorTitle(t *testing.T) {
	h := Parse("/in/Paulo Coelho - The Alchemist", nil)
	if h.Author != "Paulo Coelho" || h.Title != "The Alchemist" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleBRejectsPureNumberSides(t *testing.T) {
	h := Parse("/in/2006 - 14", nil)
	if h.Author == "2006" {
		t.Fatalf("expected rule B to reject pure-number author, got %+v", h)
	}
}

func TestRuleCASIN(t *testing.T) {
	h := Parse("/in/The Martian [B00B8RZM2U]", nil)
	if h.ASIN != "B00B8RZM2U" || h.Title != "The Martian" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleDYearOnly(t *testing.T) {
	h := Parse("/in/Some Random Title (1999)", nil)
	if h.Year != "1999" || h.Author != "" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleEParenthesizedSeries(t *testing.T) {
	h := Parse("/in/The Final Empire (Mistborn 1)", nil)
	if h.Series != "Mistborn" || h.Position != "1" || h.Title != "The Final Empire" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleFBracketedPosition(t *testing.T) {
	h := Parse("/in/[01] The Final Empire", nil)
	if h.Position != "01" || h.Title != "The Final Empire" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleGAuthorOnlyWithNestedAudio(t *testing.T) {
	h := Parse("/in/Brandon Sanderson", []string{"/in/Brandon Sanderson/The Final Empire/01.mp3"})
	if h.Author != "Brandon Sanderson" || h.Title != "The Final Empire" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestRuleOrderPrefersBOverCOnAmbiguousInput(t *testing.T) {
	// "Author - Title [ASIN]" satisfies both rule B (author/title split on
	// the dash) and rule C (title/ASIN split on the trailing bracket).
	// Declared order (A,B,C,...) means B must win.
	h := Parse("/in/Some Author - Some Title [B00B8RZM2U]", nil)
	if h.Author != "Some Author" || h.Title != "Some Title [B00B8RZM2U]" || h.ASIN != "" {
		t.Fatalf("expected rule B to win over rule C, got %+v", h)
	}
}

func TestFallbackUsesBasenameAsTitle(t *testing.T) {
	h := Parse("/in/A Completely Unstructured Folder Name", nil)
	if h.Title != "A Completely Unstructured Folder Name" {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestAuthorHeuristicsRejectYearOnlyCandidate(t *testing.T) {
	if validAuthor("2006") {
		t.Fatal("year-only candidate must be rejected as author")
	}
}

func TestAuthorHeuristicsRejectStopWordsOnly(t *testing.T) {
	if validAuthor("The") {
		t.Fatal("stop-words-only candidate must be rejected as author")
	}
	if !validAuthor("The Author") {
		t.Fatal("an author containing a stop word plus a real word must be accepted")
	}
}

func TestAuthorOverrideWalksUpToAncestor(t *testing.T) {
	root := t.TempDir()
	authorDir := filepath.Join(root, "Series Root")
	bookDir := filepath.Join(authorDir, "Book One")
	if err := os.MkdirAll(bookDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(authorDir, OverrideFileName), []byte("Brandon Sanderson\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if got := AuthorOverride(bookDir); got != "Brandon Sanderson" {
		t.Fatalf("expected override from ancestor, got %q", got)
	}
}

func TestAuthorOverrideAbsentReturnsEmpty(t *testing.T) {
	if got := AuthorOverride(t.TempDir()); got != "" {
		t.Fatalf("expected no override, got %q", got)
	}
}

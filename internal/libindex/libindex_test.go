package libindex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeStripsPunctuationYearsAndTrailingS(t *testing.T) {
	got := Normalize("The Hobbits, Vol. 2 (1954)")
	if got != "the hobbit vol 2" {
		t.Fatalf("got %q", got)
	}
}

func TestNearMatchSubsetWithStopWords(t *testing.T) {
	if !NearMatch("The Final Empire", "Final Empire") {
		t.Fatal("expected near match via stop-word subset")
	}
	if NearMatch("The Final Empire", "The Well of Ascension") {
		t.Fatal("expected no match for unrelated titles")
	}
}

func TestNearMatchJaccard(t *testing.T) {
	if NearMatch("Brandon Sanderson Mistborn", "Mistborn Brandon Sanderson Saga") {
		t.Fatal("3/4 token overlap (0.75) is below the 0.85 jaccard threshold")
	}
	if !NearMatch("Mistborn The Final Empire", "Mistborn Final Empire") {
		t.Fatal("expected near match via stop-word subset")
	}
}

func TestBuildIndexesExistingTree(t *testing.T) {
	root := t.TempDir()
	bookDir := filepath.Join(root, "Brandon Sanderson", "Mistborn", "01 - The Final Empire")
	if err := os.MkdirAll(bookDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bookDir, "The Final Empire.m4b"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if idx.LookupAuthor("brandon sanderson") != "Brandon Sanderson" {
		t.Fatalf("expected author lookup to find existing dir, got %q", idx.LookupAuthor("brandon sanderson"))
	}
	if !idx.IsProcessed("01 - The Final Empire", "The Final Empire") {
		t.Fatal("expected existing file to be indexed as processed")
	}
	if idx.IsProcessed("01.mp3", "does-not-exist") {
		t.Fatal("unexpected processed hit")
	}
}

func TestBuildMissingRootIsEmptyNotError(t *testing.T) {
	idx, err := Build(filepath.Join(t.TempDir(), "does-not-exist-yet"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.LookupAuthor("anyone") != "" {
		t.Fatal("expected empty index")
	}
}

func TestRegisterAndMarkProcessedAreVisibleImmediately(t *testing.T) {
	idx, _ := Build(t.TempDir())
	idx.Register("New Author", "New Book")
	if idx.LookupAuthor("new author") != "New Author" {
		t.Fatal("expected registered author to be found")
	}
	idx.MarkProcessed("New Book", "chapter-01")
	if !idx.IsProcessed("New Book", "chapter-01") {
		t.Fatal("expected marked stem to be processed")
	}
}

func TestBuildIndexesSeriesNestedBookDirsForTitleLookup(t *testing.T) {
	root := t.TempDir()
	bookDir := filepath.Join(root, "Brandon Sanderson", "Mistborn", "01 - The Final Empire")
	if err := os.MkdirAll(bookDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	idx, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := idx.LookupChild(filepath.Join("Brandon Sanderson", "Mistborn"), "The Final Empire")
	if got != "01 - The Final Empire" {
		t.Fatalf("expected series-nested book dir to be registered for a bare-title lookup, got %q", got)
	}
}

func TestRegisterTitleChildDoesNotPolluteAuthorsMap(t *testing.T) {
	idx, _ := Build(t.TempDir())
	idx.RegisterTitleChild(filepath.Join("Brandon Sanderson", "Mistborn"), "02 - The Well of Ascension")

	if idx.LookupAuthor(filepath.Join("Brandon Sanderson", "Mistborn")) != "" {
		t.Fatal("RegisterTitleChild must not register its composite key as an author")
	}
	got := idx.LookupChild(filepath.Join("Brandon Sanderson", "Mistborn"), "The Well of Ascension")
	if got != "02 - The Well of Ascension" {
		t.Fatalf("expected registered title child to be found, got %q", got)
	}
}

func TestCrossSourceDedupKeysOnBookDirAndStemTogether(t *testing.T) {
	idx, _ := Build(t.TempDir())
	idx.MarkProcessed("Book A", "01")
	if idx.IsProcessed("Book B", "01") {
		t.Fatal("two different book dirs sharing a stem must not collide")
	}
}

package tagread

import "testing"

func TestReadMissingFileReturnsZeroHint(t *testing.T) {
	h := Read("/nonexistent/path/book.mp3")
	if h != (Hint{}) {
		t.Fatalf("expected zero Hint for unreadable file, got %+v", h)
	}
}

func TestConflictsWithAuthorIgnoresPunctuationAndCase(t *testing.T) {
	cases := []struct {
		tagAuthor, pathAuthor string
		want                  bool
	}{
		{"J.R.R. Tolkien", "JRR Tolkien", false},
		{"Brandon Sanderson", "brandon-sanderson", false},
		{"Brandon Sanderson", "Patrick Rothfuss", true},
		{"", "Brandon Sanderson", false},
		{"Brandon Sanderson", "", false},
	}
	for _, c := range cases {
		got := ConflictsWithAuthor(c.tagAuthor, c.pathAuthor)
		if got != c.want {
			t.Errorf("ConflictsWithAuthor(%q, %q) = %v, want %v", c.tagAuthor, c.pathAuthor, got, c.want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "", "x", "y"); got != "x" {
		t.Fatalf("expected %q, got %q", "x", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

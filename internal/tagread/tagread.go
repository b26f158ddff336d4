// Package tagread reads embedded audio tags (ID3, FLAC, MP4) using
// github.com/dhowden/tag, producing the same hint-tuple shape the
// path parser and catalog client share, per spec.md §3's metadata
// hint tuple contract. It never shells out: tag reads are cheap and
// synchronous, unlike duration/bitrate/chapter probing which spec.md
// §1 delegates to the external prober subprocess.
package tagread

import (
	"os"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Hint mirrors the path parser's output shape so callers can treat
// tag-derived and path-derived hints interchangeably.
type Hint struct {
	Author   string
	Title    string
	Series   string
	Position string
	Year     string
	ASIN     string
}

// asinFrameKeys are the custom tag frames audiobook tools commonly use
// to stash the Amazon ASIN (no standard frame exists for it).
var asinFrameKeys = []string{"ASIN", "asin", "TXXX:ASIN", "----:com.apple.iTunes:ASIN"}

// Read extracts a Hint from the first audio file's embedded tags.
// Returns a zero Hint (all empty fields) on any read/parse failure;
// tag extraction failures are never fatal to the pipeline.
func Read(path string) Hint {
	f, err := os.Open(path)
	if err != nil {
		return Hint{}
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return Hint{}
	}

	h := Hint{
		Author: firstNonEmpty(m.AlbumArtist(), m.Artist()),
		Title:  m.Title(),
		Series: m.Album(),
	}
	if y := m.Year(); y > 0 {
		h.Year = strconv.Itoa(y)
	}

	raw := m.Raw()
	for _, key := range asinFrameKeys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				h.ASIN = strings.ToUpper(strings.TrimSpace(s))
				break
			}
		}
	}

	if disc, _ := m.Disc(); disc > 0 {
		h.Position = strconv.Itoa(disc)
	}

	return h
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ConflictsWithAuthor reports whether a tag-derived author and a
// path-parsed author name conflict enough to warrant LLM
// disambiguation per spec.md §4.7(b). Uses a case-insensitive,
// punctuation-light comparison so "J.R.R. Tolkien" vs "JRR Tolkien"
// isn't flagged as a conflict.
func ConflictsWithAuthor(tagAuthor, pathAuthor string) bool {
	if tagAuthor == "" || pathAuthor == "" {
		return false
	}
	return normalizeForCompare(tagAuthor) != normalizeForCompare(pathAuthor)
}

func normalizeForCompare(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', ',', '-', '_', ' ':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

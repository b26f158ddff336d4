// Package pathparse extracts a metadata hint tuple from a source
// directory path using an ordered set of regular-expression rules,
// per spec.md §4.5. Grounded on the teacher's internal/meta/patterns.go
// for the "ordered rules, each a regex plus interpretation function,
// stop at first match" shape; generalized from music filename patterns
// to audiobook directory-name patterns.
package pathparse

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Hint is the shared metadata hint tuple, spec.md §3.
type Hint struct {
	Author   string
	Title    string
	Series   string
	Position string
	Year     string
	ASIN     string
}

var stopWords = map[string]bool{"the": true, "of": true, "a": true, "an": true, "and": true}

var (
	// Rule A: "Author - Series NN - Title" with optional trailing "(YYYY)".
	ruleA = regexp.MustCompile(`^(?P<author>[^-]+?)\s*-\s*(?P<series>[^-]+?)\s+(?P<pos>\d+(?:\.\d+)?)\s*-\s*(?P<title>.+?)(?:\s*\((?P<year>\d{4})\))?$`)
	// Rule B: "Author - Title", neither side a pure number.
	ruleB = regexp.MustCompile(`^(?P<author>[^-]+?)\s*-\s*(?P<title>.+?)$`)
	// Rule C: "Title [ASIN]" - exactly 10 alphanumeric chars in brackets.
	ruleC = regexp.MustCompile(`^(?P<title>.+?)\s*\[(?P<asin>[A-Z0-9]{10})\]$`)
	// Rule D: "Title (YYYY)".
	ruleD = regexp.MustCompile(`^(?P<title>.+?)\s*\((?P<year>\d{4})\)$`)
	// Rule E: "Title (Series NN)".
	ruleE = regexp.MustCompile(`^(?P<title>.+?)\s*\((?P<series>[^)]+?)\s+(?P<pos>\d+(?:\.\d+)?)\)$`)
	// Rule F: "[01] Title" or "[001] Title".
	ruleF = regexp.MustCompile(`^\[(?P<pos>\d{2,3})\]\s*(?P<title>.+)$`)

	pureNumber = regexp.MustCompile(`^\d+(\.\d+)?$`)
	fourDigits = regexp.MustCompile(`^\d{4}$`)

	audioExtensions = map[string]bool{
		".mp3": true, ".flac": true, ".m4a": true, ".m4b": true, ".ogg": true, ".wma": true,
	}
)

// OverrideFileName is the marker file whose first line pins the
// author for a directory and all of its descendants.
const OverrideFileName = ".author-override"

// AuthorOverride walks upward from sourceDir (inclusive) looking for
// an .author-override marker file, returning its first non-blank line
// as the pinned author name, or "" if no marker is found. See
// DESIGN.md for the precedence decision: an override, when present,
// wins over both the path parser and the catalog/LLM resolution.
func AuthorOverride(sourceDir string) string {
	dir := sourceDir
	for {
		markerPath := filepath.Join(dir, OverrideFileName)
		if data, err := os.ReadFile(markerPath); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					return line
				}
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Parse extracts a Hint from sourceDir's basename, applying rules A-G
// in order and falling through to the directory basename as title.
// audioFiles, when non-empty, feeds rule G (author-only directory with
// nested audio: the hint is derived by recursing into the first
// child's own basename).
func Parse(sourceDir string, audioFiles []string) Hint {
	base := filepath.Base(sourceDir)

	if h, ok := tryRuleA(base); ok {
		return h
	}
	if h, ok := tryRuleB(base); ok {
		return h
	}
	if h, ok := tryRuleC(base); ok {
		return h
	}
	if h, ok := tryRuleD(base); ok {
		return h
	}
	if h, ok := tryRuleE(base); ok {
		return h
	}
	if h, ok := tryRuleF(base); ok {
		return h
	}
	if h, ok := tryRuleG(base, audioFiles); ok {
		return h
	}

	return Hint{Title: base}
}

func validAuthor(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	if fourDigits.MatchString(candidate) {
		return false
	}
	words := strings.Fields(strings.ToLower(candidate))
	if len(words) == 0 {
		return false
	}
	allStop := true
	for _, w := range words {
		if !stopWords[w] {
			allStop = false
			break
		}
	}
	return !allStop
}

func tryRuleA(base string) (Hint, bool) {
	m := ruleA.FindStringSubmatch(base)
	if m == nil {
		return Hint{}, false
	}
	author := strings.TrimSpace(m[ruleA.SubexpIndex("author")])
	if !validAuthor(author) {
		return Hint{}, false
	}
	return Hint{
		Author:   author,
		Series:   strings.TrimSpace(m[ruleA.SubexpIndex("series")]),
		Position: normalizePosition(m[ruleA.SubexpIndex("pos")]),
		Title:    strings.TrimSpace(m[ruleA.SubexpIndex("title")]),
		Year:     m[ruleA.SubexpIndex("year")],
	}, true
}

func tryRuleB(base string) (Hint, bool) {
	m := ruleB.FindStringSubmatch(base)
	if m == nil {
		return Hint{}, false
	}
	author := strings.TrimSpace(m[ruleB.SubexpIndex("author")])
	title := strings.TrimSpace(m[ruleB.SubexpIndex("title")])
	if pureNumber.MatchString(author) || pureNumber.MatchString(title) {
		return Hint{}, false
	}
	if !validAuthor(author) {
		return Hint{}, false
	}
	return Hint{Author: author, Title: title}, true
}

func tryRuleC(base string) (Hint, bool) {
	m := ruleC.FindStringSubmatch(base)
	if m == nil {
		return Hint{}, false
	}
	return Hint{
		Title: strings.TrimSpace(m[ruleC.SubexpIndex("title")]),
		ASIN:  m[ruleC.SubexpIndex("asin")],
	}, true
}

func tryRuleD(base string) (Hint, bool) {
	m := ruleD.FindStringSubmatch(base)
	if m == nil {
		return Hint{}, false
	}
	return Hint{
		Title: strings.TrimSpace(m[ruleD.SubexpIndex("title")]),
		Year:  m[ruleD.SubexpIndex("year")],
	}, true
}

func tryRuleE(base string) (Hint, bool) {
	m := ruleE.FindStringSubmatch(base)
	if m == nil {
		return Hint{}, false
	}
	return Hint{
		Title:    strings.TrimSpace(m[ruleE.SubexpIndex("title")]),
		Series:   strings.TrimSpace(m[ruleE.SubexpIndex("series")]),
		Position: normalizePosition(m[ruleE.SubexpIndex("pos")]),
	}, true
}

func tryRuleF(base string) (Hint, bool) {
	m := ruleF.FindStringSubmatch(base)
	if m == nil {
		return Hint{}, false
	}
	return Hint{
		Title:    strings.TrimSpace(m[ruleF.SubexpIndex("title")]),
		Position: m[ruleF.SubexpIndex("pos")],
	}, true
}

// tryRuleG handles an author-only directory (no dash-separated title
// segment) whose nested audio files live one level down; it recurses
// into the first audio file's own parent directory name for a title
// hint, per spec.md §4.5 rule G.
func tryRuleG(base string, audioFiles []string) (Hint, bool) {
	if !validAuthor(base) || len(audioFiles) == 0 {
		return Hint{}, false
	}
	// Only applies when the audio file's immediate parent differs from
	// sourceDir itself (i.e. audio sits in a nested subdirectory).
	first := audioFiles[0]
	parent := filepath.Base(filepath.Dir(first))
	if parent == "" || parent == "." || parent == base {
		return Hint{}, false
	}
	if !audioExtensions[strings.ToLower(filepath.Ext(first))] {
		return Hint{}, false
	}
	return Hint{Author: base, Title: parent}, true
}

// normalizePosition strips leading zeros from an integer position
// (e.g. "01" -> "1"); fractional positions (e.g. "1.5") pass through
// unchanged. Zero-padding for the destination path is the organize
// engine's concern (spec.md §4.8), not the path parser's.
func normalizePosition(raw string) string {
	if strings.Contains(raw, ".") {
		return raw
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return raw
	}
	return strconv.Itoa(n)
}

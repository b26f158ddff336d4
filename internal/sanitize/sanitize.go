// Package sanitize computes stable book identifiers and produces
// filesystem-safe path components, grounded on the teacher's
// internal/meta/normalize.go SanitizeFilename/CanonicalizeArtistName
// idiom but generalized to the 255-byte ceiling and the book_hash
// fingerprint this pipeline keys manifests and dedup decisions on.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// AudioExtensions are the extensions counted toward a book's identity
// and toward "does this directory contain audio" decisions.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".m4b":  true,
	".ogg":  true,
	".wma":  true,
}

var invalidChars = regexp.MustCompile(`[/\\:*?"<>|]`)
var whitespaceRun = regexp.MustCompile(`[\s_]+`)

// naturalSplit breaks a string into digit and non-digit runs so that
// sorting compares numeric runs by value, not lexically (e.g. "2" <
// "10"), matching the "natural-sorted (version-aware)" requirement.
var naturalSplit = regexp.MustCompile(`\d+|\D+`)

// BookHash returns the 16-hex-character fingerprint for a source
// directory: SHA-256 over "<sourceDir>\n" followed by the
// natural-sorted list of audio-file basenames it directly contains,
// truncated to 16 hex characters. The hash depends only on the source
// path and the basename set, per spec invariant 5 — never on file
// contents, mtimes, or sizes, so reruns over an unchanged directory
// are idempotent.
func BookHash(sourceDir string) (string, error) {
	absDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", fmt.Errorf("resolve source dir: %w", err)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return "", fmt.Errorf("read source dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if AudioExtensions[ext] {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	h := sha256.New()
	fmt.Fprintf(h, "%s\n", absDir)
	for _, n := range names {
		fmt.Fprintf(h, "%s\n", n)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return sum[:16], nil
}

// naturalLess compares two strings the way a human browsing a file
// list would: numeric runs compare by value.
func naturalLess(a, b string) bool {
	ap := naturalSplit.FindAllString(a, -1)
	bp := naturalSplit.FindAllString(b, -1)
	for i := 0; i < len(ap) && i < len(bp); i++ {
		an, aerr := strconv.Atoi(ap[i])
		bn, berr := strconv.Atoi(bp[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an < bn
			}
			continue
		}
		if ap[i] != bp[i] {
			return ap[i] < bp[i]
		}
	}
	return len(ap) < len(bp)
}

// Purpose selects the replacement character used for invalid bytes:
// folder components are sanitized with a space, filename components
// with an underscore, matching common filesystem convention for each.
type Purpose int

const (
	PurposeFolder Purpose = iota
	PurposeFilename
)

const maxComponentBytes = 255

// Component replaces characters invalid on common filesystems with a
// single space (folders) or underscore (filenames), collapses
// whitespace/underscore runs, strips leading/trailing dots and
// whitespace, and UTF-8-safe-truncates to 255 bytes without ever
// splitting a multi-byte rune. An empty or all-invalid input produces
// the sentinel "_", never the empty string, so callers can always use
// the result as a path segment.
func Component(name string, purpose Purpose) string {
	name = norm.NFC.String(name)

	replacement := " "
	if purpose == PurposeFilename {
		replacement = "_"
	}

	ext := ""
	base := name
	if purpose == PurposeFilename {
		ext = filepath.Ext(name)
		base = strings.TrimSuffix(name, ext)
	}

	base = invalidChars.ReplaceAllString(base, replacement)
	base = removeControl(base)
	base = whitespaceRun.ReplaceAllString(base, replacement)
	base = strings.Trim(base, " .")

	if ext != "" {
		ext = invalidChars.ReplaceAllString(ext, "")
		ext = strings.Trim(ext, " .")
		if ext != "" {
			ext = "." + ext
		}
	}

	result := base + ext
	if result == "" {
		return "_"
	}

	return truncateUTF8(result, ext, maxComponentBytes)
}

func removeControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// truncateUTF8 shortens s to at most maxBytes bytes without splitting
// a multi-byte rune, preserving ext (already counted toward maxBytes)
// when present so filenames keep their extension after truncation.
func truncateUTF8(s, ext string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}

	extLen := len(ext)
	base := strings.TrimSuffix(s, ext)
	budget := maxBytes - extLen
	if budget < 0 {
		budget = 0
	}

	truncated := base
	if len(truncated) > budget {
		b := []byte(truncated)[:budget]
		for len(b) > 0 && !validLeadByte(b) {
			b = b[:len(b)-1]
		}
		truncated = string(b)
	}

	result := truncated + ext
	if result == "" {
		return "_"
	}
	return result
}

// validLeadByte reports whether b ends on a complete UTF-8 rune
// boundary (i.e. does not end mid-sequence).
func validLeadByte(b []byte) bool {
	for i := len(b) - 1; i >= 0 && i >= len(b)-4; i-- {
		c := b[i]
		if c&0xC0 != 0x80 { // not a continuation byte: this is a lead byte
			runeLen := leadByteLen(c)
			return i+runeLen == len(b)
		}
	}
	return true
}

func leadByteLen(c byte) int {
	switch {
	case c&0x80 == 0x00:
		return 1
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

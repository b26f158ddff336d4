// Package libindex builds and maintains the in-memory view of the
// destination library: normalized author/series/title lookups for
// dedup and a processed-stem set for cross-source collision
// detection, per spec.md §4.4. The whole structure is built by one
// filesystem walk at batch start and mutated thereafter under a
// single mutex, matching the teacher's preference (internal/store) for
// one coarse-grained lock over fine-grained per-entry locks when the
// critical sections are this short.
package libindex

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var (
	yearRe            = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	punctRe           = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
	stopWords         = map[string]bool{"the": true, "of": true, "a": true, "an": true, "and": true}
	positionPrefixRe  = regexp.MustCompile(`^\d+(\.\d+)?\s*-\s*`)
)

// stripPositionPrefix removes a leading series-position prefix (e.g.
// "01 - ") from a book directory name, so a title-level near-match
// against a bare title hint isn't defeated by padding the on-disk name
// carries and the hint doesn't.
func stripPositionPrefix(name string) string {
	return positionPrefixRe.ReplaceAllString(name, "")
}

// Normalize collapses a display name into a comparison key: strip
// punctuation, collapse whitespace, lowercase, strip a trailing 's',
// strip four-digit years.
func Normalize(name string) string {
	s := yearRe.ReplaceAllString(name, " ")
	s = punctRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "s")
	return s
}

func tokens(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(normalized) {
		set[t] = true
	}
	return set
}

// NearMatch reports whether two display names are equivalent under
// spec.md §4.4's near-match rule: one name's token set is a subset of
// the other's with only stop words as the difference, OR Jaccard
// similarity over token sets is >= 0.85.
func NearMatch(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	ta, tb := tokens(na), tokens(nb)
	if subsetModuloStopWords(ta, tb) || subsetModuloStopWords(tb, ta) {
		return true
	}
	return jaccard(ta, tb) >= 0.85
}

func subsetModuloStopWords(small, big map[string]bool) bool {
	if len(small) == 0 {
		return false
	}
	for t := range small {
		if !big[t] {
			return false
		}
	}
	extra := len(big) - len(small)
	if extra == 0 {
		return true
	}
	// Every token in big that isn't in small must be a stop word.
	count := 0
	for t := range big {
		if !small[t] {
			if !stopWords[t] {
				return false
			}
			count++
		}
	}
	return count == extra
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter, union := 0, len(a)
	for t := range b {
		if a[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// childEntry maps a normalized child name to its actual on-disk name.
type childEntry map[string]string

// Index is the library's in-memory view, guarded by a single mutex
// per spec.md §9 ("global mutable state ... encapsulated behind a
// single owner ... with a mutex for the index").
type Index struct {
	mu sync.Mutex

	root string

	// authors: normalized author name -> actual directory name.
	authors map[string]string
	// authorChildren: actual author dir name -> normalized child -> actual child dir name.
	authorChildren map[string]childEntry
	// existingFiles: "<book_dir_basename>/<file_stem>" membership set.
	existingFiles map[string]bool
}

// Build walks root once and populates an Index. root need not exist
// yet (a fresh library); a missing root yields an empty Index.
func Build(root string) (*Index, error) {
	idx := &Index{
		root:           root,
		authors:        make(map[string]string),
		authorChildren: make(map[string]childEntry),
		existingFiles:  make(map[string]bool),
	}

	authorEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, err
	}

	for _, ae := range authorEntries {
		if !ae.IsDir() {
			continue
		}
		authorName := ae.Name()
		idx.authors[Normalize(authorName)] = authorName
		idx.authorChildren[authorName] = make(childEntry)

		authorPath := filepath.Join(root, authorName)
		childEntries, err := os.ReadDir(authorPath)
		if err != nil {
			continue
		}
		for _, ce := range childEntries {
			if !ce.IsDir() {
				continue
			}
			childName := ce.Name()
			idx.authorChildren[authorName][Normalize(childName)] = childName
			idx.indexBookDir(filepath.Join(authorPath, childName), childName)

			// Series folders nest another level of book directories;
			// register those under a composite authorDir/seriesDir key
			// so a title-level lookup can find them without polluting
			// the author-level bucket series directory names live in.
			seriesPath := filepath.Join(authorPath, childName)
			seriesKey := filepath.Join(authorName, childName)
			grandEntries, err := os.ReadDir(seriesPath)
			if err != nil {
				continue
			}
			for _, ge := range grandEntries {
				if ge.IsDir() {
					if _, ok := idx.authorChildren[seriesKey]; !ok {
						idx.authorChildren[seriesKey] = make(childEntry)
					}
					idx.authorChildren[seriesKey][Normalize(stripPositionPrefix(ge.Name()))] = ge.Name()
					idx.indexBookDir(filepath.Join(seriesPath, ge.Name()), ge.Name())
				}
			}
		}
	}

	return idx, nil
}

func (idx *Index) indexBookDir(dirPath, dirBasename string) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		idx.existingFiles[dirBasename+"/"+stem] = true
	}
}

// LookupAuthor returns the existing on-disk author directory name for
// a near-matching name, or "" if none is registered.
func (idx *Index) LookupAuthor(name string) string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if actual, ok := idx.authors[Normalize(name)]; ok {
		return actual
	}
	for normalized, actual := range idx.authors {
		if NearMatch(normalized, Normalize(name)) {
			return actual
		}
	}
	return ""
}

// LookupChild returns the existing on-disk child directory name under
// authorDir for a near-matching name, or "" if none is registered.
func (idx *Index) LookupChild(authorDir, name string) string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	children, ok := idx.authorChildren[authorDir]
	if !ok {
		return ""
	}
	if actual, ok := children[Normalize(name)]; ok {
		return actual
	}
	for normalized, actual := range children {
		if NearMatch(normalized, Normalize(name)) {
			return actual
		}
	}
	return ""
}

// Register records a newly committed author/child directory pair so
// subsequent lookups within the same batch see it immediately.
func (idx *Index) Register(authorDir, childDir string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.authors[Normalize(authorDir)] = authorDir
	if _, ok := idx.authorChildren[authorDir]; !ok {
		idx.authorChildren[authorDir] = make(childEntry)
	}
	idx.authorChildren[authorDir][Normalize(childDir)] = childDir
}

// RegisterTitleChild records a newly committed book directory under
// parentKey — an author directory name for a non-series book, or an
// "authorDir/seriesDir" composite key for a series-nested book — so a
// later title-level lookup within the same batch sees it immediately.
// Unlike Register, parentKey is never treated as an author name.
func (idx *Index) RegisterTitleChild(parentKey, childDir string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.authorChildren[parentKey]; !ok {
		idx.authorChildren[parentKey] = make(childEntry)
	}
	idx.authorChildren[parentKey][Normalize(stripPositionPrefix(childDir))] = childDir
}

// MarkProcessed records that bookDir/stem has been written, per
// spec.md §4.4's cross-source dedup key (never stem alone).
func (idx *Index) MarkProcessed(bookDir, stem string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.existingFiles[bookDir+"/"+stem] = true
}

// IsProcessed reports whether bookDir/stem has already been written.
func (idx *Index) IsProcessed(bookDir, stem string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.existingFiles[bookDir+"/"+stem]
}

// Root returns the library root this index was built from.
func (idx *Index) Root() string { return idx.root }

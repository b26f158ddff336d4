// Package manifest implements the per-book JSON state documents
// described in spec.md §3–§4.3: one file per book_hash under a
// configured directory, mutated exclusively by read-modify-write with
// a temp-file-plus-rename for atomicity, with a per-book_hash mutex
// serializing access within one process (the batch-level file lock,
// internal/concurrency, is the cross-process guarantor).
//
// Grounded on the teacher's internal/store package for the "durable
// document, migrate-safe, single writer" shape, but JSON-on-disk
// documents rather than SQLite rows, per spec.md's explicit manifest
// data model.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stage names, in the full pipeline order. A PipelineMode selects a
// contiguous or arbitrary subset of this order.
const (
	StageValidate = "validate"
	StageConcat   = "concat"
	StageConvert  = "convert"
	StageOrganize = "organize"
	StageCleanup  = "cleanup"
)

// FullOrder is the complete, ordered stage list ("convert" mode in spec.md §3).
var FullOrder = []string{StageValidate, StageConcat, StageConvert, StageOrganize, StageCleanup}

// Modes maps named pipeline modes to their ordered stage subset.
var Modes = map[string][]string{
	"convert":  FullOrder,
	"validate": {StageValidate},
	"organize": {StageOrganize},
	"run":      FullOrder,
}

// Status values shared by book-level and stage-level state.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrAlreadyExists is returned by Create when a manifest for the given
// book_hash already exists and force was not requested.
var ErrAlreadyExists = errors.New("manifest already exists")

// ErrNotFound is returned by Load when no manifest exists for the book_hash.
var ErrNotFound = errors.New("manifest not found")

// Document is the manifest's in-memory shape. It round-trips through a
// generic map internally so that fields unknown to this build of the
// program (from a newer schema version) survive an update cycle
// unmodified, per spec.md §6's "unknown fields preserved on round-trip".
type Document map[string]interface{}

// Store manages manifest files under a directory, one per book_hash.
type Store struct {
	dir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Store rooted at dir. dir is created if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) pathFor(bookHash string) string {
	return filepath.Join(s.dir, bookHash+".json")
}

func (s *Store) lockFor(bookHash string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[bookHash]
	if !ok {
		m = &sync.Mutex{}
		s.locks[bookHash] = m
	}
	return m
}

// Create initializes a manifest with all stages pending. If a
// manifest already exists, Create fails with ErrAlreadyExists unless
// force is true, in which case the old manifest is deleted first
// (spec.md §4.9 step 1: force deletes rather than zeroing fields).
func (s *Store) Create(bookHash, sourcePath string, force bool) error {
	lock := s.lockFor(bookHash)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(bookHash)
	if _, err := os.Stat(path); err == nil {
		if !force {
			return ErrAlreadyExists
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove existing manifest for force: %w", err)
		}
	}

	now := nowRFC3339()
	doc := Document{
		"book_hash":   bookHash,
		"source_path": sourcePath,
		"status":      StatusPending,
		"stages":      map[string]interface{}{},
		"metadata": map[string]interface{}{
			"author": "", "title": "", "series": "", "position": "", "year": "", "asin": "",
		},
		"retry_count": 0,
		"max_retries": 3,
		"last_error":  nil,
		"created_at":  now,
		"updated_at":  now,
	}
	for _, stage := range FullOrder {
		stages := doc["stages"].(map[string]interface{})
		stages[stage] = map[string]interface{}{"status": StatusPending}
	}

	return s.writeAtomic(path, doc)
}

// Load reads and decodes the manifest for bookHash.
func (s *Store) Load(bookHash string) (Document, error) {
	lock := s.lockFor(bookHash)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(bookHash)
}

func (s *Store) loadLocked(bookHash string) (Document, error) {
	path := s.pathFor(bookHash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return doc, nil
}

// Exists reports whether a manifest file exists for bookHash.
func (s *Store) Exists(bookHash string) bool {
	_, err := os.Stat(s.pathFor(bookHash))
	return err == nil
}

// Update merges a sparse patch document into the stored manifest and
// persists the result atomically. updated_at is always refreshed.
// Unknown top-level or nested keys present in the stored document but
// absent from patch are preserved.
func (s *Store) Update(bookHash string, patch map[string]interface{}) error {
	lock := s.lockFor(bookHash)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.loadLocked(bookHash)
	if err != nil {
		return err
	}

	deepMerge(doc, patch)
	doc["updated_at"] = nowRFC3339()

	return s.writeAtomic(s.pathFor(bookHash), doc)
}

// SetStage sets a stage's status (and, for in_progress, started_at; for
// completed/failed, completed_at) and merges an optional payload, per
// spec.md §4.3's set_stage convenience operation.
func (s *Store) SetStage(bookHash, stage, status string, payload map[string]interface{}) error {
	stageDoc := map[string]interface{}{"status": status}
	now := nowRFC3339()
	switch status {
	case StatusInProgress:
		stageDoc["started_at"] = now
	case StatusCompleted, StatusFailed:
		stageDoc["completed_at"] = now
	}
	for k, v := range payload {
		stageDoc[k] = v
	}

	patch := map[string]interface{}{
		"stages": map[string]interface{}{
			stage: stageDoc,
		},
	}
	return s.Update(bookHash, patch)
}

// SetError records last_error without changing any stage's status, per
// spec.md §4.3's set_error operation.
func (s *Store) SetError(bookHash, category, message, stage string) error {
	patch := map[string]interface{}{
		"last_error": map[string]interface{}{
			"category": category,
			"message":  message,
			"stage":    stage,
		},
	}
	return s.Update(bookHash, patch)
}

// IncrementRetry bumps retry_count by one.
func (s *Store) IncrementRetry(bookHash string) error {
	lock := s.lockFor(bookHash)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.loadLocked(bookHash)
	if err != nil {
		return err
	}
	count, _ := doc["retry_count"].(float64) // json numbers decode as float64
	doc["retry_count"] = count + 1
	doc["updated_at"] = nowRFC3339()
	return s.writeAtomic(s.pathFor(bookHash), doc)
}

// Delete removes the manifest file for bookHash, used by force reruns.
func (s *Store) Delete(bookHash string) error {
	lock := s.lockFor(bookHash)
	lock.Lock()
	defer lock.Unlock()
	err := os.Remove(s.pathFor(bookHash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writeAtomic marshals doc and writes it via a temp file + rename so
// readers never observe a partial write (spec property P2).
func (s *Store) writeAtomic(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := path + ".tmp-" + strconvItoaFallback()
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp manifest: %w", err)
	}
	return nil
}

// strconvItoaFallback returns a short unique suffix for temp file
// names without importing os.Getpid-based formatting at every call site.
func strconvItoaFallback() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// deepMerge merges src into dst in place: maps merge recursively,
// every other value (including slices) overwrites dst's value
// wholesale. This implements the "sparse document" merge semantics
// spec.md §4.3 describes for Update.
func deepMerge(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}

// StageStatus returns the status string for a given stage in doc,
// defaulting to StatusPending if the stage key is absent.
func StageStatus(doc Document, stage string) string {
	stages, _ := doc["stages"].(map[string]interface{})
	if stages == nil {
		return StatusPending
	}
	s, _ := stages[stage].(map[string]interface{})
	if s == nil {
		return StatusPending
	}
	status, _ := s["status"].(string)
	if status == "" {
		return StatusPending
	}
	return status
}

// BookHash returns the book_hash field from doc.
func BookHash(doc Document) string {
	v, _ := doc["book_hash"].(string)
	return v
}

// Status returns the book-level status field from doc.
func Status(doc Document) string {
	v, _ := doc["status"].(string)
	return v
}

// SourcePath returns the source_path field from doc.
func SourcePath(doc Document) string {
	v, _ := doc["source_path"].(string)
	return v
}

// MetadataField returns metadata.<field> from doc, or "" if absent.
func MetadataField(doc Document, field string) string {
	meta, _ := doc["metadata"].(map[string]interface{})
	if meta == nil {
		return ""
	}
	v, _ := meta[field].(string)
	return v
}

// SortedStageNames returns stage names present in doc, ordered per
// FullOrder (any extra unknown stage names sort last, alphabetically).
func SortedStageNames(doc Document) []string {
	stages, _ := doc["stages"].(map[string]interface{})
	names := make([]string, 0, len(stages))
	for k := range stages {
		names = append(names, k)
	}
	rank := func(name string) int {
		for i, s := range FullOrder {
			if s == name {
				return i
			}
		}
		return len(FullOrder)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

// ValidateMode reports whether mode names a known pipeline mode.
func ValidateMode(mode string) bool {
	_, ok := Modes[mode]
	return ok
}

// KnownModeNames returns the sorted list of valid mode names, for
// error messages and CLI flag validation.
func KnownModeNames() string {
	names := make([]string, 0, len(Modes))
	for k := range Modes {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

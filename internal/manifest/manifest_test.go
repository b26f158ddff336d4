package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/library/Author/Book", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc, err := s.Load("abc123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if BookHash(doc) != "abc123" {
		t.Fatalf("book_hash = %q", BookHash(doc))
	}
	if Status(doc) != StatusPending {
		t.Fatalf("status = %q", Status(doc))
	}
	for _, stage := range FullOrder {
		if StageStatus(doc, stage) != StatusPending {
			t.Fatalf("stage %s not pending", stage)
		}
	}
}

func TestCreateWithoutForceFailsWhenExists(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/x", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("abc123", "/x", false); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.Create("abc123", "/x", true); err != nil {
		t.Fatalf("force Create: %v", err)
	}
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStageUpdatesStatusAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/x", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetStage("abc123", StageValidate, StatusInProgress, nil); err != nil {
		t.Fatalf("SetStage in_progress: %v", err)
	}
	doc, _ := s.Load("abc123")
	if StageStatus(doc, StageValidate) != StatusInProgress {
		t.Fatalf("expected in_progress")
	}

	payload := map[string]interface{}{"duration_seconds": 123.4}
	if err := s.SetStage("abc123", StageValidate, StatusCompleted, payload); err != nil {
		t.Fatalf("SetStage completed: %v", err)
	}
	doc, _ = s.Load("abc123")
	if StageStatus(doc, StageValidate) != StatusCompleted {
		t.Fatalf("expected completed")
	}

	stages := doc["stages"].(map[string]interface{})
	validate := stages[StageValidate].(map[string]interface{})
	if validate["completed_at"] == nil {
		t.Fatalf("expected completed_at to be set")
	}
	if validate["duration_seconds"] != 123.4 {
		t.Fatalf("expected payload field to be merged, got %v", validate["duration_seconds"])
	}

	// Other stages must be untouched by the sparse merge.
	if StageStatus(doc, StageConvert) != StatusPending {
		t.Fatalf("expected unrelated stage to remain pending")
	}
}

func TestUpdatePreservesUnknownFields(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/x", false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate a manifest written by a newer schema version carrying a
	// field this build doesn't know about.
	path := filepath.Join(s.dir, "abc123.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	doc["future_field"] = "from-a-later-version"
	data, _ := json.MarshalIndent(doc, "", "  ")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := s.Update("abc123", map[string]interface{}{"status": StatusInProgress}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Load("abc123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["future_field"] != "from-a-later-version" {
		t.Fatalf("expected unknown field preserved, got %v", got["future_field"])
	}
	if Status(got) != StatusInProgress {
		t.Fatalf("expected status updated, got %q", Status(got))
	}
}

func TestIncrementRetry(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/x", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementRetry("abc123"); err != nil {
			t.Fatalf("IncrementRetry: %v", err)
		}
	}
	doc, _ := s.Load("abc123")
	count, _ := doc["retry_count"].(float64)
	if count != 3 {
		t.Fatalf("expected retry_count 3, got %v", count)
	}
}

func TestSetErrorDoesNotChangeStageStatus(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/x", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetStage("abc123", StageValidate, StatusInProgress, nil); err != nil {
		t.Fatalf("SetStage: %v", err)
	}
	if err := s.SetError("abc123", "transient", "disk full", StageValidate); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	doc, _ := s.Load("abc123")
	if StageStatus(doc, StageValidate) != StatusInProgress {
		t.Fatalf("SetError must not alter stage status")
	}
	lastErr := doc["last_error"].(map[string]interface{})
	if lastErr["category"] != "transient" {
		t.Fatalf("expected last_error.category set, got %v", lastErr["category"])
	}
}

func TestWriteAtomicLeavesNoTempFilesBehind(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("abc123", "/x", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Update("abc123", map[string]interface{}{"status": StatusCompleted}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestValidateModeAndKnownModeNames(t *testing.T) {
	if !ValidateMode("run") {
		t.Fatal("expected run to be a known mode")
	}
	if ValidateMode("bogus") {
		t.Fatal("expected bogus to be unknown")
	}
	if KnownModeNames() == "" {
		t.Fatal("expected non-empty mode name list")
	}
}

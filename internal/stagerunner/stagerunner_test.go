package stagerunner

import (
	"context"
	"errors"
	"testing"

	"github.com/abcpipeline/audiobook-organizer/internal/errs"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
)

func newStore(t *testing.T) *manifest.Store {
	t.Helper()
	store, err := manifest.New(t.TempDir())
	if err != nil {
		t.Fatalf("manifest.New: %v", err)
	}
	return store
}

func okStage(calls *[]string) StageFunc {
	return func(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
		*calls = append(*calls, bookHash)
		return map[string]interface{}{"ok": true}, nil
	}
}

func TestRunCompletesAllStagesInOrder(t *testing.T) {
	store := newStore(t)
	var validateCalls, organizeCalls []string
	r := New(store, Registry{
		manifest.StageValidate: okStage(&validateCalls),
		manifest.StageOrganize: okStage(&organizeCalls),
	})

	outcome, err := r.Run(context.Background(), "/src/book", "hash1", "organize", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != manifest.StatusCompleted {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}
	if len(organizeCalls) != 1 {
		t.Fatalf("expected organize stage called once, got %d", len(organizeCalls))
	}
	if len(validateCalls) != 0 {
		t.Fatalf("expected validate stage not dispatched for organize-only mode")
	}

	doc, err := store.Load("hash1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if manifest.Status(doc) != manifest.StatusCompleted {
		t.Fatalf("expected book status completed, got %s", manifest.Status(doc))
	}
}

func TestRunSkipsAlreadyCompletedStagesUnlessForced(t *testing.T) {
	store := newStore(t)
	var calls []string
	r := New(store, Registry{manifest.StageValidate: okStage(&calls)})

	if _, err := r.Run(context.Background(), "/src/book", "hash1", "validate", false, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}

	outcome, err := r.Run(context.Background(), "/src/book", "hash1", "validate", false, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected stage skipped on second run, total calls %d", len(calls))
	}
	if len(outcome.SkippedStages) != 1 {
		t.Fatalf("expected 1 skipped stage reported, got %d", len(outcome.SkippedStages))
	}
}

func TestRunForceReexecutesCompletedStages(t *testing.T) {
	store := newStore(t)
	var calls []string
	r := New(store, Registry{manifest.StageValidate: okStage(&calls)})

	if _, err := r.Run(context.Background(), "/src/book", "hash1", "validate", false, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := r.Run(context.Background(), "/src/book", "hash1", "validate", true, false); err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected stage re-run under force, total calls %d", len(calls))
	}
}

func TestRunStopsAndRecordsFailureOnStageError(t *testing.T) {
	store := newStore(t)
	failing := func(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
		return nil, errs.Classify(errs.CategoryInput, manifest.StageValidate, errors.New("corrupt file"))
	}
	var organizeCalls []string
	r := New(store, Registry{
		manifest.StageValidate: failing,
		manifest.StageConcat:   okStage(&organizeCalls),
		manifest.StageConvert:  okStage(&organizeCalls),
		manifest.StageOrganize: okStage(&organizeCalls),
		manifest.StageCleanup:  okStage(&organizeCalls),
	})

	outcome, err := r.Run(context.Background(), "/src/book", "hash1", "run", false, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != manifest.StatusFailed {
		t.Fatalf("expected failed, got %s", outcome.Status)
	}
	if outcome.FailedStage != manifest.StageValidate {
		t.Fatalf("expected failure at validate, got %s", outcome.FailedStage)
	}
	if len(organizeCalls) != 0 {
		t.Fatalf("expected later stages not dispatched after a failure, got %d calls", len(organizeCalls))
	}

	doc, err := store.Load("hash1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if manifest.StageStatus(doc, manifest.StageValidate) != manifest.StatusFailed {
		t.Fatalf("expected validate stage marked failed in manifest")
	}
	if manifest.Status(doc) != manifest.StatusFailed {
		t.Fatalf("expected book-level status failed, got %q", manifest.Status(doc))
	}
}

func TestRunMarksBookInProgressBeforeFirstStage(t *testing.T) {
	store := newStore(t)
	var sawStatus string
	capturing := func(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
		loaded, err := store.Load(bookHash)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		sawStatus = manifest.Status(loaded)
		return nil, nil
	}
	r := New(store, Registry{manifest.StageValidate: capturing})

	if _, err := r.Run(context.Background(), "/src/book", "hash1", "validate", false, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sawStatus != manifest.StatusInProgress {
		t.Fatalf("expected book status in_progress while a stage runs, got %q", sawStatus)
	}
}

func TestRunRejectsUnregisteredStageBeforeAnyDispatch(t *testing.T) {
	store := newStore(t)
	var calls []string
	r := New(store, Registry{manifest.StageValidate: okStage(&calls)})

	_, err := r.Run(context.Background(), "/src/book", "hash1", "run", false, false)
	var unreg *ErrUnregisteredStage
	if !errors.As(err, &unreg) {
		t.Fatalf("expected ErrUnregisteredStage, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no stage dispatched when the mode has an unregistered stage, got %d calls", len(calls))
	}
}

func TestRunUnknownModeReturnsError(t *testing.T) {
	store := newStore(t)
	r := New(store, Registry{})
	if _, err := r.Run(context.Background(), "/src/book", "hash1", "bogus", false, false); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRunDryRunStillTransitionsManifestState(t *testing.T) {
	store := newStore(t)
	var calls []string
	r := New(store, Registry{manifest.StageValidate: okStage(&calls)})

	outcome, err := r.Run(context.Background(), "/src/book", "hash1", "validate", false, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != manifest.StatusCompleted {
		t.Fatalf("expected completed even in dry run, got %s", outcome.Status)
	}
	if len(calls) != 1 {
		t.Fatalf("expected stage function invoked once even in dry run")
	}
}

package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpenAppliesSchemaAndPassesIntegrityCheck(t *testing.T) {
	l := newLedger(t)
	if err := l.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestOpenIsIdempotentAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer l2.Close()
	if err := l2.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity after reopen: %v", err)
	}
}

func TestStartAndFinishBatchRunRoundTrip(t *testing.T) {
	l := newLedger(t)

	runID, err := l.StartBatchRun("/library/incoming", "run", time.Now())
	if err != nil {
		t.Fatalf("StartBatchRun: %v", err)
	}
	if runID == 0 {
		t.Fatal("expected non-zero run id")
	}

	if err := l.FinishBatchRun(runID, time.Now(), 3, 2, 1, 0, 1); err != nil {
		t.Fatalf("FinishBatchRun: %v", err)
	}
}

func TestRecordBookOutcomeAndHistoryRoundTrip(t *testing.T) {
	l := newLedger(t)

	runID, err := l.StartBatchRun("/library/incoming", "run", time.Now())
	if err != nil {
		t.Fatalf("StartBatchRun: %v", err)
	}

	if err := l.RecordBookOutcome(runID, "abc123", "/incoming/Book One", "completed", "", "", ""); err != nil {
		t.Fatalf("RecordBookOutcome (success): %v", err)
	}
	if err := l.RecordBookOutcome(runID, "abc123", "/incoming/Book One", "failed", "validate", "input", "corrupt audio"); err != nil {
		t.Fatalf("RecordBookOutcome (failure): %v", err)
	}

	history, err := l.History("abc123")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].Status != "failed" || history[0].FailedStage != "validate" {
		t.Fatalf("expected most recent row first (failed/validate), got %+v", history[0])
	}
	if history[1].Status != "completed" {
		t.Fatalf("expected oldest row second (completed), got %+v", history[1])
	}
}

func TestHistoryEmptyForUnknownBookHash(t *testing.T) {
	l := newLedger(t)
	history, err := l.History("does-not-exist")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d rows", len(history))
	}
}

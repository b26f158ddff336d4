package main

import (
	"path/filepath"
	"testing"
)

func TestCheckToolMissingBinaryIsError(t *testing.T) {
	result := checkTool("Prober", "definitely-not-a-real-binary-xyz", true)
	if !result.error {
		t.Errorf("expected error for a required missing binary, got %+v", result)
	}
}

func TestCheckToolMissingOptionalBinaryIsWarning(t *testing.T) {
	result := checkTool("Fingerprinter", "definitely-not-a-real-binary-xyz", false)
	if result.error {
		t.Errorf("optional missing binary should warn, not error: %+v", result)
	}
	if !result.warning {
		t.Errorf("expected a warning for an optional missing binary, got %+v", result)
	}
}

func TestCheckLockAcquiresAndReleases(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "abc.lock")
	result := checkLock(lockPath)
	if result.error {
		t.Errorf("expected lock acquisition to succeed, got %+v", result)
	}
}

func TestCheckLedgerOpensFreshDatabase(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	result := checkLedger(ledgerPath)
	if result.error {
		t.Errorf("expected ledger open+integrity check to succeed, got %+v", result)
	}
}

func TestCheckDiskSpaceCreatesMissingLibraryRoot(t *testing.T) {
	libraryRoot := filepath.Join(t.TempDir(), "library")
	result := checkDiskSpace(libraryRoot)
	if result.error {
		t.Errorf("expected disk space check to succeed after creating the library root, got %+v", result)
	}
}

func TestCheckWorkDirLocalPathDoesNotWarn(t *testing.T) {
	result := checkWorkDir(t.TempDir())
	if result.error || result.warning {
		t.Errorf("expected a local work_dir to pass cleanly, got %+v", result)
	}
}

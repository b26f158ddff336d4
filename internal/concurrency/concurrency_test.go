package concurrency

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireLockThenContendedReturnsErrLockContended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.lock")

	l1, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer l1.Release()

	_, err = AcquireLock(path)
	var contended *ErrLockContended
	if err == nil {
		t.Fatal("expected contention error on second acquire")
	}
	if ce, ok := err.(*ErrLockContended); !ok {
		t.Fatalf("expected *ErrLockContended, got %T: %v", err, err)
	} else {
		contended = ce
	}
	if contended.Path != path {
		t.Fatalf("unexpected path in error: %s", contended.Path)
	}
}

func TestAcquireLockReleaseThenReacquireSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.lock")

	l1, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("second AcquireLock after release: %v", err)
	}
	defer l2.Release()
}

func TestCheckDiskSpaceAgainstRealFilesystem(t *testing.T) {
	dir := t.TempDir()
	ok, free, err := CheckDiskSpace(dir, 1, DefaultSpaceMultiplier)
	if err != nil {
		t.Fatalf("CheckDiskSpace: %v", err)
	}
	if !ok {
		t.Fatalf("expected a fresh temp dir to have room for 3 bytes, free=%d", free)
	}
}

func TestCheckDiskSpaceRejectsWhenInsufficient(t *testing.T) {
	dir := t.TempDir()
	_, free, err := CheckDiskSpace(dir, 1, 1)
	if err != nil {
		t.Fatalf("CheckDiskSpace: %v", err)
	}
	hugeSource := int64(free) + 1<<40
	ok, _, err := CheckDiskSpace(dir, hugeSource, 1)
	if err != nil {
		t.Fatalf("CheckDiskSpace: %v", err)
	}
	if ok {
		t.Fatal("expected insufficient space for an implausibly large source")
	}
}

func TestShouldThrottleDisabledAtZeroCeiling(t *testing.T) {
	if ShouldThrottle(4, 0) {
		t.Fatal("expected throttling disabled when ceiling is 0")
	}
}

func TestShouldThrottleDisabledAtZeroCPUCount(t *testing.T) {
	if ShouldThrottle(0, 1.5) {
		t.Fatal("expected throttling disabled when cpuCount is 0")
	}
}

func TestAcquireLockCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "batch.lock")
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer l.Release()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
}

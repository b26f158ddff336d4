// Package batch discovers book directories under a root and drives
// each one through internal/stagerunner with a throttled worker pool,
// per spec.md §4.10. The discovery walk, atomic progress counters,
// buffered-channel worker pool, and TTY-gated progress bar are
// grounded on the teacher's internal/scan/scanner.go Scan method,
// generalized from "discover audio files" to "discover book
// directories" (a book root is the first directory a walk encounters
// that directly contains an audio file; the walk does not descend
// into it, since everything below a book root — including CD1/CD2
// subfolders — belongs to that one book).
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/abcpipeline/audiobook-organizer/internal/concurrency"
	"github.com/abcpipeline/audiobook-organizer/internal/sanitize"
	"github.com/abcpipeline/audiobook-organizer/internal/stagerunner"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
)

// Config controls a batch run.
type Config struct {
	Root            string
	LibraryRoot     string
	Mode            string
	Force           bool
	DryRun          bool
	MaxWorkers      int
	LoadCeiling     float64
	SpaceMultiplier int
	LockPath        string
}

// BookResult is the per-book outcome of one batch run.
type BookResult struct {
	SourceDir string
	BookHash  string
	Outcome   stagerunner.Outcome
	Err       error
}

// Summary aggregates a batch run's results.
type Summary struct {
	Results          []BookResult
	DuplicatesSkipped int
}

// Run acquires the batch-wide process lock, discovers book
// directories under cfg.Root, and dispatches each to runner through a
// worker pool throttled by cfg.LoadCeiling. Lock contention is
// reported via *concurrency.ErrLockContended so the caller can exit 0
// rather than treat it as a failure, per spec.md invariant 4.
func Run(ctx context.Context, cfg Config, runner *stagerunner.Runner) (*Summary, error) {
	lock, err := concurrency.AcquireLock(cfg.LockPath)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 || maxWorkers > numCPU() {
		maxWorkers = numCPU()
	}

	bookDirs := make(chan string, 64)
	results := make([]BookResult, 0)
	var resultsMu sync.Mutex

	var dirsFound atomic.Int64
	var dirsProcessed atomic.Int64
	var duplicatesSkipped atomic.Int64

	seenHashes := make(map[string]bool)
	var seenMu sync.Mutex

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()

	isTTY := util.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if isTTY {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Organizing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("books"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				found := dirsFound.Load()
				processed := dirsProcessed.Load()
				if bar != nil && found > 0 {
					bar.Describe(fmt.Sprintf("Organizing | %d found | %d done", found, processed))
					bar.Set64(processed)
				} else if found > 0 {
					util.InfoLog("Progress: %d/%d books processed", processed, found)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sourceDir := range bookDirs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				waitForLoad(ctx, numCPU(), cfg.LoadCeiling)

				bookHash, err := sanitize.BookHash(sourceDir)
				if err != nil {
					resultsMu.Lock()
					results = append(results, BookResult{SourceDir: sourceDir, Err: fmt.Errorf("compute book hash: %w", err)})
					resultsMu.Unlock()
					dirsProcessed.Add(1)
					continue
				}

				seenMu.Lock()
				duplicate := seenHashes[bookHash]
				seenHashes[bookHash] = true
				seenMu.Unlock()
				if duplicate {
					duplicatesSkipped.Add(1)
					dirsProcessed.Add(1)
					continue
				}

				if cfg.LibraryRoot != "" {
					if err := preflightDiskSpace(sourceDir, cfg.LibraryRoot, cfg.SpaceMultiplier); err != nil {
						resultsMu.Lock()
						results = append(results, BookResult{SourceDir: sourceDir, BookHash: bookHash, Err: err})
						resultsMu.Unlock()
						dirsProcessed.Add(1)
						continue
					}
				}

				outcome, runErr := runner.Run(ctx, sourceDir, bookHash, cfg.Mode, cfg.Force, cfg.DryRun)

				resultsMu.Lock()
				results = append(results, BookResult{SourceDir: sourceDir, BookHash: bookHash, Outcome: outcome, Err: runErr})
				resultsMu.Unlock()
				dirsProcessed.Add(1)
			}
		}()
	}

	walkErr := discoverBookDirs(ctx, cfg.Root, func(dir string) {
		dirsFound.Add(1)
		bookDirs <- dir
	})
	close(bookDirs)
	wg.Wait()

	if walkErr != nil {
		return &Summary{Results: results, DuplicatesSkipped: int(duplicatesSkipped.Load())}, walkErr
	}
	return &Summary{Results: results, DuplicatesSkipped: int(duplicatesSkipped.Load())}, nil
}

// discoverBookDirs walks root top-down; the first directory
// encountered that directly contains an audio file is reported as a
// book directory and the walk does not descend into it. Symlinks are
// never followed (filepath.WalkDir's default behavior), per spec.md
// §4.10.
func discoverBookDirs(ctx context.Context, root string, report func(dir string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		hasAudio, err := directlyContainsAudio(path)
		if err != nil {
			return nil
		}
		if hasAudio {
			report(path)
			return filepath.SkipDir
		}
		return nil
	})
}

func directlyContainsAudio(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if sanitize.AudioExtensions[ext] {
			return true, nil
		}
	}
	return false, nil
}

func preflightDiskSpace(sourceDir, libraryRoot string, multiplier int) error {
	size, err := dirSize(sourceDir)
	if err != nil {
		return fmt.Errorf("measure source size: %w", err)
	}
	ok, free, err := concurrency.CheckDiskSpace(libraryRoot, size, multiplier)
	if err != nil {
		return fmt.Errorf("check disk space: %w", err)
	}
	if !ok {
		return fmt.Errorf("insufficient disk space at %s: %d bytes free, need %dx%d bytes", libraryRoot, free, size, multiplier)
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// waitForLoad blocks in short intervals while the system load exceeds
// ceiling, per spec.md P7. Disabled entirely when ceiling <= 0.
func waitForLoad(ctx context.Context, cpuCount int, ceiling float64) {
	for concurrency.ShouldThrottle(cpuCount, ceiling) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func numCPU() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

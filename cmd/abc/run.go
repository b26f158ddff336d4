package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/batch"
	"github.com/abcpipeline/audiobook-organizer/internal/concurrency"
	"github.com/abcpipeline/audiobook-organizer/internal/errs"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
	"github.com/abcpipeline/audiobook-organizer/internal/report"
	"github.com/abcpipeline/audiobook-organizer/internal/stagerunner"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/abcpipeline/audiobook-organizer/internal/watch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline (validate, concat, convert, organize, cleanup) over a source root",
	Long: `Run walks source_roots, discovers book directories, and drives each one
through every pipeline stage: validate, concat, convert, organize, cleanup.

This is the default batch entrypoint. Progress and outcomes are recorded
to the run ledger and a JSONL event log; a markdown summary is written
at the end of the run.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("source", nil, "source root(s) to scan (repeatable)")
	runCmd.Flags().String("library-root", "", "destination library root")
	runCmd.Flags().Bool("dry-run", false, "plan but do not move or convert files")
	runCmd.Flags().Bool("force", false, "re-run every stage even if already completed")
	runCmd.Flags().Bool("resolve-all", false, "always consult the LLM resolver, even above the catalog threshold")
	runCmd.Flags().String("asin", "", "override catalog lookup with a specific ASIN")
	runCmd.Flags().Bool("watch", false, "after the first pass, keep watching source roots and re-run on changes")
	runCmd.Flags().Int("max-parallel", 0, "maximum concurrent books (0 = number of CPUs)")

	viper.BindPFlag("source_roots", runCmd.Flags().Lookup("source"))
	viper.BindPFlag("library_root", runCmd.Flags().Lookup("library-root"))
	viper.BindPFlag("dry-run", runCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("force", runCmd.Flags().Lookup("force"))
	viper.BindPFlag("resolve-all", runCmd.Flags().Lookup("resolve-all"))
	viper.BindPFlag("asin", runCmd.Flags().Lookup("asin"))
	viper.BindPFlag("max_parallel", runCmd.Flags().Lookup("max-parallel"))
}

func runRun(cmd *cobra.Command, args []string) error {
	util.SetVerbose(GetConfigBool("verbose"))
	util.SetQuiet(GetConfigBool("quiet"))

	roots := GetConfigStringSlice("source_roots")
	if len(roots) == 0 {
		return fmt.Errorf("at least one source root is required (use --source or set source_roots in config)")
	}

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	for _, root := range roots {
		code, err := runBatchOnce(ctx, p, root, "run")
		if err != nil {
			return err
		}
		if code > exitCode {
			exitCode = code
		}
	}

	if GetConfigBool("watch") && len(roots) > 0 {
		if err := watchAndRerun(ctx, p, roots); err != nil {
			return err
		}
	}

	if exitCode != 0 {
		return fmt.Errorf("batch run finished with exit code %d", exitCode)
	}
	return nil
}

// runBatchOnce drives one full pass of mode over root, recording the
// batch run and every book outcome to the ledger and writing a
// markdown summary next to the manifests directory.
func runBatchOnce(ctx context.Context, p *Pipeline, root, mode string) (int, error) {
	util.InfoLog("=== abc %s: %s ===", mode, root)

	startedAt := time.Now()
	runID, err := p.Ledger.StartBatchRun(root, mode, startedAt)
	if err != nil {
		return 0, fmt.Errorf("start batch run: %w", err)
	}

	runner := stagerunner.New(p.Manifest, p.Registry())
	cfg := batch.Config{
		Root:            root,
		LibraryRoot:     p.LibraryRoot,
		Mode:            mode,
		Force:           util.GetForce(),
		DryRun:          util.GetDryRun(),
		MaxWorkers:      p.MaxParallel,
		LoadCeiling:     p.CPUCeiling,
		SpaceMultiplier: GetConfigInt("space_multiplier", concurrency.DefaultSpaceMultiplier),
		LockPath:        p.LockPath,
	}

	summary, runErr := batch.Run(ctx, cfg, runner)
	if runErr != nil {
		var contended *concurrency.ErrLockContended
		if errors.As(runErr, &contended) {
			util.WarnLog("lock contended at %s, exiting cleanly", p.LockPath)
			return 0, nil
		}
		if summary == nil {
			return 0, fmt.Errorf("batch run: %w", runErr)
		}
	}

	completed, failed := 0, 0
	for _, r := range summary.Results {
		status := "completed"
		failedStage, category, message := "", "", ""
		if r.Err != nil {
			status = "failed"
			failed++
			message = r.Err.Error()
			category = errs.As(r.Err).String()
		} else if r.Outcome.Status == manifest.StatusFailed {
			status = "failed"
			failed++
			failedStage = r.Outcome.FailedStage
			if r.Outcome.FailedErr != nil {
				message = r.Outcome.FailedErr.Error()
				category = errs.As(r.Outcome.FailedErr).String()
			}
		} else {
			completed++
		}
		if err := p.Ledger.RecordBookOutcome(runID, r.BookHash, r.SourceDir, status, failedStage, category, message); err != nil {
			util.WarnLog("record outcome for %s: %v", r.SourceDir, err)
		}
	}

	worst := errs.CategoryUnknown
	for _, r := range summary.Results {
		if r.Err != nil {
			worst = errs.Worst(worst, errs.As(r.Err))
		} else if r.Outcome.FailedErr != nil {
			worst = errs.Worst(worst, errs.As(r.Outcome.FailedErr))
		}
	}
	exitCode := errs.ExitCode(worst, failed > 0)

	if err := p.Ledger.FinishBatchRun(runID, time.Now(), len(summary.Results), completed, failed, summary.DuplicatesSkipped, exitCode); err != nil {
		util.WarnLog("finish batch run: %v", err)
	}

	rep, err := report.GenerateSummaryReport(p.Ledger, runID, p.Events.Path())
	if err != nil {
		util.WarnLog("generate summary report: %v", err)
	} else {
		outPath := fmt.Sprintf("artifacts/summary-%d.md", runID)
		if err := report.WriteMarkdownReport(rep, outPath); err != nil {
			util.WarnLog("write summary report: %v", err)
		} else {
			util.InfoLog("Summary written to %s", outPath)
		}
	}

	util.SuccessLog("%d completed, %d failed, %d duplicates skipped", completed, failed, summary.DuplicatesSkipped)
	return exitCode, nil
}

// watchAndRerun keeps a fsnotify watcher on every root and re-runs the
// full batch whenever a root settles after new activity, until ctx is
// cancelled.
func watchAndRerun(ctx context.Context, p *Pipeline, roots []string) error {
	watchers := make([]*watch.Watcher, 0, len(roots))
	for _, root := range roots {
		w, err := watch.New(root, watch.DefaultSettleDelay)
		if err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		watchers = append(watchers, w)
		go w.Run(ctx)
	}
	defer func() {
		for _, w := range watchers {
			w.Stop()
		}
	}()

	util.InfoLog("Watching %d source root(s) for changes", len(roots))

	cases := make(chan int, len(watchers))
	for i, w := range watchers {
		go func(i int, w *watch.Watcher) {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-w.Triggers():
					if !ok {
						return
					}
					cases <- i
				}
			}
		}(i, w)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case i := <-cases:
			if _, err := runBatchOnce(ctx, p, roots[i], "run"); err != nil {
				util.WarnLog("watch re-run of %s failed: %v", roots[i], err)
			}
		}
	}
}

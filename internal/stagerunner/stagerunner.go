// Package stagerunner drives one book through a selected pipeline
// mode's stage subset, per spec.md §4.9. It owns the manifest
// lifecycle (create-if-absent, per-stage status transitions,
// terminal book status) but dispatches the actual stage work to a
// registry of named functions supplied by the caller, matching
// spec.md §4.11's "stage registry" indirection.
//
// Grounded on the teacher's internal/plan package for the
// "read current state, decide what's left to do, execute in order,
// record the outcome" control flow, generalized from a single
// plan-then-execute pass to a resumable per-stage state machine.
package stagerunner

import (
	"context"
	"fmt"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/errs"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
)

// StageFunc performs one stage's work for a book. A nil return commits
// the stage as completed; a non-nil return marks the stage and the book
// failed and stops the run for that book (the runner does not retry).
// It should normally be an *errs.ClassifiedError so the manifest's
// last_error carries a category.
type StageFunc func(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (payload map[string]interface{}, err error)

// Registry maps stage name to its implementation.
type Registry map[string]StageFunc

// ErrUnregisteredStage is returned when a selected mode names a stage
// with no registered implementation.
type ErrUnregisteredStage struct{ Stage string }

func (e *ErrUnregisteredStage) Error() string {
	return fmt.Sprintf("stage %q has no registered implementation", e.Stage)
}

// Runner drives books through stages using a shared manifest store and
// stage registry.
type Runner struct {
	Manifest *manifest.Store
	Stages   Registry
}

// New returns a Runner backed by store and registry.
func New(store *manifest.Store, registry Registry) *Runner {
	return &Runner{Manifest: store, Stages: registry}
}

// Outcome summarizes what happened to one book.
type Outcome struct {
	BookHash      string
	Status        string
	FailedStage   string
	FailedErr     error
	SkippedStages []string
}

// Run executes mode's stage subset for bookHash against sourcePath.
// A manifest is created if absent; if force is set and a manifest
// already exists, it's deleted and recreated first (spec.md §4.9
// step 1). Stages already completed are skipped unless force is set,
// in which case every stage in the mode re-runs regardless of prior
// status.
func (r *Runner) Run(ctx context.Context, sourcePath, bookHash, mode string, force, dryRun bool) (Outcome, error) {
	stages, ok := manifest.Modes[mode]
	if !ok {
		return Outcome{}, fmt.Errorf("unknown mode %q (known: %s)", mode, manifest.KnownModeNames())
	}
	for _, stage := range stages {
		if _, ok := r.Stages[stage]; !ok {
			return Outcome{}, &ErrUnregisteredStage{Stage: stage}
		}
	}

	if force && r.Manifest.Exists(bookHash) {
		if err := r.Manifest.Delete(bookHash); err != nil {
			return Outcome{}, fmt.Errorf("delete existing manifest before force re-run: %w", err)
		}
	}
	if !r.Manifest.Exists(bookHash) {
		if err := r.Manifest.Create(bookHash, sourcePath, force); err != nil {
			return Outcome{}, fmt.Errorf("create manifest: %w", err)
		}
	}

	outcome := Outcome{BookHash: bookHash, Status: manifest.StatusCompleted}

	if err := r.Manifest.Update(bookHash, map[string]interface{}{
		"status": manifest.StatusInProgress,
	}); err != nil {
		return outcome, fmt.Errorf("mark book in_progress: %w", err)
	}

	for _, stage := range stages {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}

		doc, err := r.Manifest.Load(bookHash)
		if err != nil {
			return outcome, fmt.Errorf("load manifest before stage %s: %w", stage, err)
		}

		if !force && manifest.StageStatus(doc, stage) == manifest.StatusCompleted {
			outcome.SkippedStages = append(outcome.SkippedStages, stage)
			continue
		}

		if err := r.Manifest.SetStage(bookHash, stage, manifest.StatusInProgress, nil); err != nil {
			return outcome, fmt.Errorf("mark stage %s in_progress: %w", stage, err)
		}

		fn := r.Stages[stage]
		payload, stageErr := fn(ctx, sourcePath, bookHash, doc, dryRun)

		if stageErr != nil {
			category := errs.As(stageErr)
			if err := r.Manifest.SetError(bookHash, category.String(), stageErr.Error(), stage); err != nil {
				return outcome, fmt.Errorf("record stage %s error: %w", stage, err)
			}
			if err := r.Manifest.SetStage(bookHash, stage, manifest.StatusFailed, payload); err != nil {
				return outcome, fmt.Errorf("mark stage %s failed: %w", stage, err)
			}
			if err := r.Manifest.Update(bookHash, map[string]interface{}{
				"status": manifest.StatusFailed,
			}); err != nil {
				return outcome, fmt.Errorf("mark book failed: %w", err)
			}
			outcome.Status = manifest.StatusFailed
			outcome.FailedStage = stage
			outcome.FailedErr = stageErr
			return outcome, nil
		}

		if err := r.Manifest.SetStage(bookHash, stage, manifest.StatusCompleted, payload); err != nil {
			return outcome, fmt.Errorf("mark stage %s completed: %w", stage, err)
		}
	}

	if err := r.Manifest.Update(bookHash, map[string]interface{}{
		"status":       manifest.StatusCompleted,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return outcome, fmt.Errorf("mark book completed: %w", err)
	}
	return outcome, nil
}

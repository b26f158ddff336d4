// Package organize decides a book's destination path and commits the
// move or copy, per spec.md §4.8. The atomic-write, retry-wrapped
// file operations are grounded on the teacher's
// internal/execute/executor.go (copyFile's ".part" temp file +
// rename, moveFile's rename-with-copy-fallback); generalized here
// from single-file operations to whole-directory operations, since an
// audiobook's source unit is a directory (possibly multi-file CD
// subfolders), not a single audio file.
package organize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abcpipeline/audiobook-organizer/internal/libindex"
	"github.com/abcpipeline/audiobook-organizer/internal/pathparse"
	"github.com/abcpipeline/audiobook-organizer/internal/sanitize"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
)

// Action is the decided operation for a plan.
type Action string

const (
	ActionCopy               Action = "copy"
	ActionMove               Action = "move"
	ActionSkipCorrectlyPlaced Action = "skip_correctly_placed"
)

// FilePermissions is the configured mode applied after a copy,
// per spec.md §4.8.
const FilePermissions = 0644

// Plan is the decided destination and action for one book.
type Plan struct {
	SourceDir    string
	DestDir      string
	DestFilename string
	Action       Action
}

// DestPath returns the full path to the planned output file.
func (p Plan) DestPath() string {
	return filepath.Join(p.DestDir, p.DestFilename)
}

// Engine decides and commits organize plans against a shared library index.
type Engine struct {
	LibraryRoot   string
	Index         *libindex.Index
	RetryConfig   *util.RetryConfig
	CaseSensitive bool
}

// New returns an Engine rooted at libraryRoot using idx for dedup lookups.
// Path-equality comparisons (e.g. "is this book already correctly
// placed?") respect the library root's actual case sensitivity rather
// than assuming one, since a library root mounted from a case-insensitive
// filesystem would otherwise see every book as needing a no-op rename.
func New(libraryRoot string, idx *libindex.Index) *Engine {
	caseSensitive, err := util.DetectFilesystemCaseSensitivity(libraryRoot)
	if err != nil {
		caseSensitive = true
	}
	return &Engine{LibraryRoot: libraryRoot, Index: idx, RetryConfig: util.DefaultRetryConfig(), CaseSensitive: caseSensitive}
}

// Plan decides the destination for sourceDir given a resolved hint.
// seriesIsLarge, when true (any catalog candidate reports >= 100 books
// in the series), widens the position padding from 2 to 3 digits.
func (e *Engine) Plan(sourceDir string, hint pathparse.Hint, seriesIsLarge bool) Plan {
	author := hint.Author
	if author == "" {
		author = "Unknown Author"
	}
	authorDir := e.Index.LookupAuthor(author)
	if authorDir == "" {
		authorDir = sanitize.Component(author, sanitize.PurposeFolder)
	}

	title := hint.Title
	if title == "" {
		title = filepath.Base(sourceDir)
	}
	titleSafe := sanitize.Component(title, sanitize.PurposeFolder)

	// Consult the library index at the title level too, per spec.md
	// §4.8 ("at three levels: author, series, title"), so an existing
	// "The Alchemist" folder is reused instead of spawning a duplicate
	// that differs only in casing or punctuation.
	var destDir string
	if hint.Series != "" {
		seriesDir := e.Index.LookupChild(authorDir, hint.Series)
		if seriesDir == "" {
			seriesDir = sanitize.Component(hint.Series, sanitize.PurposeFolder)
		}
		padded := padPosition(hint.Position, seriesIsLarge)
		bookDirName := titleSafe
		if padded != "" {
			bookDirName = fmt.Sprintf("%s - %s", padded, titleSafe)
		}
		if existing := e.Index.LookupChild(filepath.Join(authorDir, seriesDir), title); existing != "" {
			bookDirName = existing
		}
		destDir = filepath.Join(e.LibraryRoot, authorDir, seriesDir, bookDirName)
	} else {
		if existing := e.Index.LookupChild(authorDir, title); existing != "" {
			titleSafe = existing
		}
		destDir = filepath.Join(e.LibraryRoot, authorDir, titleSafe)
	}

	filename := sanitize.Component(title+".m4b", sanitize.PurposeFilename)

	action := ActionCopy
	if util.PathsEqual(destDir, sourceDir, e.CaseSensitive) {
		action = ActionSkipCorrectlyPlaced
	}

	return Plan{SourceDir: sourceDir, DestDir: destDir, DestFilename: filename, Action: action}
}

// padPosition zero-pads to 2 digits, or 3 when seriesIsLarge, per
// spec.md §4.8. An empty position yields an empty string (no prefix).
func padPosition(position string, seriesIsLarge bool) string {
	if position == "" {
		return ""
	}
	if strings.Contains(position, ".") {
		return position
	}
	width := 2
	if seriesIsLarge {
		width = 3
	}
	return fmt.Sprintf("%0*s", width, position)
}

// WithAction returns a copy of the plan with its action set to a, e.g.
// ActionMove for the "reorganize existing library" mode where the
// source is itself under the library root and the whole directory
// relocates rather than copies.
func (p Plan) WithAction(a Action) Plan {
	p.Action = a
	return p
}

// Commit executes plan: for ActionSkipCorrectlyPlaced it's a no-op;
// for ActionMove the entire source directory relocates (recursively,
// preserving subdirectory structure) with empty-parent cleanup bounded
// at the library root; for ActionCopy the source file tree is copied.
// Outside dry-run the destination is then registered with the shared
// index before return so a concurrent Plan sees it immediately; a dry
// run only records the processed-stem claim.
func (e *Engine) Commit(ctx context.Context, plan Plan, dryRun bool) error {
	if plan.Action == ActionSkipCorrectlyPlaced {
		return nil
	}

	bookDirBase := filepath.Base(plan.SourceDir)
	stem := strings.TrimSuffix(plan.DestFilename, filepath.Ext(plan.DestFilename))
	if e.Index.IsProcessed(bookDirBase, stem) {
		return fmt.Errorf("destination %s/%s already claimed by a concurrent organize", bookDirBase, stem)
	}

	if dryRun {
		e.Index.MarkProcessed(bookDirBase, stem)
		return nil
	}

	if err := util.RetryableMkdirAll(plan.DestDir, 0755, e.RetryConfig); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	switch plan.Action {
	case ActionMove:
		if err := e.moveDir(ctx, plan.SourceDir, plan.DestDir); err != nil {
			return err
		}
	case ActionCopy:
		if err := e.copyDir(ctx, plan.SourceDir, plan.DestDir); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown action: %s", plan.Action)
	}

	authorDir := filepath.Base(filepath.Dir(plan.DestDir))
	seriesNested := strings.Count(strings.TrimPrefix(plan.DestDir, e.LibraryRoot), string(filepath.Separator)) > 2
	if seriesNested {
		authorDir = filepath.Base(filepath.Dir(filepath.Dir(plan.DestDir)))
	}
	e.Index.Register(authorDir, filepath.Base(plan.DestDir))
	if seriesNested {
		seriesDir := filepath.Base(filepath.Dir(plan.DestDir))
		e.Index.RegisterTitleChild(filepath.Join(authorDir, seriesDir), filepath.Base(plan.DestDir))
	}
	e.Index.MarkProcessed(bookDirBase, stem)
	return nil
}

// moveDir relocates sourceDir to destDir. It first tries a same-
// filesystem rename of the directory itself; on cross-device failure
// it falls back to a recursive copy followed by source removal,
// mirroring the teacher's moveFile rename-then-copy-fallback pattern.
// After a successful move, empty ancestor directories up to — but
// never above — the library root are removed (spec.md invariant 6).
func (e *Engine) moveDir(ctx context.Context, sourceDir, destDir string) error {
	if err := util.RetryableRename(sourceDir, destDir, e.RetryConfig); err == nil {
		return e.cleanupEmptyParents(filepath.Dir(sourceDir))
	}

	if err := e.copyDir(ctx, sourceDir, destDir); err != nil {
		return err
	}
	if err := os.RemoveAll(sourceDir); err != nil {
		return fmt.Errorf("remove source after move: %w", err)
	}
	return e.cleanupEmptyParents(filepath.Dir(sourceDir))
}

// cleanupEmptyParents removes dir and its ancestors while they are
// empty, stopping at (never above) the library root — spec.md
// property P6.
func (e *Engine) cleanupEmptyParents(dir string) error {
	root := filepath.Clean(e.LibraryRoot)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root) {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return nil
		}
		dir = filepath.Dir(dir)
	}
}

// copyDir recursively copies sourceDir's contents into destDir using
// a ".part" temp file plus atomic rename per file, exactly as the
// teacher's copyFile does for single files.
func (e *Engine) copyDir(ctx context.Context, sourceDir, destDir string) error {
	return filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)

		if info.IsDir() {
			return util.RetryableMkdirAll(target, 0755, e.RetryConfig)
		}
		return e.copyFile(ctx, path, target)
	})
}

func (e *Engine) copyFile(ctx context.Context, srcPath, destPath string) error {
	if err := util.RetryableMkdirAll(filepath.Dir(destPath), 0755, e.RetryConfig); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	src, err := util.RetryableOpen(srcPath, e.RetryConfig)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tempPath := destPath + ".part"
	dst, err := util.RetryableCreate(tempPath, e.RetryConfig)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, copyErr := copyWithContext(ctx, dst, src)
	dst.Close()
	if copyErr != nil {
		util.RetryableRemove(tempPath, e.RetryConfig)
		return fmt.Errorf("copy: %w", copyErr)
	}

	if err := os.Chmod(tempPath, FilePermissions); err != nil {
		// Best-effort: some NFS exports deny chmod without failing the copy.
		_ = err
	}

	if err := util.RetryableRename(tempPath, destPath, e.RetryConfig); err != nil {
		util.RetryableRemove(tempPath, e.RetryConfig)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

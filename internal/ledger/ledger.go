// Package ledger is a SQLite audit trail of batch runs and per-book
// outcomes, explicitly non-authoritative relative to the JSON
// manifests in internal/manifest — it exists so `abc show --history`
// and cross-run reporting can query many books at once, not to drive
// resumption. Grounded on the teacher's internal/store package:
// schema-versioned migration, WAL-mode DSN, single-writer connection
// pool, and PRAGMA integrity_check, per spec.md §4.3/§6.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

// Ledger wraps the audit-trail database.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at path and applies pending
// migrations.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger database: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// CheckIntegrity runs PRAGMA integrity_check.
func (l *Ledger) CheckIntegrity() error {
	var result string
	if err := l.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func (l *Ledger) migrate() error {
	version, err := l.schemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	return tx.Commit()
}

func (l *Ledger) schemaVersion() (int, error) {
	var exists int
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// BatchRun is one invocation of the pipeline over a root directory.
type BatchRun struct {
	ID             int64
	RootPath       string
	Mode           string
	StartedAt      time.Time
	CompletedAt    sql.NullTime
	BooksTotal     int
	BooksCompleted int
	BooksFailed    int
	BooksDuplicate int
	ExitCode       sql.NullInt64
}

// StartBatchRun inserts a new batch_runs row and returns its id.
func (l *Ledger) StartBatchRun(rootPath, mode string, startedAt time.Time) (int64, error) {
	res, err := l.db.Exec(
		"INSERT INTO batch_runs (root_path, mode, started_at) VALUES (?, ?, ?)",
		rootPath, mode, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert batch run: %w", err)
	}
	return res.LastInsertId()
}

// FinishBatchRun records the terminal counts and exit code for a batch run.
func (l *Ledger) FinishBatchRun(runID int64, completedAt time.Time, total, completed, failed, duplicate, exitCode int) error {
	_, err := l.db.Exec(`
		UPDATE batch_runs
		SET completed_at = ?, books_total = ?, books_completed = ?, books_failed = ?, books_duplicate = ?, exit_code = ?
		WHERE id = ?`,
		completedAt.UTC().Format(time.RFC3339), total, completed, failed, duplicate, exitCode, runID,
	)
	if err != nil {
		return fmt.Errorf("finish batch run %d: %w", runID, err)
	}
	return nil
}

// RecordBookOutcome appends one per-book audit row for a batch run.
// failedStage, errorCategory, and errorMessage may be empty for a
// successful book.
func (l *Ledger) RecordBookOutcome(runID int64, bookHash, sourcePath, status, failedStage, errorCategory, errorMessage string) error {
	_, err := l.db.Exec(`
		INSERT INTO book_outcomes (batch_run_id, book_hash, source_path, status, failed_stage, error_category, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, bookHash, sourcePath, status, nullIfEmpty(failedStage), nullIfEmpty(errorCategory), nullIfEmpty(errorMessage),
	)
	if err != nil {
		return fmt.Errorf("record book outcome for %s: %w", bookHash, err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// BookOutcome is one row from book_outcomes, used by `abc show --history`.
type BookOutcome struct {
	BookHash      string
	SourcePath    string
	Status        string
	FailedStage   string
	ErrorCategory string
	ErrorMessage  string
	RecordedAt    time.Time
}

// GetBatchRun returns the batch_runs row for runID.
func (l *Ledger) GetBatchRun(runID int64) (*BatchRun, error) {
	var run BatchRun
	var startedAt string
	var completedAt sql.NullString
	err := l.db.QueryRow(`
		SELECT id, root_path, mode, started_at, completed_at,
		       books_total, books_completed, books_failed, books_duplicate, exit_code
		FROM batch_runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.RootPath, &run.Mode, &startedAt, &completedAt,
		&run.BooksTotal, &run.BooksCompleted, &run.BooksFailed, &run.BooksDuplicate, &run.ExitCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch run %d: %w", runID, err)
	}
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			run.CompletedAt = sql.NullTime{Time: t, Valid: true}
		}
	}
	return &run, nil
}

// OutcomesForRun returns every book_outcomes row recorded for runID, in
// insertion order. Used by internal/report to build a per-run summary.
func (l *Ledger) OutcomesForRun(runID int64) ([]BookOutcome, error) {
	rows, err := l.db.Query(`
		SELECT book_hash, source_path, status,
		       COALESCE(failed_stage, ''), COALESCE(error_category, ''), COALESCE(error_message, ''),
		       recorded_at
		FROM book_outcomes
		WHERE batch_run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []BookOutcome
	for rows.Next() {
		var o BookOutcome
		var recordedAt string
		if err := rows.Scan(&o.BookHash, &o.SourcePath, &o.Status, &o.FailedStage, &o.ErrorCategory, &o.ErrorMessage, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			o.RecordedAt = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// History returns every recorded outcome for bookHash, most recent first.
func (l *Ledger) History(bookHash string) ([]BookOutcome, error) {
	rows, err := l.db.Query(`
		SELECT book_hash, source_path, status,
		       COALESCE(failed_stage, ''), COALESCE(error_category, ''), COALESCE(error_message, ''),
		       recorded_at
		FROM book_outcomes
		WHERE book_hash = ?
		ORDER BY id DESC`, bookHash)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", bookHash, err)
	}
	defer rows.Close()

	var out []BookOutcome
	for rows.Next() {
		var o BookOutcome
		var recordedAt string
		if err := rows.Scan(&o.BookHash, &o.SourcePath, &o.Status, &o.FailedStage, &o.ErrorCategory, &o.ErrorMessage, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			o.RecordedAt = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

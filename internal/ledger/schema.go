package ledger

// Schema v1 — audit trail only. The JSON manifests under
// internal/manifest remain the authoritative, resumable state; this
// database exists so `abc show --history` and post-hoc reporting can
// query across many books and runs without re-reading every manifest
// file, per spec.md §4.3/§6.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS batch_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  root_path TEXT NOT NULL,
  mode TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  completed_at DATETIME,
  books_total INTEGER DEFAULT 0,
  books_completed INTEGER DEFAULT 0,
  books_failed INTEGER DEFAULT 0,
  books_duplicate INTEGER DEFAULT 0,
  exit_code INTEGER
);

CREATE TABLE IF NOT EXISTS book_outcomes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  batch_run_id INTEGER NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
  book_hash TEXT NOT NULL,
  source_path TEXT NOT NULL,
  status TEXT NOT NULL,
  failed_stage TEXT,
  error_category TEXT,
  error_message TEXT,
  recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_book_outcomes_run ON book_outcomes(batch_run_id);
CREATE INDEX IF NOT EXISTS idx_book_outcomes_hash ON book_outcomes(book_hash);
CREATE INDEX IF NOT EXISTS idx_book_outcomes_status ON book_outcomes(status);
`

// Package ledger keeps an optional SQLite record of export runs: one row per
// run, per artifact decision and per issue. The export engine never reads it;
// the history command does.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the default ledger database file under the output root.
const FileName = "export_ledger.db"

// Run is one export run.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Outcome  string
	Issues   int
	Exported int
	Skipped  int
}

// Artifact is the decision taken for one archive or derived artifact.
type Artifact struct {
	RunID   string
	Hub     string
	Project string
	File    string
	Kind    string
	Path    string
	Result  string
	Detail  string
	At      time.Time
}

// Issue is a counted problem of a run.
type Issue struct {
	RunID   string
	Subject string
	Message string
	At      time.Time
}

// Store is a SQLite-backed ledger.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the ledger at dbPath. Use ":memory:" for a
// throwaway ledger.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started INTEGER NOT NULL,
		finished INTEGER,
		outcome TEXT,
		issues INTEGER NOT NULL DEFAULT 0,
		exported INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		hub TEXT NOT NULL,
		project TEXT NOT NULL,
		file TEXT NOT NULL,
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		result TEXT NOT NULL,
		detail TEXT,
		at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		message TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);
	CREATE INDEX IF NOT EXISTS idx_artifacts_path ON artifacts(path);
	CREATE INDEX IF NOT EXISTS idx_issues_run ON issues(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, id string, started time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started) VALUES (?, ?)",
		id, started.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the end of a run started with StartRun.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished = ?, outcome = ?, issues = ?, exported = ?, skipped = ? WHERE id = ?",
		run.Finished.UnixMilli(), run.Outcome, run.Issues, run.Exported, run.Skipped, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run: run %q not found", run.ID)
	}
	return nil
}

// RecordArtifact appends an artifact decision.
func (s *Store) RecordArtifact(ctx context.Context, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO artifacts (run_id, hub, project, file, kind, path, result, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.RunID, a.Hub, a.Project, a.File, a.Kind, a.Path, a.Result, a.Detail, stamp(a.At),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// RecordIssue appends an issue.
func (s *Store) RecordIssue(ctx context.Context, issue Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO issues (run_id, subject, message, at) VALUES (?, ?, ?, ?)",
		issue.RunID, issue.Subject, issue.Message, stamp(issue.At),
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

// Runs returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started, finished, outcome, issues, exported, skipped FROM runs ORDER BY started DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			outcome  sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &outcome, &r.Issues, &r.Exported, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.UnixMilli(started)
		if finished.Valid {
			r.Finished = time.UnixMilli(finished.Int64)
		}
		r.Outcome = outcome.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return runs, nil
}

// Artifacts returns the artifact decisions of a run in insertion order.
func (s *Store) Artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, hub, project, file, kind, path, result, detail, at FROM artifacts WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var (
			a      Artifact
			detail sql.NullString
			at     int64
		)
		if err := rows.Scan(&a.RunID, &a.Hub, &a.Project, &a.File, &a.Kind, &a.Path, &a.Result, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Detail = detail.String
		a.At = time.UnixMilli(at)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return artifacts, nil
}

// Issues returns the issues of a run in insertion order.
func (s *Store) Issues(ctx context.Context, runID string) ([]Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, subject, message, at FROM issues WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var (
			i  Issue
			at int64
		)
		if err := rows.Scan(&i.RunID, &i.Subject, &i.Message, &at); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		i.At = time.UnixMilli(at)
		issues = append(issues, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return issues, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

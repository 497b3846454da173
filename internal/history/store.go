// Package history keeps a local ledger of sync runs in sqlite. The ledger
// is informational; it is never used to skip work on a later run.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded sync of one node.
type Run struct {
	ID         string
	Node       string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	// Phase is the failing step; empty on success.
	Phase     string
	Cookbooks []string
	Warnings  int
	Detail    string
}

func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	node TEXT NOT NULL,
	target TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	outcome TEXT NOT NULL,
	phase TEXT NOT NULL DEFAULT '',
	cookbooks_json TEXT NOT NULL DEFAULT '[]',
	warnings INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT ''
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sync runs schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS sync_runs_node ON sync_runs (node, started_at)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sync runs index: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, r Run) error {
	if r.ID == "" || r.Node == "" {
		return fmt.Errorf("record sync run: id and node are required")
	}
	cookbooks := r.Cookbooks
	if cookbooks == nil {
		cookbooks = []string{}
	}
	payload, err := json.Marshal(cookbooks)
	if err != nil {
		return fmt.Errorf("marshal cookbooks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sync_runs (id, node, target, started_at, finished_at, outcome, phase, cookbooks_json, warnings, detail)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Node, r.Target,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Outcome, r.Phase, string(payload), r.Warnings, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("record sync run %s: %w", r.ID, err)
	}
	return nil
}

const selectRuns = `SELECT id, node, target, started_at, finished_at, outcome, phase, cookbooks_json, warnings, detail FROM sync_runs`

// List returns the newest runs first. An empty node lists every node; a
// limit of zero or less means no limit.
func (s *Store) List(ctx context.Context, node string, limit int) ([]Run, error) {
	query := selectRuns
	var args []any
	if node != "" {
		query += ` WHERE node = ?`
		args = append(args, node)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync run rows: %w", err)
	}
	return out, nil
}

// Last returns the most recent run for node.
func (s *Store) Last(ctx context.Context, node string) (Run, bool, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE node = ? ORDER BY started_at DESC, id LIMIT 1`, node))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return r, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var started, finished, cookbooks string
	if err := row.Scan(&r.ID, &r.Node, &r.Target, &started, &finished, &r.Outcome, &r.Phase, &cookbooks, &r.Warnings, &r.Detail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan sync run row: %w", err)
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at of run %s: %w", r.ID, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(cookbooks), &r.Cookbooks); err != nil {
		return Run{}, fmt.Errorf("unmarshal cookbooks of run %s: %w", r.ID, err)
	}
	return r, nil
}

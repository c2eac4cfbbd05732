// Package ledger keeps a history of validation and planning runs in a
// SQLite database, so a configuration's diagnostics can be compared across
// edits and a plan traced back to the exact file it came from.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/report"
	"github.com/vk/pkcfg/internal/schedule"
	"github.com/vk/pkcfg/internal/validate"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	filename     TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	errors       INTEGER NOT NULL DEFAULT 0,
	warnings     INTEGER NOT NULL DEFAULT 0,
	chunks       INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS diagnostics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	severity     TEXT NOT NULL,
	summary      TEXT NOT NULL,
	detail       TEXT,
	line         INTEGER,
	col          INTEGER,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	name         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	dataset      TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	chunk        INTEGER NOT NULL,
	config       TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS runs_filename ON runs(filename, created_at);
`

const (
	KindValidate = "validate"
	KindPlan     = "plan"
)

// Store is a run ledger backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one recorded invocation.
type Run struct {
	ID          string
	Kind        string
	Filename    string
	Fingerprint string
	Errors      int
	Warnings    int
	Chunks      int
	CreatedAt   time.Time
}

// Diagnostic is a stored diagnostic of a validation run.
type Diagnostic struct {
	Severity string
	Summary  string
	Detail   string
	Line     int
	Column   int
}

// Open opens or creates the ledger at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fingerprint is the sha256 of the canonical form of f, so formatting-only
// edits do not change it.
func Fingerprint(f *cfgfile.File) string {
	sum := sha256.Sum256(f.Bytes())
	return hex.EncodeToString(sum[:])
}

// RecordValidation stores a validation report and its diagnostics.
func (s *Store) RecordValidation(ctx context.Context, r *validate.Report) (Run, error) {
	errs, warnings := r.Counts()
	run := s.newRun(KindValidate, r.Filename, r.File)
	run.Errors, run.Warnings = errs, warnings

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		for _, d := range r.Diagnostics {
			var line, col any
			if d.Subject != nil {
				line, col = d.Subject.Start.Line, d.Subject.Start.Column
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO diagnostics (run_id, severity, summary, detail, line, col) VALUES (?, ?, ?, ?, ?, ?)`,
				run.ID, report.Severity(d.Severity), d.Summary, nullIfEmpty(d.Detail), line, col,
			)
			if err != nil {
				return fmt.Errorf("insert diagnostic: %w", err)
			}
		}
		return nil
	})
	return run, err
}

// RecordPlan stores a plan and the chunks it schedules.
func (s *Store) RecordPlan(ctx context.Context, filename string, f *cfgfile.File, p *schedule.Plan) (Run, error) {
	chunks := p.Chunks()
	run := s.newRun(KindPlan, filename, f)
	run.Chunks = len(chunks)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (run_id, name, kind, dataset, epoch, chunk, config) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()
		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, run.ID, c.Name, string(c.Kind), c.Dataset, c.Epoch, c.Index, c.Config); err != nil {
				return fmt.Errorf("insert chunk %s: %w", c.Name, err)
			}
		}
		return nil
	})
	return run, err
}

// Filter narrows Runs. Zero values match everything; Limit 0 means no limit.
type Filter struct {
	Filename string
	Kind     string
	Limit    int
}

// Runs returns recorded runs, newest first.
func (s *Store) Runs(ctx context.Context, f Filter) ([]Run, error) {
	q := `SELECT run_id, kind, filename, fingerprint, errors, warnings, chunks, created_at FROM runs WHERE 1=1`
	var args []any
	if f.Filename != "" {
		q += ` AND filename = ?`
		args = append(args, f.Filename)
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var created string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Filename, &r.Fingerprint, &r.Errors, &r.Warnings, &r.Chunks, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of run %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Diagnostics returns the stored diagnostics of a run in report order.
func (s *Store) Diagnostics(ctx context.Context, runID string) ([]Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, summary, detail, line, col FROM diagnostics WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []Diagnostic
	for rows.Next() {
		var d Diagnostic
		var detail sql.NullString
		var line, col sql.NullInt64
		if err := rows.Scan(&d.Severity, &d.Summary, &detail, &line, &col); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Detail = detail.String
		d.Line, d.Column = int(line.Int64), int(col.Int64)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) newRun(kind, filename string, f *cfgfile.File) Run {
	r := Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Filename:  filename,
		CreatedAt: s.now(),
	}
	if f != nil {
		r.Fingerprint = Fingerprint(f)
	}
	return r
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, r Run) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, filename, fingerprint, errors, warnings, chunks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Filename, r.Fingerprint, r.Errors, r.Warnings, r.Chunks, r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

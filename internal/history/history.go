// Package history stores finished runs in a local SQLite database so two
// runs against the same engine can be compared step by step.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/report"
)

// SchemaVersion is the current schema, tracked in PRAGMA user_version.
const SchemaVersion = 1

// ErrNotFound is returned when no run matches an id.
var ErrNotFound = errors.New("run not found")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		base_url     TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		finished_at  TEXT NOT NULL,
		threshold    REAL NOT NULL,
		passed       INTEGER NOT NULL,
		total        INTEGER NOT NULL,
		passed_count INTEGER NOT NULL,
		failed       INTEGER NOT NULL,
		skipped      INTEGER NOT NULL,
		rate         REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS results (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		scenario    TEXT NOT NULL,
		name        TEXT NOT NULL,
		kind        TEXT NOT NULL,
		label       TEXT NOT NULL,
		detail      TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);`,
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("failed to configure history database: %w", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("history database schema %d is newer than supported %d", version, SchemaVersion)
	}

	for v := version; v < len(migrations); v++ {
		if _, err := s.db.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}

// Version returns the schema version stored in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	return version, err
}

// SaveRun stores a run and its results in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *report.Run) error {
	if run.RunID == "" {
		return errors.New("run has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, base_url, started_at, finished_at, threshold, passed,
			total, passed_count, failed, skipped, rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.BaseURL, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Threshold, boolInt(run.Passed), run.Summary.Total, run.Summary.Passed,
		run.Summary.Failed, run.Summary.Skipped, run.Summary.Rate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, seq, scenario, name, kind, label, detail,
			status_code, duration_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, res := range run.Results {
		_, err := stmt.ExecContext(ctx,
			run.RunID, i, res.Scenario, res.Name, res.Outcome.Kind.String(), res.Outcome.Label(),
			res.Outcome.Detail, res.Outcome.StatusCode, int64(res.Duration), formatTime(res.Time),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first, without their results.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*report.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_url, started_at, finished_at, threshold, passed,
			total, passed_count, failed, skipped, rate
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*report.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its results. id may be a unique prefix.
func (s *Store) GetRun(ctx context.Context, id string) (*report.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_url, started_at, finished_at, threshold, passed,
			total, passed_count, failed, skipped, rate
		FROM runs WHERE id = ? OR id LIKE ? || '%' ORDER BY id = ? DESC LIMIT 2`, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	var matches []*report.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case len(matches) > 1 && matches[0].RunID != id:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
	run := matches[0]

	results, err := s.results(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	run.Results = results
	run.Scenarios = report.GroupByScenario(results)
	return run, nil
}

func (s *Store) results(ctx context.Context, runID string) ([]report.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario, name, kind, label, detail, status_code, duration_ns, recorded_at
		FROM results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []report.Result
	for rows.Next() {
		var res report.Result
		var kind, recordedAt string
		var duration int64
		if err := rows.Scan(&res.Scenario, &res.Name, &kind, &res.Label, &res.Outcome.Detail,
			&res.Outcome.StatusCode, &duration, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := res.Outcome.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		res.Duration = time.Duration(duration)
		res.Time = parseTime(recordedAt)
		results = append(results, res)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*report.Run, error) {
	var run report.Run
	var started, finished string
	var passed int
	if err := row.Scan(&run.RunID, &run.BaseURL, &started, &finished, &run.Threshold, &passed,
		&run.Summary.Total, &run.Summary.Passed, &run.Summary.Failed, &run.Summary.Skipped,
		&run.Summary.Rate); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	run.Passed = passed != 0
	return &run, nil
}

// Change is a step whose outcome differs between two runs. Before or
// After is empty when the step only ran once.
type Change struct {
	Scenario string
	Name     string
	Before   string
	After    string
}

func (c Change) String() string {
	before, after := c.Before, c.After
	if before == "" {
		before = "(absent)"
	}
	if after == "" {
		after = "(absent)"
	}
	return fmt.Sprintf("%s/%s: %s -> %s", c.Scenario, c.Name, before, after)
}

// Compare returns the steps whose pass/fail state differs between runs a
// and b. Steps are matched by scenario, name and occurrence.
func (s *Store) Compare(ctx context.Context, a, b string) ([]Change, error) {
	runA, err := s.GetRun(ctx, a)
	if err != nil {
		return nil, err
	}
	runB, err := s.GetRun(ctx, b)
	if err != nil {
		return nil, err
	}
	return Diff(runA, runB), nil
}

type stepKey struct {
	scenario, name string
	n              int
}

func keyed(results []report.Result) ([]stepKey, map[stepKey]report.Result) {
	seen := map[[2]string]int{}
	order := make([]stepKey, 0, len(results))
	byKey := make(map[stepKey]report.Result, len(results))
	for _, res := range results {
		k := [2]string{res.Scenario, res.Name}
		key := stepKey{res.Scenario, res.Name, seen[k]}
		seen[k]++
		order = append(order, key)
		byKey[key] = res
	}
	return order, byKey
}

// Diff compares two loaded runs.
func Diff(a, b *report.Run) []Change {
	orderA, resA := keyed(a.Results)
	orderB, resB := keyed(b.Results)

	var changes []Change
	for _, key := range orderA {
		before := resA[key]
		after, ok := resB[key]
		switch {
		case !ok:
			changes = append(changes, Change{Scenario: key.scenario, Name: key.name, Before: label(before)})
		case passed(before) != passed(after):
			changes = append(changes, Change{Scenario: key.scenario, Name: key.name, Before: label(before), After: label(after)})
		}
	}
	for _, key := range orderB {
		if _, ok := resA[key]; !ok {
			changes = append(changes, Change{Scenario: key.scenario, Name: key.name, After: label(resB[key])})
		}
	}
	return changes
}

func passed(r report.Result) bool {
	return r.Outcome.Kind == outcome.Ok
}

func label(r report.Result) string {
	if r.Label != "" {
		return r.Label
	}
	return r.Outcome.Label()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/xferharness/internal/harness"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Address   string    `json:"address"`
	Size      int64     `json:"size"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Total     int       `json:"total"`
}

// OK reports whether every scenario of the run ran and passed.
func (r RunRecord) OK() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// HistoryEntry is one scenario outcome within a recorded run.
type HistoryEntry struct {
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Result    harness.ScenarioResult `json:"result"`
}

// Runs returns the most recent runs, newest first. A limit <= 0 returns
// every run.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, address, size, passed, failed, skipped, total
		FROM runs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Run retrieves a single run by ID.
// Returns ErrRunNotFound if the ID is unknown.
func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, address, size, passed, failed, skipped, total
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ScenarioResults returns the scenario results of a run in execution order.
// Returns ErrRunNotFound if the run ID is unknown.
func (s *Store) ScenarioResults(ctx context.Context, runID string) ([]harness.ScenarioResult, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pass, fatal, skipped, errors, teardown_error, duration_ns
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scenario results: %w", err)
	}
	defer rows.Close()

	results := []harness.ScenarioResult{}
	for rows.Next() {
		res, err := scanScenarioResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenario results: %w", err)
	}

	return results, nil
}

// ScenarioHistory returns the outcomes of one scenario across runs, newest
// first. A limit <= 0 returns every entry.
func (s *Store) ScenarioHistory(ctx context.Context, name string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, sr.name, sr.pass, sr.fatal, sr.skipped, sr.errors, sr.teardown_error, sr.duration_ns
		FROM scenario_results sr
		JOIN runs r ON sr.run_id = r.id
		WHERE sr.name = ?
		ORDER BY r.seq DESC, sr.seq ASC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query scenario history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var entry HistoryEntry
		var startedAt string
		res, err := scanScenarioResult(rows, &entry.RunID, &startedAt)
		if err != nil {
			return nil, err
		}
		if entry.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		entry.Result = res
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenario history: %w", err)
	}

	return entries, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var run RunRecord
	var startedAt string

	if err := row.Scan(
		&run.ID, &startedAt, &run.Address, &run.Size,
		&run.Passed, &run.Failed, &run.Skipped, &run.Total,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return RunRecord{}, err
	}
	run.StartedAt = t
	return run, nil
}

// scanScenarioResult scans a scenario_results row. prefix receives any
// columns selected before the scenario columns.
func scanScenarioResult(row scanner, prefix ...any) (harness.ScenarioResult, error) {
	var res harness.ScenarioResult
	var pass, fatal, skipped int
	var errorsJSON string
	var durationNS int64

	dest := append(prefix, &res.Name, &pass, &fatal, &skipped, &errorsJSON, &res.TeardownError, &durationNS)
	if err := row.Scan(dest...); err != nil {
		return harness.ScenarioResult{}, fmt.Errorf("scan scenario result: %w", err)
	}

	errs, err := unmarshalErrors(errorsJSON)
	if err != nil {
		return harness.ScenarioResult{}, err
	}

	res.Pass = pass == 1
	res.Fatal = fatal == 1
	res.Skipped = skipped == 1
	res.Errors = errs
	res.Duration = time.Duration(durationNS)
	return res, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/xferharness/internal/harness"
)

// RecordRun inserts a finished run and all of its scenario results in one
// transaction.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency: recording the same run ID
// twice keeps the first record and reports inserted=false.
func (s *Store) RecordRun(ctx context.Context, report *harness.Report) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, address, size, passed, failed, skipped, total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		report.RunID,
		formatTime(report.StartedAt),
		report.Address,
		report.Size,
		report.Passed,
		report.Failed,
		report.Skipped,
		report.Total,
	)
	if err != nil {
		return false, fmt.Errorf("record run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record run: rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	for i, res := range report.Scenarios {
		errorsJSON, err := marshalErrors(res.Errors)
		if err != nil {
			return false, fmt.Errorf("record run: scenario %q: %w", res.Name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scenario_results
			(run_id, seq, name, pass, fatal, skipped, errors, teardown_error, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID,
			i,
			res.Name,
			boolToInt(res.Pass),
			boolToInt(res.Fatal),
			boolToInt(res.Skipped),
			errorsJSON,
			res.TeardownError,
			int64(res.Duration),
		)
		if err != nil {
			return false, fmt.Errorf("record run: scenario %q: %w", res.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record run: commit: %w", err)
	}

	return true, nil
}

package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/xferharness/internal/harness"
)

// createTestStore creates a new store in a temporary directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, time.January, 2, 15, 4, 5, 123456789, time.UTC)

// createTestReport creates a two-scenario report: one pass, one failure with
// both a scenario error and a teardown error.
func createTestReport(id string, startedAt time.Time) *harness.Report {
	report := harness.NewReport(id, "localhost:50051", 100, startedAt)

	pass := harness.NewScenarioResult("invalid_request")
	pass.Duration = 150 * time.Millisecond
	report.Add(pass)

	fail := harness.NewScenarioResult("valid_request")
	fail.AddError("Assertion failed: file_equal\n  Expected: a <identical> to b\n  Actual: content differs")
	fail.SetTeardownError("teardown of grpc-server (pid 42) failed during terminate")
	fail.Fatal = true
	fail.Duration = 2 * time.Second
	report.Add(fail)

	return report
}

// harnessReport creates a report with no scenarios.
func harnessReport(id string) *harness.Report {
	return harness.NewReport(id, "localhost:50051", 0, testEpoch)
}

// verifyPragma checks that a pragma is set to the expected value.
func verifyPragma(s *Store, name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

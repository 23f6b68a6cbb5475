package harness

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// ReportSnapshot is the deterministic part of a Report: no timestamps, no
// durations, and sandbox paths replaced by a placeholder.
type ReportSnapshot struct {
	RunID     string             `json:"run_id"`
	Address   string             `json:"address"`
	Size      int64              `json:"size"`
	Scenarios []ScenarioSnapshot `json:"scenarios"`
	Passed    int                `json:"passed"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped,omitempty"`
	Total     int                `json:"total"`
}

// ScenarioSnapshot is the deterministic part of a ScenarioResult.
type ScenarioSnapshot struct {
	Name          string   `json:"name"`
	Pass          bool     `json:"pass"`
	Fatal         bool     `json:"fatal,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
	Errors        []string `json:"errors,omitempty"`
	TeardownError string   `json:"teardown_error,omitempty"`
}

// SandboxPlaceholder replaces the sandbox root in snapshot strings.
const SandboxPlaceholder = "$SANDBOX"

// Snapshot builds a ReportSnapshot, replacing root in every message.
func Snapshot(report *Report, root string) ReportSnapshot {
	scrub := func(s string) string {
		if root == "" {
			return s
		}
		return strings.ReplaceAll(s, root, SandboxPlaceholder)
	}

	snap := ReportSnapshot{
		RunID:     report.RunID,
		Address:   report.Address,
		Size:      report.Size,
		Scenarios: make([]ScenarioSnapshot, len(report.Scenarios)),
		Passed:    report.Passed,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		Total:     report.Total,
	}
	for i, res := range report.Scenarios {
		s := ScenarioSnapshot{
			Name:          res.Name,
			Pass:          res.Pass,
			Fatal:         res.Fatal,
			Skipped:       res.Skipped,
			TeardownError: scrub(res.TeardownError),
		}
		for _, e := range res.Errors {
			s.Errors = append(s.Errors, scrub(e))
		}
		snap.Scenarios[i] = s
	}
	return snap
}

// AssertGolden compares the snapshot of report against a golden file.
// The golden file is stored in testdata/golden/{name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, report *Report, root string) {
	t.Helper()

	data, err := json.MarshalIndent(Snapshot(report, root), "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal report snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

package harness

import "time"

// ScenarioResult is the outcome of a single scenario.
type ScenarioResult struct {
	Name string `json:"name"`

	// Pass is true only if the scenario body succeeded and teardown
	// succeeded.
	Pass bool `json:"pass"`

	// Errors contains the scenario's own failures (setup or run phase).
	Errors []string `json:"errors,omitempty"`

	// Fatal marks a failure that aborted the scenario body, such as a
	// broken fixture generator.
	Fatal bool `json:"fatal,omitempty"`

	// TeardownError is set when the server could not be stopped cleanly.
	// It is never folded into Errors.
	TeardownError string `json:"teardown_error,omitempty"`

	// Skipped marks a scenario that never started because the run was
	// interrupted. A skipped result neither passes nor fails.
	Skipped bool `json:"skipped,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// NewScenarioResult creates a passing result for the named scenario.
func NewScenarioResult(name string) ScenarioResult {
	return ScenarioResult{
		Name:   name,
		Pass:   true,
		Errors: []string{},
	}
}

// NewSkippedResult creates the result of a scenario the run never reached.
func NewSkippedResult(name string) ScenarioResult {
	return ScenarioResult{
		Name:    name,
		Errors:  []string{},
		Skipped: true,
	}
}

// AddError records a scenario failure and marks the result as failed.
func (r *ScenarioResult) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// SetTeardownError records a teardown failure and marks the result as failed.
func (r *ScenarioResult) SetTeardownError(err string) {
	r.TeardownError = err
	r.Pass = false
}

// Report aggregates every scenario of one harness run.
type Report struct {
	RunID     string           `json:"run_id"`
	Address   string           `json:"address"`
	Size      int64            `json:"size"`
	StartedAt time.Time        `json:"started_at"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Total     int              `json:"total"`
}

// NewReport creates an empty report.
func NewReport(runID, address string, size int64, startedAt time.Time) *Report {
	return &Report{
		RunID:     runID,
		Address:   address,
		Size:      size,
		StartedAt: startedAt,
		Scenarios: []ScenarioResult{},
	}
}

// Add appends a scenario result and updates the counters.
func (r *Report) Add(res ScenarioResult) {
	r.Scenarios = append(r.Scenarios, res)
	r.Total++
	switch {
	case res.Skipped:
		r.Skipped++
	case res.Pass:
		r.Passed++
	default:
		r.Failed++
	}
}

// OK reports whether every scenario ran and passed.
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Skipped == 0
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/xferharness/internal/config"
	"github.com/roach88/xferharness/internal/process"
	"github.com/roach88/xferharness/internal/sandbox"
)

// Harness sequences scenarios against a provisioned sandbox.
//
// Provisioning happens once, before the harness is created. Each scenario
// gets its own server process, which is always stopped before the next
// scenario starts.
type Harness struct {
	cfg     config.Config
	sandbox *sandbox.Sandbox
	logger  *slog.Logger
	out     io.Writer
	ids     RunIDGenerator
	now     func() time.Time
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the structured logger. Child process output is logged
// through it at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

// WithOutput sets where scenario labels and pass/fail lines are printed.
func WithOutput(w io.Writer) Option {
	return func(h *Harness) { h.out = w }
}

// WithRunIDs overrides the run ID generator.
func WithRunIDs(ids RunIDGenerator) Option {
	return func(h *Harness) { h.ids = ids }
}

// WithClock overrides the wall clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// New creates a harness for a provisioned sandbox.
func New(cfg config.Config, sb *sandbox.Sandbox, opts ...Option) *Harness {
	h := &Harness{
		cfg:     cfg,
		sandbox: sb,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:     io.Discard,
		ids:     UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes scenarios sequentially and returns the aggregate report.
// Scenario failures never stop the run; every scenario gets its turn.
func (h *Harness) Run(ctx context.Context, scenarios []Scenario) *Report {
	report := NewReport(h.ids.NewRunID(), h.cfg.Address(), h.cfg.Size, h.now())

	h.logger.Info("run started", "run_id", report.RunID, "scenarios", len(scenarios))
	for _, s := range scenarios {
		// Once interrupted, no further server is started.
		if ctx.Err() != nil {
			h.logger.Info("scenario skipped", "scenario", s.Name(), "reason", ctx.Err())
			res := NewSkippedResult(s.Name())
			h.printResult(res)
			report.Add(res)
			continue
		}
		report.Add(h.runScenario(ctx, s))
	}
	h.logger.Info("run finished", "run_id", report.RunID,
		"passed", report.Passed, "failed", report.Failed, "skipped", report.Skipped)

	return report
}

// runScenario drives SETUP, RUN and TEARDOWN for one scenario.
func (h *Harness) runScenario(ctx context.Context, s Scenario) (res ScenarioResult) {
	res = NewScenarioResult(s.Name())
	logger := h.logger.With("scenario", s.Name())

	fmt.Fprintf(h.out, "Testing %s...\n", s.Description())
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		h.printResult(res)
	}()

	// SETUP
	server, err := process.Start(h.sandbox.ServerPath, []string{h.cfg.Address()},
		process.WithDir(h.sandbox.ServerDir()),
		process.WithLogger(logger),
		process.WithRole(sandbox.RoleServer),
		process.WithStopTimeout(h.cfg.StopTimeout),
	)
	if err != nil {
		res.AddError(fmt.Sprintf("setup: %v", err))
		return res
	}

	// TEARDOWN runs on every exit path, including a fatal RUN.
	defer func() {
		if err := server.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Error("teardown failed", "error", err)
			res.SetTeardownError(err.Error())
		}
	}()

	if err := waitReady(ctx, h.cfg.Address(), h.cfg.StartupTimeout, server.Done()); err != nil {
		res.AddError(fmt.Sprintf("setup: %v", err))
		return res
	}

	// RUN
	env := &Env{
		Config:  h.cfg,
		Sandbox: h.sandbox,
		Server:  server,
		Logger:  logger,
	}
	if err := s.Run(ctx, env); err != nil {
		if errors.Is(err, ErrFatal) {
			res.Fatal = true
		}
		logger.Info("scenario failed", "error", err)
		res.AddError(err.Error())
	}

	return res
}

func (h *Harness) printResult(res ScenarioResult) {
	if res.Skipped {
		fmt.Fprintf(h.out, "- %s (skipped)\n", res.Name)
		return
	}
	if res.Pass {
		fmt.Fprintf(h.out, "✓ %s\n", res.Name)
		return
	}

	fmt.Fprintf(h.out, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(h.out, "  %s\n", indent(e))
	}
	if res.TeardownError != "" {
		fmt.Fprintf(h.out, "  teardown: %s\n", res.TeardownError)
	}
}

// indent keeps multi-line assertion messages aligned under their scenario.
func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xferharness/internal/config"
	"github.com/roach88/xferharness/internal/harness"
	"github.com/roach88/xferharness/internal/sandbox"
	"github.com/roach88/xferharness/internal/store"
)

// sizeUnset marks a fixture size that neither the config file nor the
// --size flag supplied.
const sizeUnset = -1

// RunOptions holds flags for running the harness.
type RunOptions struct {
	*RootOptions

	IP             string
	Port           int
	BinDir         string
	Size           string // base-10 integer, parsed by config.ParseSize
	ClientTimeout  time.Duration
	StopTimeout    time.Duration
	StartupTimeout time.Duration
	Database       string
	Root           string

	ConfigFile   string
	ScenarioFile string
	List         bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to harness.UUIDv7Generator.
	RunIDs harness.RunIDGenerator
}

func runHarness(opts *RunOptions, patterns []string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	w := cmd.OutOrStdout()
	formatter := &OutputFormatter{Format: opts.Format, Writer: w, Verbose: opts.Verbose}

	// fail reports a command error once, in the selected format.
	fail := func(errCode, message string, err error) error {
		exitErr := WrapExitError(ExitCommandError, message, err)
		if formatter.IsJSON() {
			_ = formatter.Error(errCode, message, err.Error())
			exitErr.Reported = true
		}
		return exitErr
	}

	scenarios, err := selectScenarios(opts.ScenarioFile, patterns)
	if err != nil {
		return fail(CodeScenarios, "invalid scenario selection", err)
	}

	if opts.List {
		return outputList(formatter, scenarios)
	}

	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return fail(CodeConfig, "invalid configuration", err)
	}

	// Open the ledger before provisioning so a bad path fails fast.
	var ledger *store.Store
	if cfg.Database != "" {
		logger.Info("opening run ledger", "path", cfg.Database)
		ledger, err = store.Open(cfg.Database)
		if err != nil {
			return fail(CodeLedger, "failed to open run ledger", err)
		}
		defer func() {
			if closeErr := ledger.Close(); closeErr != nil {
				logger.Error("error closing run ledger", "error", closeErr)
			}
		}()
	}

	root := cfg.Root
	if root == "" {
		root = sandbox.DefaultRoot()
	}
	if !formatter.IsJSON() {
		fmt.Fprintf(w, "Creating testing environment in %s\n", root)
	}
	sb, err := sandbox.Provision(cfg.BinDir, sandbox.WithRoot(root), sandbox.WithLogger(logger))
	if err != nil {
		return fail(CodeProvision, "failed to provision sandbox", err)
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	// Progress lines would corrupt the JSON document.
	progress := w
	if formatter.IsJSON() {
		progress = io.Discard
	}
	harnessOpts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithOutput(progress),
	}
	if opts.RunIDs != nil {
		harnessOpts = append(harnessOpts, harness.WithRunIDs(opts.RunIDs))
	}

	report := harness.New(cfg, sb, harnessOpts...).Run(ctx, scenarios)
	interrupted := ctx.Err() != nil

	var ledgerErr error
	if ledger != nil {
		// Record even an interrupted run.
		if _, err := ledger.RecordRun(context.WithoutCancel(ctx), report); err != nil {
			logger.Error("failed to record run", "run_id", report.RunID, "error", err)
			ledgerErr = WrapExitError(ExitCommandError, "failed to record run", err)
		} else {
			logger.Info("run recorded", "run_id", report.RunID, "path", cfg.Database)
		}
	}

	var outErr error
	if formatter.IsJSON() {
		outErr = outputRunJSON(formatter, report, interrupted)
	} else {
		outErr = outputRunText(w, report, interrupted)
	}

	if interrupted || ledgerErr == nil {
		return outErr
	}
	return ledgerErr
}

// selectScenarios returns the built-in scenarios plus those declared in
// scenarioFile, filtered by patterns.
func selectScenarios(scenarioFile string, patterns []string) ([]harness.Scenario, error) {
	scenarios := harness.DefaultScenarios()

	if scenarioFile != "" {
		extra, err := harness.LoadScenarios(scenarioFile)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(scenarios))
		for _, s := range scenarios {
			seen[s.Name()] = true
		}
		for _, s := range extra {
			if seen[s.Name()] {
				return nil, fmt.Errorf("scenario %q in %s conflicts with a built-in scenario", s.Name(), scenarioFile)
			}
		}
		scenarios = append(scenarios, extra...)
	}

	return harness.Select(scenarios, patterns)
}

// buildConfig layers defaults, the optional config file, and explicitly set
// flags, in that order, then validates the result.
func buildConfig(cmd *cobra.Command, opts *RunOptions) (config.Config, error) {
	base := config.Default()
	base.Size = sizeUnset

	cfg := base
	if opts.ConfigFile != "" {
		var err error
		cfg, err = config.LoadOnto(base, opts.ConfigFile)
		if err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("ip") {
		cfg.IP = opts.IP
	}
	if flags.Changed("port") {
		cfg.Port = opts.Port
	}
	if flags.Changed("bin") {
		cfg.BinDir = opts.BinDir
	}
	if flags.Changed("size") {
		size, err := config.ParseSize(opts.Size)
		if err != nil {
			return cfg, err
		}
		cfg.Size = size
	}
	if flags.Changed("client-timeout") {
		cfg.ClientTimeout = opts.ClientTimeout
	}
	if flags.Changed("stop-timeout") {
		cfg.StopTimeout = opts.StopTimeout
	}
	if flags.Changed("startup-timeout") {
		cfg.StartupTimeout = opts.StartupTimeout
	}
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("root") {
		cfg.Root = opts.Root
	}

	var missing []string
	if cfg.BinDir == "" {
		missing = append(missing, `"bin"`)
	}
	if cfg.Size == sizeUnset {
		missing = append(missing, `"size"`)
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("required flag(s) %s not set", strings.Join(missing, ", "))
	}

	return cfg, cfg.Validate()
}

// signalContext cancels on SIGINT or SIGTERM. Scenarios in flight still tear
// down their server before the run returns.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	// Use command's context if available (for testing), otherwise create one
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after teardown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// summary formats the run counters. Skipped scenarios only appear after an
// interrupt, so the count is left out otherwise.
func summary(passed, failed, skipped, total int) string {
	if skipped > 0 {
		return fmt.Sprintf("%d passed, %d failed, %d skipped, %d total", passed, failed, skipped, total)
	}
	return fmt.Sprintf("%d passed, %d failed, %d total", passed, failed, total)
}

func errRunFailed(report *harness.Report) *ExitError {
	return &ExitError{
		Code:     ExitFailure,
		Message:  fmt.Sprintf("%d scenario(s) failed", report.Failed),
		Reported: true,
	}
}

// outputRunText prints the summary after the per-scenario lines.
func outputRunText(w io.Writer, report *harness.Report, interrupted bool) error {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %s\n", summary(report.Passed, report.Failed, report.Skipped, report.Total))

	if interrupted {
		return NewExitError(ExitCommandError, "run interrupted")
	}
	if !report.OK() {
		// Test failures = exit code 1
		return errRunFailed(report)
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

// outputRunJSON outputs the report as a CLIResponse.
func outputRunJSON(formatter *OutputFormatter, report *harness.Report, interrupted bool) error {
	response := CLIResponse{
		Status: "ok",
		Data:   report,
		RunID:  report.RunID,
	}

	switch {
	case interrupted:
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeInterrupted,
			Message: "run interrupted",
			Details: map[string]int{"skipped": report.Skipped},
		}
	case !report.OK():
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", report.Failed),
		}
	}

	if err := formatter.Encode(response); err != nil {
		return err
	}

	switch {
	case interrupted:
		return &ExitError{Code: ExitCommandError, Message: "run interrupted", Reported: true}
	case !report.OK():
		return errRunFailed(report)
	}
	return nil
}

func outputList(formatter *OutputFormatter, scenarios []harness.Scenario) error {
	infos := describe(scenarios)
	if formatter.IsJSON() {
		return formatter.Success(infos)
	}

	for _, info := range infos {
		fmt.Fprintf(formatter.Writer, "%-20s %s\n", info.Name, info.Description)
	}
	return nil
}

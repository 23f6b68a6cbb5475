package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/xferharness/internal/harness"
	"github.com/roach88/xferharness/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string // show one run's scenario results
	Scenario string // show one scenario across runs
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs from the run ledger",
		Long: `Show runs recorded with --db.

Without --run or --scenario, lists the most recent runs, newest first.

Exit codes:
  0 - Success
  2 - Command error (database not found, unknown run, etc.)

Examples:
  xferharness history --db runs.db
  xferharness history --db runs.db --run 01940b6e-4f1d-7c7a-9d0e-2b1f0c3a5e6d
  xferharness history --db runs.db --scenario valid_request --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum entries to show (0 = all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the scenario results of one run")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "show one scenario across runs")
	_ = cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("run", "scenario")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	fail := func(message string, err error) error {
		exitErr := WrapExitError(ExitCommandError, message, err)
		if formatter.IsJSON() {
			_ = formatter.Error(CodeLedger, message, err.Error())
			exitErr.Reported = true
		}
		return exitErr
	}

	// Opening would create an empty ledger; a missing file is a typo.
	if _, err := os.Stat(opts.Database); err != nil {
		return fail("database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return fail("failed to open run ledger", err)
	}
	defer st.Close()

	ctx := cmd.Context()

	switch {
	case opts.RunID != "":
		run, err := st.Run(ctx, opts.RunID)
		if err != nil {
			return fail("failed to read run", err)
		}
		results, err := st.ScenarioResults(ctx, opts.RunID)
		if err != nil {
			return fail("failed to read run", err)
		}
		if formatter.IsJSON() {
			return formatter.Success(runDetail{Run: run, Scenarios: results})
		}
		printRunDetail(formatter.Writer, run, results)
		return nil

	case opts.Scenario != "":
		entries, err := st.ScenarioHistory(ctx, opts.Scenario, opts.Limit)
		if err != nil {
			return fail("failed to read scenario history", err)
		}
		if formatter.IsJSON() {
			return formatter.Success(entries)
		}
		printScenarioHistory(formatter.Writer, opts.Scenario, entries)
		return nil

	default:
		runs, err := st.Runs(ctx, opts.Limit)
		if err != nil {
			return fail("failed to read runs", err)
		}
		if formatter.IsJSON() {
			return formatter.Success(runs)
		}
		printRuns(formatter.Writer, runs)
		return nil
	}
}

type runDetail struct {
	Run       store.RunRecord          `json:"run"`
	Scenarios []harness.ScenarioResult `json:"scenarios"`
}

var printer = message.NewPrinter(language.English)

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func printRuns(w io.Writer, runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		printer.Fprintf(w, "%s %s  %s  %s  %d bytes  %s\n",
			mark(r.OK()), r.ID, r.StartedAt.Format(time.RFC3339), r.Address, r.Size,
			summary(r.Passed, r.Failed, r.Skipped, r.Total))
	}
}

func printRunDetail(w io.Writer, run store.RunRecord, results []harness.ScenarioResult) {
	printer.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  started: %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  address: %s\n", run.Address)
	printer.Fprintf(w, "  size:    %d bytes\n", run.Size)
	fmt.Fprintln(w)

	for _, res := range results {
		if res.Skipped {
			fmt.Fprintf(w, "- %s (skipped)\n", res.Name)
			continue
		}
		fmt.Fprintf(w, "%s %s (%s)\n", mark(res.Pass), res.Name, res.Duration.Round(time.Millisecond))
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %s\n", indentLines(e))
		}
		if res.TeardownError != "" {
			fmt.Fprintf(w, "  teardown: %s\n", res.TeardownError)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %s\n", summary(run.Passed, run.Failed, run.Skipped, run.Total))
}

func printScenarioHistory(w io.Writer, name string, entries []store.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No results recorded for %s.\n", name)
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s %s  %s", mark(e.Result.Pass), e.RunID, e.StartedAt.Format(time.RFC3339))
		if e.Result.Skipped {
			line += "  skipped"
		}
		if e.Result.Fatal {
			line += "  fatal"
		}
		if e.Result.TeardownError != "" {
			line += "  teardown failed"
		}
		fmt.Fprintln(w, line)
	}
}

func indentLines(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/xferharness/internal/config"
	"github.com/roach88/xferharness/internal/harness"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Running it without a subcommand
// provisions the sandbox and runs the selected scenarios.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RunOptions{RootOptions: &RootOptions{}})
}

func newRootCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xferharness [scenario-pattern...]",
		Short: "Integration harness for a file-transfer client/server pair",
		Long: `Run end-to-end scenarios against a file-transfer server and client.

The server and client executables are copied from the build-artifacts
directory into a fresh sandbox. For every scenario a server is started,
the client is invoked against it, and the client's directory is checked
for the expected file. The server is always stopped before the next
scenario starts.

Positional arguments are glob patterns selecting scenarios by name.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid flags, provisioning failure, etc.)

Examples:
  xferharness -b ./build -s 31457280
  xferharness -b ./build -s 1024 --ip 127.0.0.1 -p 6000 valid_*
  xferharness --config harness.yaml --db runs.db --format json
  xferharness --scenarios extra.yaml --list`,
		// Positional args are scenario patterns, not subcommand names.
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarness(opts, args, cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs, child process output)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Run flags
	flags := cmd.Flags()
	flags.StringVar(&opts.IP, "ip", config.DefaultIP, "address the server binds and the client connects to")
	flags.IntVarP(&opts.Port, "port", "p", config.DefaultPort, "server port")
	flags.StringVarP(&opts.BinDir, "bin", "b", "", "build-artifacts directory holding grpc-server and grpc-client (required)")
	flags.StringVarP(&opts.Size, "size", "s", "", "fixture size in bytes for the valid request (required)")
	flags.StringVar(&opts.ConfigFile, "config", "", "YAML file supplying defaults for any flag")
	flags.StringVar(&opts.ScenarioFile, "scenarios", "", "YAML file declaring extra request scenarios")
	flags.DurationVar(&opts.ClientTimeout, "client-timeout", config.DefaultClientTimeout, "bound on each client invocation (0 = none)")
	flags.DurationVar(&opts.StopTimeout, "stop-timeout", config.DefaultStopTimeout, "wait after SIGTERM before the server is killed (0 = forever)")
	flags.DurationVar(&opts.StartupTimeout, "startup-timeout", config.DefaultStartupTimeout, "wait for the server to accept connections (0 = no probe)")
	flags.StringVar(&opts.Database, "db", "", "SQLite run ledger to record results in")
	flags.StringVar(&opts.Root, "root", "", "sandbox root (default <tmp>/test-grpc)")
	flags.BoolVar(&opts.List, "list", false, "list the selected scenarios and exit")

	cmd.AddCommand(NewHistoryCommand(opts.RootOptions))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger builds the command's structured logger. Debug level exposes
// the line-by-line output of the server and client.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// scenarioInfo is the listing entry for one scenario.
type scenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func describe(scenarios []harness.Scenario) []scenarioInfo {
	out := make([]scenarioInfo, len(scenarios))
	for i, s := range scenarios {
		out[i] = scenarioInfo{Name: s.Name(), Description: s.Description()}
	}
	return out
}

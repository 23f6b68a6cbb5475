package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xferharness/internal/config"
	"github.com/roach88/xferharness/internal/store"
	"github.com/roach88/xferharness/internal/testutil"
)

// cliRun executes the root command with args and returns stdout, stderr and
// the command error.
func cliRun(t *testing.T, runIDs []string, args ...string) (string, string, error) {
	t.Helper()
	return cliRunContext(t, context.Background(), runIDs, args...)
}

func cliRunContext(t *testing.T, ctx context.Context, runIDs []string, args ...string) (string, string, error) {
	t.Helper()

	opts := &RunOptions{RootOptions: &RootOptions{}}
	if len(runIDs) > 0 {
		opts.RunIDs = testutil.NewFixedRunIDs(runIDs...)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// harnessArgs returns the flags for a run against fake binaries. The fake
// server never listens, so the readiness probe is disabled.
func harnessArgs(t *testing.T, mode testutil.ClientMode) (root string, args []string) {
	t.Helper()
	binDir := testutil.FakeBinaries(t, testutil.FakeOptions{Client: mode})
	root = filepath.Join(t.TempDir(), "sandbox")
	return root, []string{
		"-b", binDir,
		"-s", "100",
		"--root", root,
		"--startup-timeout", "0",
	}
}

func assertGoldenText(t *testing.T, name, output, root string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	if root != "" {
		output = strings.ReplaceAll(output, root, "$SANDBOX")
	}
	g.Assert(t, name, []byte(output))
}

func TestRunPassingText(t *testing.T) {
	root, args := harnessArgs(t, testutil.ClientCopies)

	stdout, _, err := cliRun(t, []string{"run-1"}, args...)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))

	assertGoldenText(t, "run_passing", stdout, root)
}

func TestRunCorruptedText(t *testing.T) {
	root, args := harnessArgs(t, testutil.ClientCorrupts)

	stdout, _, err := cliRun(t, []string{"run-1"}, args...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err), "summary already reports the failure")

	assertGoldenText(t, "run_corrupted", stdout, root)
}

func TestRunJSON(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientCopies)

	stdout, _, err := cliRun(t, []string{"run-json"}, append(args, "--format", "json")...)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		RunID  string `json:"run_id"`
		Data   struct {
			RunID     string `json:"run_id"`
			Address   string `json:"address"`
			Size      int64  `json:"size"`
			Passed    int    `json:"passed"`
			Total     int    `json:"total"`
			Scenarios []struct {
				Name string `json:"name"`
				Pass bool   `json:"pass"`
			} `json:"scenarios"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "stdout must be a single JSON document: %s", stdout)

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-json", resp.RunID)
	assert.Equal(t, "run-json", resp.Data.RunID)
	assert.Equal(t, "localhost:50051", resp.Data.Address)
	assert.Equal(t, int64(100), resp.Data.Size)
	assert.Equal(t, 2, resp.Data.Passed)
	assert.Equal(t, 2, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "invalid_request", resp.Data.Scenarios[0].Name)
}

func TestRunJSONFailure(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientLeaksInvalid)

	stdout, _, err := cliRun(t, []string{"run-json"}, append(args, "--format", "json")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	assert.Equal(t, "1 scenario(s) failed", resp.Error.Message)
}

func TestRunMissingRequiredFlags(t *testing.T) {
	_, _, err := cliRun(t, nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `required flag(s) "bin", "size" not set`)
}

func TestRunInvalidSize(t *testing.T) {
	_, _, err := cliRun(t, nil, "-b", t.TempDir(), "-s", "30MB")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid size")
}

func TestRunInvalidPort(t *testing.T) {
	_, _, err := cliRun(t, nil, "-b", t.TempDir(), "-s", "1", "-p", "70000")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunInvalidFormat(t *testing.T) {
	_, _, err := cliRun(t, nil, "--format", "xml", "--list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRunProvisionFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sandbox")

	stdout, _, err := cliRun(t, nil, "-b", t.TempDir(), "-s", "1", "--root", root)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to provision sandbox")
	assert.Contains(t, stdout, "Creating testing environment in "+root)
	assert.NotContains(t, stdout, "Testing ")
}

func TestRunProvisionFailureJSON(t *testing.T) {
	stdout, _, err := cliRun(t, nil, "-b", t.TempDir(), "-s", "1",
		"--root", filepath.Join(t.TempDir(), "sandbox"), "--format", "json")
	require.Error(t, err)
	assert.True(t, IsReported(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeProvision, resp.Error.Code)
}

func TestRunSelectionPattern(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientCopies)

	stdout, _, err := cliRun(t, []string{"run-1"}, append(args, "valid_*")...)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "invalid request")
	assert.Contains(t, stdout, "✓ valid_request")
	assert.Contains(t, stdout, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestRunUnmatchedPattern(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientCopies)

	stdout, _, err := cliRun(t, nil, append(args, "upload_*")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `no scenario matches "upload_*"`)
	assert.Empty(t, stdout, "nothing is provisioned for a bad selection")
}

func TestRunList(t *testing.T) {
	stdout, _, err := cliRun(t, nil, "--list")
	require.NoError(t, err)
	assertGoldenText(t, "list", stdout, "")
}

func TestRunListJSON(t *testing.T) {
	stdout, _, err := cliRun(t, nil, "--list", "--format", "json", "invalid_*")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []scenarioInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []scenarioInfo{{Name: "invalid_request", Description: "invalid request"}}, resp.Data)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunScenarioFile(t *testing.T) {
	root, args := harnessArgs(t, testutil.ClientCopies)
	scenarios := writeFile(t, "scenarios.yaml", `
scenarios:
  - name: empty_file
    description: empty file transfer
    kind: valid_request
    file: empty.bin
    size: 0
  - name: other_missing
    kind: invalid_request
    file: nothing-here
`)

	stdout, _, err := cliRun(t, []string{"run-1"}, append(args, "--scenarios", scenarios)...)
	require.NoError(t, err, stdout)

	assert.Contains(t, stdout, "Testing empty file transfer...\n✓ empty_file")
	assert.Contains(t, stdout, "Testing other_missing...\n✓ other_missing")
	assert.Contains(t, stdout, "Test Summary: 4 passed, 0 failed, 4 total")
	assert.NoFileExists(t, filepath.Join(root, "client", "empty.bin"))
}

func TestRunScenarioFileConflict(t *testing.T) {
	scenarios := writeFile(t, "scenarios.yaml", `
scenarios:
  - name: valid_request
    kind: valid_request
`)

	_, _, err := cliRun(t, nil, "--list", "--scenarios", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "conflicts with a built-in scenario")
}

func TestRunConfigFile(t *testing.T) {
	binDir := testutil.FakeBinaries(t, testutil.FakeOptions{})
	root := filepath.Join(t.TempDir(), "sandbox")
	cfgPath := writeFile(t, "harness.yaml", "bin: "+binDir+"\nsize: 64\nroot: "+root+"\nstartup_timeout: 0s\n")

	stdout, _, err := cliRun(t, []string{"run-1"}, "--config", cfgPath)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "Creating testing environment in "+root)
	assert.Contains(t, stdout, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestRunRecordsToLedger(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientCorrupts)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	_, _, err := cliRun(t, []string{"run-ledger"}, append(args, "--db", dbPath)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.Run(context.Background(), "run-ledger")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Passed)
	assert.Equal(t, 1, run.Failed)

	results, err := st.ScenarioResults(context.Background(), "run-ledger")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "valid_request", results[1].Name)
	assert.False(t, results[1].Pass)
	require.Len(t, results[1].Errors, 1)
	assert.Contains(t, results[1].Errors[0], "file_equal")
}

func TestRunLedgerOpenFailure(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientCopies)
	dbPath := filepath.Join(t.TempDir(), "missing", "runs.db")

	stdout, _, err := cliRun(t, nil, append(args, "--db", dbPath)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open run ledger")
	assert.Empty(t, stdout, "the ledger is checked before provisioning")
}

func TestBuildConfigPrecedence(t *testing.T) {
	cfgPath := writeFile(t, "harness.yaml", `
ip: 10.0.0.1
port: 6000
bin: /from/file
size: 5
stop_timeout: 1s
`)

	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", cfgPath,
		"-s", "100",
		"-p", "7000",
		"--client-timeout", "30s",
	}))

	cfg, err := buildConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.IP, "file beats default")
	assert.Equal(t, 7000, cfg.Port, "flag beats file")
	assert.Equal(t, "/from/file", cfg.BinDir)
	assert.Equal(t, int64(100), cfg.Size, "flag beats file")
	assert.Equal(t, time.Second, cfg.StopTimeout)
	assert.Equal(t, 30*time.Second, cfg.ClientTimeout)
	assert.Equal(t, config.DefaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, "10.0.0.1:7000", cfg.Address())
}

func TestBuildConfigZeroSize(t *testing.T) {
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"-b", "/bin", "-s", "0"}))

	cfg, err := buildConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.Size)
}

func TestRunInterruptedJSON(t *testing.T) {
	root, args := harnessArgs(t, testutil.ClientCopies)
	db := filepath.Join(t.TempDir(), "runs.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, _, err := cliRunContext(t, ctx, []string{"run-int"}, append(args, "--format", "json", "--db", db)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, IsReported(err))

	var resp struct {
		Status string   `json:"status"`
		Error  CLIError `json:"error"`
		Data   struct {
			Skipped int `json:"skipped"`
			Total   int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeInterrupted, resp.Error.Code)
	assert.Equal(t, "run interrupted", resp.Error.Message)
	assert.Equal(t, 2, resp.Data.Skipped)
	assert.Equal(t, 2, resp.Data.Total)

	// No server was started for the skipped scenarios.
	assert.NoFileExists(t, filepath.Join(root, "server", "server.pid"))

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	run, err := st.Run(context.Background(), "run-int")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Skipped)
	assert.False(t, run.OK())
}

func TestRunInterruptedText(t *testing.T) {
	_, args := harnessArgs(t, testutil.ClientCopies)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, _, err := cliRunContext(t, ctx, []string{"run-int"}, args...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.False(t, IsReported(err), "the caller prints the interruption")
	assert.EqualError(t, err, "run interrupted")

	assert.Contains(t, stdout, "- invalid_request (skipped)\n- valid_request (skipped)\n")
	assert.Contains(t, stdout, "Test Summary: 0 passed, 0 failed, 2 skipped, 2 total\n")
	assert.NotContains(t, stdout, "All scenarios passed")
}

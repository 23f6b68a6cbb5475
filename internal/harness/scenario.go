package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/roach88/xferharness/internal/config"
	"github.com/roach88/xferharness/internal/fixture"
	"github.com/roach88/xferharness/internal/process"
	"github.com/roach88/xferharness/internal/sandbox"
)

// Scenario is one setup, run, teardown cycle exercising a single behavior
// of the client/server pair.
type Scenario interface {
	// Name uniquely identifies the scenario and is used for selection.
	Name() string

	// Description is the human-readable label printed before the run.
	Description() string

	// Run executes the client invocation and assertions. The server is
	// already running when Run is called.
	Run(ctx context.Context, env *Env) error
}

// Env is what a scenario body sees. Config is shared and read-only.
type Env struct {
	Config  config.Config
	Sandbox *sandbox.Sandbox
	Server  *process.Managed
	Logger  *slog.Logger
}

// RunClient invokes the client as "grpc-client <ip>:<port> <target>" from
// the client directory and waits for it to exit. The configured client
// timeout bounds the wait.
func (e *Env) RunClient(ctx context.Context, target string) (*process.Exit, error) {
	if e.Config.ClientTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.ClientTimeout)
		defer cancel()
	}

	return process.Run(ctx, e.Sandbox.ClientPath, []string{e.Config.Address(), target},
		process.WithDir(e.Sandbox.ClientDir()),
		process.WithLogger(e.Logger),
		process.WithRole(sandbox.RoleClient),
	)
}

// Scenario kinds accepted in scenario files.
const (
	KindInvalidRequest = "invalid_request"
	KindValidRequest   = "valid_request"
)

// Defaults used by the built-in scenarios.
const (
	DefaultInvalidFilename = "7xEvjAeobu"
	DefaultFixtureName     = "data"
)

var printer = message.NewPrinter(language.English)

// formatBytes renders n with thousands separators, e.g. "31,457,280 bytes".
func formatBytes(n int64) string {
	return printer.Sprintf("%d bytes", n)
}

// InvalidRequest asks for a file the server does not own and asserts that
// nothing of that name appears in the client directory.
type InvalidRequest struct {
	ScenarioName string
	Label        string

	// Filename is resolved against the client directory and sent as an
	// absolute path.
	Filename string
}

func (s InvalidRequest) Name() string {
	if s.ScenarioName != "" {
		return s.ScenarioName
	}
	return KindInvalidRequest
}

func (s InvalidRequest) Description() string {
	if s.Label != "" {
		return s.Label
	}
	return "invalid request"
}

func (s InvalidRequest) Run(ctx context.Context, env *Env) error {
	name := s.Filename
	if name == "" {
		name = DefaultInvalidFilename
	}
	target := filepath.Join(env.Sandbox.ClientDir(), name)

	exit, err := env.RunClient(ctx, target)
	if err != nil {
		return fmt.Errorf("client invocation: %w", err)
	}
	env.Logger.Info("client finished", "target", target, "exit_code", exit.Code)

	return assertFileAbsent(target)
}

// ValidRequest generates a fixture next to the server, asks the client for
// it by base name and asserts it arrives byte-identical.
type ValidRequest struct {
	ScenarioName string
	Label        string

	// Filename is the fixture's base name.
	Filename string

	// Size overrides Config.Size when non-nil.
	Size *int64

	// BlockSize overrides the generator and comparator block size.
	BlockSize int
}

func (s ValidRequest) Name() string {
	if s.ScenarioName != "" {
		return s.ScenarioName
	}
	return KindValidRequest
}

func (s ValidRequest) Description() string {
	if s.Label != "" {
		return s.Label
	}
	return "valid request"
}

func (s ValidRequest) Run(ctx context.Context, env *Env) error {
	name := s.Filename
	if name == "" {
		name = DefaultFixtureName
	}
	size := env.Config.Size
	if s.Size != nil {
		size = *s.Size
	}

	if isSandboxBinary(name) {
		return fmt.Errorf("%w: fixture name %q would replace a sandbox executable", ErrFatal, name)
	}

	src := filepath.Join(env.Sandbox.ServerDir(), name)
	dst := filepath.Join(env.Sandbox.ClientDir(), name)

	// The sandbox is fresh, but a previous scenario in this run may have
	// left the same fixture name behind on a failure path.
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove stale fixture: %v", ErrFatal, err)
	}

	env.Logger.Info("generating fixture", "path", src, "size", formatBytes(size))
	fx, err := fixture.Generator{BlockSize: s.BlockSize, Truncate: true}.Generate(src, size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}

	exit, err := env.RunClient(ctx, name)
	if err != nil {
		return fmt.Errorf("client invocation: %w", err)
	}
	env.Logger.Info("client finished", "target", name, "exit_code", exit.Code)

	if err := assertFilePresent(dst); err != nil {
		return err
	}
	if err := assertFileEqual(dst, src, size, s.BlockSize); err != nil {
		return err
	}

	if err := os.Remove(dst); err != nil {
		return fmt.Errorf("remove received file: %w", err)
	}
	return fx.Remove()
}

// DefaultScenarios returns the built-in scenarios in execution order.
func DefaultScenarios() []Scenario {
	return []Scenario{
		InvalidRequest{},
		ValidRequest{},
	}
}

// Select keeps the scenarios whose name matches at least one glob pattern,
// preserving their order. No patterns selects everything. A pattern that
// matches nothing is an error so typos do not silently skip scenarios.
func Select(scenarios []Scenario, patterns []string) ([]Scenario, error) {
	if len(patterns) == 0 {
		return scenarios, nil
	}

	matched := make([]bool, len(patterns))
	var selected []Scenario

	for _, s := range scenarios {
		keep := false
		for i, pattern := range patterns {
			ok, err := filepath.Match(pattern, s.Name())
			if err != nil {
				return nil, fmt.Errorf("invalid scenario pattern %q: %w", pattern, err)
			}
			if ok {
				matched[i] = true
				keep = true
			}
		}
		if keep {
			selected = append(selected, s)
		}
	}

	for i, pattern := range patterns {
		if !matched[i] {
			return nil, fmt.Errorf("no scenario matches %q", pattern)
		}
	}

	return selected, nil
}

// ScenarioFile is the YAML document holding extra request scenarios.
type ScenarioFile struct {
	Scenarios []ScenarioSpec `yaml:"scenarios"`
}

// ScenarioSpec declares one request scenario.
type ScenarioSpec struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description is the printed label. Defaults to the name.
	Description string `yaml:"description,omitempty"`

	// Kind is invalid_request or valid_request.
	Kind string `yaml:"kind"`

	// File is the requested file name. Defaults per kind.
	File string `yaml:"file,omitempty"`

	// Size is the fixture size for valid_request. Defaults to the
	// configured size.
	Size *int64 `yaml:"size,omitempty"`
}

// LoadScenarios reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or declares an invalid scenario.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var file ScenarioFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("invalid scenario file: scenarios list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	scenarios := make([]Scenario, 0, len(file.Scenarios))
	for i, spec := range file.Scenarios {
		if err := validateScenarioSpec(i, spec); err != nil {
			return nil, fmt.Errorf("invalid scenario file: %w", err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("invalid scenario file: scenarios[%d]: duplicate name %q", i, spec.Name)
		}
		seen[spec.Name] = true
		scenarios = append(scenarios, spec.Scenario())
	}

	return scenarios, nil
}

// Scenario converts the declaration into a runnable scenario.
func (s ScenarioSpec) Scenario() Scenario {
	label := s.Description
	if label == "" {
		label = s.Name
	}

	if s.Kind == KindInvalidRequest {
		return InvalidRequest{ScenarioName: s.Name, Label: label, Filename: s.File}
	}
	return ValidRequest{ScenarioName: s.Name, Label: label, Filename: s.File, Size: s.Size}
}

// isSandboxBinary reports whether name is one of the installed
// executables. A fixture or received file of that name would overwrite one.
func isSandboxBinary(name string) bool {
	return name == sandbox.ServerBinary || name == sandbox.ClientBinary
}

// validateScenarioSpec checks that required fields are present and valid.
func validateScenarioSpec(index int, s ScenarioSpec) error {
	if s.Name == "" {
		return fmt.Errorf("scenarios[%d]: name is required", index)
	}

	switch s.Kind {
	case KindInvalidRequest:
		if s.Size != nil {
			return fmt.Errorf("scenarios[%d]: size is not allowed for %s", index, s.Kind)
		}
	case KindValidRequest:
		if s.Size != nil && *s.Size < 0 {
			return fmt.Errorf("scenarios[%d]: size must be non-negative", index)
		}
	case "":
		return fmt.Errorf("scenarios[%d]: kind is required", index)
	default:
		return fmt.Errorf("scenarios[%d]: unknown kind %q", index, s.Kind)
	}

	if strings.ContainsRune(s.File, filepath.Separator) || s.File == "." || s.File == ".." {
		return fmt.Errorf("scenarios[%d]: file must be a base name, got %q", index, s.File)
	}
	if isSandboxBinary(s.File) {
		return fmt.Errorf("scenarios[%d]: file %q names a sandbox executable", index, s.File)
	}

	return nil
}

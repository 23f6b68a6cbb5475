// Package config holds the harness configuration record.
//
// A Config is built once by the CLI from defaults, an optional YAML file and
// command-line flags, validated against an embedded CUE schema, and then
// passed by value to every scenario. Nothing mutates it after validation.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Defaults for the command-line surface.
const (
	DefaultIP             = "localhost"
	DefaultPort           = 50051
	DefaultClientTimeout  = 10 * time.Minute
	DefaultStopTimeout    = 30 * time.Second
	DefaultStartupTimeout = 10 * time.Second
)

// Config is the immutable configuration shared by all scenarios.
type Config struct {
	// IP is the address the server binds and the client connects to.
	IP string `yaml:"ip"`

	// Port is the server port.
	Port int `yaml:"port"`

	// BinDir is the build-artifacts directory holding grpc-server and
	// grpc-client.
	BinDir string `yaml:"bin"`

	// Size is the exact fixture size in bytes for the valid-request scenario.
	Size int64 `yaml:"size"`

	// ClientTimeout bounds each client invocation. Zero means no limit.
	ClientTimeout time.Duration `yaml:"client_timeout"`

	// StopTimeout bounds the wait after SIGTERM before the server is killed.
	// Zero means wait forever.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// StartupTimeout bounds the wait for the server to accept connections.
	// Zero disables the readiness probe.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// Database is an optional SQLite path for the run ledger.
	Database string `yaml:"db"`

	// Root overrides the sandbox root. Empty means the well-known root.
	Root string `yaml:"root"`
}

// Default returns the configuration used when no file or flag overrides it.
// BinDir and Size have no defaults and must be supplied.
func Default() Config {
	return Config{
		IP:             DefaultIP,
		Port:           DefaultPort,
		ClientTimeout:  DefaultClientTimeout,
		StopTimeout:    DefaultStopTimeout,
		StartupTimeout: DefaultStartupTimeout,
	}
}

// Address returns host:port for both the server and the client.
func (c Config) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Load reads a YAML configuration file on top of Default.
// Unknown fields are rejected so typos do not pass silently.
func Load(path string) (Config, error) {
	return LoadOnto(Default(), path)
}

// LoadOnto reads a YAML configuration file on top of base. Fields absent
// from the file keep their base value.
func LoadOnto(base Config, path string) (Config, error) {
	cfg := base

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ParseSize parses a fixture size given as a base-10 integer string.
func ParseSize(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: must be a base-10 integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}
	return n, nil
}

// ValidationError lists every schema violation found in a Config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Issues, "; ")
}

// Validate checks the record against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(c.fields())
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		issues := []string{}
		for _, e := range cueerrors.Errors(err) {
			issues = append(issues, e.Error())
		}
		return &ValidationError{Issues: issues}
	}
	return nil
}

// fields maps the record onto the schema's field names. Durations are
// expressed in nanoseconds.
func (c Config) fields() map[string]any {
	return map[string]any{
		"ip":              c.IP,
		"port":            c.Port,
		"bin":             c.BinDir,
		"size":            c.Size,
		"client_timeout":  int64(c.ClientTimeout),
		"stop_timeout":    int64(c.StopTimeout),
		"startup_timeout": int64(c.StartupTimeout),
		"db":              c.Database,
		"root":            c.Root,
	}
}

// Package sandbox provisions the isolated directory tree that holds copies of
// the executables under test.
//
// Layout:
//
//	<tmp>/test-grpc/
//	    server/grpc-server   fixture files are written here
//	    client/grpc-client   retrieved files appear here
//
// The root has a fixed name so runs are discoverable, and it is wiped at the
// start of every run so artifacts from a crashed run never leak into the next.
package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// RootName is the fixed directory name of the sandbox under the system
// temporary directory.
const RootName = "test-grpc"

// Roles and the executables that belong to them.
const (
	RoleServer = "server"
	RoleClient = "client"

	ServerBinary = "grpc-" + RoleServer
	ClientBinary = "grpc-" + RoleClient
)

// ProvisionError reports a failure while building the sandbox. There is no
// partial-sandbox mode: any ProvisionError aborts the run.
type ProvisionError struct {
	Role string // empty for root-level failures
	Op   string
	Path string
	Err  error
}

func (e *ProvisionError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("provision %s: %s %s: %v", e.Role, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("provision: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Sandbox is the provisioned test root. It is not mutated after Provision
// returns and is left on disk for the next run to reset.
type Sandbox struct {
	Root       string
	ServerPath string
	ClientPath string
}

// ServerDir returns the server's working directory.
func (s *Sandbox) ServerDir() string {
	return filepath.Dir(s.ServerPath)
}

// ClientDir returns the client's working directory.
func (s *Sandbox) ClientDir() string {
	return filepath.Dir(s.ClientPath)
}

type options struct {
	root   string
	logger *slog.Logger
}

// Option configures Provision.
type Option func(*options)

// WithRoot overrides the well-known sandbox root.
func WithRoot(root string) Option {
	return func(o *options) { o.root = root }
}

// WithLogger sets the logger used to report provisioning steps.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// DefaultRoot returns the well-known sandbox root.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), RootName)
}

// Provision wipes any previous sandbox and copies the server and client
// executables from binDir into fresh role directories.
func Provision(binDir string, opts ...Option) (*Sandbox, error) {
	o := &options{
		root:   DefaultRoot(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}

	// Check inputs before touching the previous sandbox.
	for _, name := range []string{ServerBinary, ClientBinary} {
		src := filepath.Join(binDir, name)
		info, err := os.Stat(src)
		if err != nil {
			return nil, &ProvisionError{Role: roleOf(name), Op: "stat", Path: src, Err: err}
		}
		if !info.Mode().IsRegular() {
			return nil, &ProvisionError{Role: roleOf(name), Op: "stat", Path: src, Err: fmt.Errorf("not a regular file")}
		}
	}

	if _, err := os.Stat(o.root); err == nil {
		o.logger.Info("removing previous sandbox", "root", o.root)
		if err := os.RemoveAll(o.root); err != nil {
			return nil, &ProvisionError{Op: "remove", Path: o.root, Err: err}
		}
	}

	if err := os.MkdirAll(o.root, 0755); err != nil {
		return nil, &ProvisionError{Op: "mkdir", Path: o.root, Err: err}
	}

	serverPath, err := installApp(o.root, binDir, RoleServer)
	if err != nil {
		return nil, err
	}
	clientPath, err := installApp(o.root, binDir, RoleClient)
	if err != nil {
		return nil, err
	}

	o.logger.Info("sandbox ready", "root", o.root, "server", serverPath, "client", clientPath)

	return &Sandbox{
		Root:       o.root,
		ServerPath: serverPath,
		ClientPath: clientPath,
	}, nil
}

// installApp creates <root>/<role>/ and copies grpc-<role> into it.
func installApp(root, binDir, role string) (string, error) {
	appRoot := filepath.Join(root, role)
	if err := os.Mkdir(appRoot, 0755); err != nil {
		return "", &ProvisionError{Role: role, Op: "mkdir", Path: appRoot, Err: err}
	}

	name := "grpc-" + role
	src := filepath.Join(binDir, name)
	dst := filepath.Join(appRoot, name)
	if err := copyExecutable(src, dst); err != nil {
		return "", &ProvisionError{Role: role, Op: "copy", Path: src, Err: err}
	}
	return dst, nil
}

// copyExecutable copies src to dst preserving its permission bits.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// OpenFile's mode is filtered by the umask.
	return os.Chmod(dst, info.Mode().Perm())
}

func roleOf(binary string) string {
	if binary == ServerBinary {
		return RoleServer
	}
	return RoleClient
}

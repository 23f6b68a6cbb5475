// Package process manages the lifecycle of external executables under test.
//
// A server is started with Start and must always be released with Stop,
// normally via defer, so that no process outlives the scenario that started
// it. A client is run to completion with Run.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// TeardownError reports a failure to terminate or reap a managed process.
// It is kept distinct from scenario assertion failures.
type TeardownError struct {
	Path   string
	Pid    int
	Op     string // "signal" | "terminate" | "kill" | "wait"
	Err    error
	Killed bool // escalated to SIGKILL after the stop timeout
}

func (e *TeardownError) Error() string {
	msg := fmt.Sprintf("teardown of %s (pid %d) failed during %s", filepath.Base(e.Path), e.Pid, e.Op)
	if e.Killed {
		msg += " (killed after stop timeout)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// Exit is the result of a process run to completion.
type Exit struct {
	Code     int
	Duration time.Duration
}

type options struct {
	dir         string
	logger      *slog.Logger
	role        string
	stopTimeout time.Duration
}

// Option configures Start and Run.
type Option func(*options)

// WithDir sets the working directory. The default is the directory that
// contains the executable.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithLogger forwards the child's stdout and stderr, line by line, to logger
// at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRole labels log lines from the child (e.g. "server", "client").
func WithRole(role string) Option {
	return func(o *options) { o.role = role }
}

// WithStopTimeout bounds how long Stop waits after SIGTERM before it sends
// SIGKILL. Zero waits forever.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

func buildOptions(executable string, opts []Option) *options {
	o := &options{
		dir:    filepath.Dir(executable),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		role:   filepath.Base(executable),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Managed is a running external process owned by the harness.
type Managed struct {
	path        string
	args        []string
	cmd         *exec.Cmd
	logger      *slog.Logger
	stopTimeout time.Duration

	done    chan struct{} // closed once the process has been reaped
	waitErr error

	mu      sync.Mutex
	stopped bool
}

// Start launches executable with args and returns without waiting for it to
// exit.
func Start(executable string, args []string, opts ...Option) (*Managed, error) {
	o := buildOptions(executable, opts)
	logger := o.logger.With("role", o.role)

	stdout := newLineLogger(logger, "stdout")
	stderr := newLineLogger(logger, "stderr")

	cmd := exec.Command(executable, args...)
	cmd.Dir = o.dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrainDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", executable, err)
	}

	m := &Managed{
		path:        executable,
		args:        args,
		cmd:         cmd,
		logger:      logger,
		stopTimeout: o.stopTimeout,
		done:        make(chan struct{}),
	}
	logger.Info("process started", "pid", cmd.Process.Pid, "args", args, "dir", o.dir)

	go func() {
		m.waitErr = cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		close(m.done)
	}()

	return m, nil
}

// Pid returns the operating system process ID.
func (m *Managed) Pid() int {
	return m.cmd.Process.Pid
}

// Path returns the executable path.
func (m *Managed) Path() string {
	return m.path
}

// Alive reports whether the process has not yet exited.
func (m *Managed) Alive() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed once the process has exited.
func (m *Managed) Done() <-chan struct{} {
	return m.done
}

// Stop sends SIGTERM and blocks until the process has exited. When the stop
// timeout elapses first, the process is killed and still waited for.
//
// Stop is safe to call more than once; only the first call signals.
func (m *Managed) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	pid := m.cmd.Process.Pid

	if m.Alive() {
		if err := m.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return &TeardownError{Path: m.path, Pid: pid, Op: "signal", Err: err}
		}
	}

	var timeout <-chan time.Time
	if m.stopTimeout > 0 {
		timer := time.NewTimer(m.stopTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-m.done:
	case <-timeout:
		m.logger.Warn("process ignored SIGTERM, killing", "pid", pid, "timeout", m.stopTimeout)
		if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return &TeardownError{Path: m.path, Pid: pid, Op: "kill", Err: err, Killed: true}
		}
		<-m.done
		return &TeardownError{
			Path:   m.path,
			Pid:    pid,
			Op:     "terminate",
			Err:    fmt.Errorf("no exit within %s", m.stopTimeout),
			Killed: true,
		}
	case <-ctx.Done():
		// Reap anyway so nothing is left running.
		_ = m.cmd.Process.Kill()
		<-m.done
		return &TeardownError{Path: m.path, Pid: pid, Op: "wait", Err: ctx.Err(), Killed: true}
	}

	if err := exitError(m.waitErr); err != nil {
		return &TeardownError{Path: m.path, Pid: pid, Op: "wait", Err: err}
	}

	m.logger.Info("process stopped", "pid", pid)
	return nil
}

// exitError filters out the exit status produced by our own SIGTERM.
func exitError(err error) error {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() && status.Signal() == syscall.SIGTERM {
				return nil
			}
		}
		// A process that handles SIGTERM may exit with any code on shutdown.
		if exitErr.Exited() {
			return nil
		}
	}
	return err
}

// Run executes executable to completion and reports its exit code. A
// non-zero exit code is not an error. The context bounds the run; on
// expiry the process is killed and the context error returned.
func Run(ctx context.Context, executable string, args []string, opts ...Option) (*Exit, error) {
	o := buildOptions(executable, opts)
	logger := o.logger.With("role", o.role)

	stdout := newLineLogger(logger, "stdout")
	stderr := newLineLogger(logger, "stderr")

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = o.dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrainDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", executable, err)
	}
	logger.Info("process started", "pid", cmd.Process.Pid, "args", args, "dir", o.dir)

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	exit := &Exit{Duration: time.Since(start)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s did not finish: %w", filepath.Base(executable), ctxErr)
	}

	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to wait for %s: %w", executable, err)
		}
		exit.Code = exitErr.ExitCode()
	}

	logger.Info("process exited", "code", exit.Code, "duration", exit.Duration)
	return exit, nil
}

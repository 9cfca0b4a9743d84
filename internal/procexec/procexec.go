// Package procexec runs external programs from an argument list with a
// wall-clock timeout, bounded output capture and process-group termination.
// Nothing here goes through a shell.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxOutputBytes caps captured stdout and stderr independently.
	DefaultMaxOutputBytes = 10 << 20
	// DefaultWaitDelay bounds how long Wait blocks on I/O after a kill.
	DefaultWaitDelay = 5 * time.Second

	maxArgDisplay   = 64
	stderrTailBytes = 2048
)

// ErrTimeout marks a command killed because its timeout elapsed.
var ErrTimeout = errors.New("procexec: timed out")

// Command describes one invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env map[string]string
	// Timeout of zero means only the caller's context bounds the run.
	Timeout time.Duration
	// MaxOutputBytes caps each captured stream; zero uses DefaultMaxOutputBytes.
	MaxOutputBytes int
}

// String renders the command identity for messages, shortening long args.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if len(arg) > maxArgDisplay {
			arg = arg[:maxArgDisplay] + "..."
		}
		if strings.ContainsAny(arg, " \t") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Result captures what the process produced.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// ExitError reports a non-zero exit.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("procexec: %s exited with code %d", e.Command, e.ExitCode)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function into a Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

// Run executes f(ctx, cmd).
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger    zerolog.Logger
	waitDelay time.Duration
}

// ExecOption customizes an ExecRunner.
type ExecOption func(*ExecRunner)

// WithLogger attaches a diagnostics logger.
func WithLogger(logger zerolog.Logger) ExecOption {
	return func(r *ExecRunner) {
		r.logger = logger
	}
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) ExecOption {
	return func(r *ExecRunner) {
		if d > 0 {
			r.waitDelay = d
		}
	}
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(opts ...ExecOption) *ExecRunner {
	r := &ExecRunner{logger: zerolog.Nop(), waitDelay: DefaultWaitDelay}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run starts cmd and waits for it. Timeouts and cancellation kill the whole
// process group. Every error names the command.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return Result{}, errors.New("procexec: command name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	limit := c.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: limit}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = r.waitDelay

	identity := c.String()
	started := time.Now()
	r.logger.Debug().Str("command", identity).Dur("timeout", c.Timeout).Msg("starting process")
	err := cmd.Run()
	result := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode(cmd),
		Duration:  time.Since(started),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if err == nil {
		r.logger.Debug().Str("command", identity).Dur("duration", result.Duration).Msg("process finished")
		return result, nil
	}
	r.logger.Warn().Err(err).Str("command", identity).Int("exit_code", result.ExitCode).Dur("duration", result.Duration).Msg("process failed")
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return result, fmt.Errorf("%w: %s after %s", ErrTimeout, identity, c.Timeout)
	case ctx.Err() != nil:
		return result, fmt.Errorf("procexec: %s cancelled: %w", identity, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &ExitError{Command: identity, ExitCode: result.ExitCode, Stderr: tail(result.Stderr, stderrTailBytes)}
	}
	return result, fmt.Errorf("procexec: start %s: %w", identity, err)
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// limitedBuffer keeps the first limit bytes and silently discards the rest so
// the child never sees a write error.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

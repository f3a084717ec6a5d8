// Package process runs external commands with a timeout and an explicit
// exit-status check.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its captured output.
// A non-zero exit is reported as *ExitError.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Output, error)
}

// Output holds the captured streams of a finished command.
type Output struct {
	Stdout string
	Stderr string
}

// ExitError describes a command that ran but did not succeed.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, msg)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	timeout     time.Duration
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecRunner creates a runner that bounds each command by timeout.
// A zero timeout relies on the caller's context alone.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{timeout: timeout, execCommand: exec.CommandContext}
}

// Run executes name with args and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := r.execCommand(ctx, name, args...) //nolint:gosec // G204: args are constructed internally, not from user input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	out := &Output{}
	err := cmd.Run()
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if err == nil {
		return out, nil
	}

	command := name + " " + strings.Join(args, " ")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s: %w", command, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ExitError{
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Stderr:   out.Stderr,
			Err:      err,
		}
	}
	return out, fmt.Errorf("%s: %w", command, err)
}

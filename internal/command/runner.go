// Package command runs the external tools the pipeline depends on
// (yt-dlp, ffprobe, ffmpeg, whisper.cpp).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result captures one finished invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so tests can script tool behaviour.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, &Error{Command: name, Args: args, Result: result, Err: err}
	}
	return result, nil
}

// Error is a failed invocation with its captured output.
type Error struct {
	Command string
	Args    []string
	Result  Result
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.Result.ExitCode, e.Tail(300))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tail returns the last n bytes of stderr, trimmed.
func (e *Error) Tail(n int) string {
	s := strings.TrimSpace(e.Result.Stderr)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// Stderr returns the captured stderr of err when it is a command failure.
func Stderr(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Result.Stderr
	}
	return ""
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("executable %q not found: %w", name, err)
	}
	return nil
}

// Package runner executes the external tools the release pipeline drives
// (codesign, packagesbuild, productsign, pkgutil, xcrun).
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

// Command describes one tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current process environment.
	Env map[string]string
	// Sensitive lists argument values that must never be printed.
	Sensitive []string
}

// String renders the command line with sensitive arguments masked.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if c.isSensitive(arg) {
			arg = "***"
		} else if strings.ContainsAny(arg, " \t") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

func (c Command) isSensitive(arg string) bool {
	for _, s := range c.Sensitive {
		if s != "" && arg == s {
			return true
		}
	}
	return false
}

// Result holds the captured outcome of a command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner runs a command to completion.
//
// Run always returns a non-nil Result once the command was attempted. A
// non-zero exit or a start failure is reported as a failure.ExternalTool
// error alongside the captured output. A cancelled context is reported as
// the context error, not as a tool failure.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// waitDelay is how long Run waits for output after the context kills a
// command.
const waitDelay = 2 * time.Second

// Exec runs commands with os/exec.
type Exec struct{}

// NewExec creates a runner backed by os/exec.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes cmd and waits for it to exit.
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()
	result := &Result{}

	//nolint:gosec // G204: the pipeline only runs configured signing tools
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	// Bound the wait for pipes held open by grandchildren after a kill.
	c.WaitDelay = waitDelay
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for key, value := range cmd.Env {
			env = append(env, key+"="+value)
		}
		c.Env = env
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err == nil {
		return result, nil
	}

	// A killed process also yields an ExitError, so cancellation is
	// checked first and is not a tool failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, failure.Errorf(failure.ExternalTool, cmd.Name, "exited with status %d%s", result.ExitCode, stderrSuffix(result.Stderr))
	default:
		result.ExitCode = -1
		return result, failure.New(failure.ExternalTool, cmd.Name, err)
	}
}

// stderrSuffix keeps the last line of stderr for error messages.
func stderrSuffix(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	return ": " + strings.TrimSpace(lines[len(lines)-1])
}

// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

// Response is one scripted outcome.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Script answers commands whose name and leading arguments match.
// Responses are consumed in order; the last one repeats.
type Script struct {
	name      string
	prefix    []string
	responses []Response
	served    int
}

// Respond appends responses to the script.
func (s *Script) Respond(responses ...Response) *Script {
	s.responses = append(s.responses, responses...)
	return s
}

func (s *Script) matches(cmd runner.Command) bool {
	if cmd.Name != s.name || len(cmd.Args) < len(s.prefix) {
		return false
	}
	for i, p := range s.prefix {
		if cmd.Args[i] != p {
			return false
		}
	}
	return true
}

func (s *Script) next() Response {
	if len(s.responses) == 0 {
		return Response{}
	}
	idx := s.served
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.served++
	return s.responses[idx]
}

// Fake records every command and replies from its scripts. Commands
// without a matching script succeed with empty output.
type Fake struct {
	mu      sync.Mutex
	scripts []*Script
	calls   []runner.Command
}

// New creates an empty fake runner.
func New() *Fake {
	return &Fake{}
}

// On registers a script for commands named name whose arguments start
// with prefix. Later registrations take precedence.
func (f *Fake) On(name string, prefix ...string) *Script {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &Script{name: name, prefix: prefix}
	f.scripts = append([]*Script{s}, f.scripts...)
	return s
}

// Run implements runner.Runner.
func (f *Fake) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, cmd)
	if err := ctx.Err(); err != nil {
		return &runner.Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	var resp Response
	for _, s := range f.scripts {
		if s.matches(cmd) {
			resp = s.next()
			break
		}
	}

	result := &runner.Result{
		ExitCode: resp.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
	}
	if resp.ExitCode != 0 {
		return result, failure.Errorf(failure.ExternalTool, cmd.Name, "exited with status %d", resp.ExitCode)
	}
	return result, nil
}

// Calls returns a copy of the recorded commands.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runner.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many recorded commands match name and prefix.
func (f *Fake) Count(name string, prefix ...string) int {
	pattern := &Script{name: name, prefix: prefix}
	n := 0
	for _, c := range f.Calls() {
		if pattern.matches(c) {
			n++
		}
	}
	return n
}

// Trace returns "name arg0" for each recorded command, in order.
func (f *Fake) Trace() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		entry := c.Name
		if len(c.Args) > 0 && !strings.HasPrefix(c.Args[0], "-") {
			entry += " " + c.Args[0]
		}
		out = append(out, entry)
	}
	return out
}

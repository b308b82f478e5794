package notarize

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

// Stapler attaches notarization tickets with xcrun stapler.
type Stapler struct {
	runner runner.Runner
	tool   string
	log    *log.Logger
}

// NewStapler creates a stapler; tool defaults to "xcrun".
func NewStapler(r runner.Runner, tool string, logger *log.Logger) *Stapler {
	if tool == "" {
		tool = "xcrun"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Stapler{runner: r, tool: tool, log: logger}
}

// Staple attaches the ticket to pkgPath. Success requires both a zero
// exit and the confirmation phrase in the output.
func (s *Stapler) Staple(ctx context.Context, pkgPath string) error {
	s.log.Printf("staple: stapling ticket to %s", pkgPath)
	result, err := s.runner.Run(ctx, runner.Command{
		Name: s.tool,
		Args: []string{"stapler", "staple", pkgPath},
	})
	out := strings.TrimSpace(result.Output())
	if out != "" {
		s.log.Printf("staple: %s", out)
	}
	if err != nil {
		return fmt.Errorf("failed to staple %s: %w", pkgPath, err)
	}
	if !StapleConfirmed(out) {
		return failure.Errorf(failure.Verification, "stapler", "unknown ticket staple status for %s: %q", pkgPath, excerpt(out))
	}
	return nil
}

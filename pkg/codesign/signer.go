package codesign

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

// SignerConfig configures a Signer.
type SignerConfig struct {
	// Tool is the codesign binary; defaults to "codesign".
	Tool string
	// Inspect parses the signed Mach-O after each call and checks the
	// hardened runtime flag, timestamp and signer.
	Inspect bool
	Logger  *log.Logger
}

// Signer signs artifacts in place with Apple's codesign tool.
type Signer struct {
	runner  runner.Runner
	tool    string
	inspect bool
	log     *log.Logger
}

// NewSigner creates a signer that runs codesign through r.
func NewSigner(r runner.Runner, cfg SignerConfig) *Signer {
	tool := cfg.Tool
	if tool == "" {
		tool = "codesign"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Signer{runner: r, tool: tool, inspect: cfg.Inspect, log: logger}
}

// SignArgs returns the codesign arguments for one artifact: force
// re-signing, optional deep signing of nested code, a secure timestamp
// and the hardened runtime.
func SignArgs(path, identity string, deep bool) []string {
	args := []string{"--force", "--sign", identity}
	if deep {
		args = append(args, "--deep")
	}
	return append(args, "--timestamp", "-o", "runtime", path)
}

// Sign signs the artifact at path with identity. A non-zero codesign exit
// is fatal and never retried.
func (s *Signer) Sign(ctx context.Context, path, identity string, deep bool) error {
	if strings.TrimSpace(identity) == "" {
		return failure.Errorf(failure.CredentialMissing, "codesign", "no signing identity for %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("artifact %s: %w", path, err)
	}

	cmd := runner.Command{Name: s.tool, Args: SignArgs(path, identity, deep)}
	s.log.Printf("codesign: signing %s deep=%v", path, deep)

	result, err := s.runner.Run(ctx, cmd)
	if out := strings.TrimSpace(result.Output()); out != "" {
		s.log.Printf("codesign: %s", out)
	}
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", path, err)
	}

	if s.inspect {
		if err := s.checkSignature(path, identity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Signer) checkSignature(path, identity string) error {
	infos, err := InspectPath(path)
	if err != nil {
		return failure.New(failure.Verification, "codesign", err)
	}
	for _, info := range infos {
		if err := info.Check(identity); err != nil {
			return err
		}
		s.log.Printf("codesign: verified %s [%s] signer=%q runtime=%v timestamp=%v",
			info.BinaryPath, info.Arch, info.CMS.SignerCN, info.HardenedRuntime(), info.CMS.Timestamped)
	}
	return nil
}

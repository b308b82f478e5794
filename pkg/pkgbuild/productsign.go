package pkgbuild

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

// ProductSignerConfig configures a ProductSigner.
type ProductSignerConfig struct {
	// SignTool defaults to "productsign", VerifyTool to "pkgutil".
	SignTool   string
	VerifyTool string
	// Output is where the signed package is written. Defaults to the
	// input's file name in the working directory.
	Output string
	Logger *log.Logger
}

// ProductSigner signs installer packages and verifies the result.
type ProductSigner struct {
	runner     runner.Runner
	signTool   string
	verifyTool string
	output     string
	log        *log.Logger
}

// NewProductSigner creates a signer that runs productsign and pkgutil
// through r.
func NewProductSigner(r runner.Runner, cfg ProductSignerConfig) *ProductSigner {
	s := &ProductSigner{
		runner:     r,
		signTool:   cfg.SignTool,
		verifyTool: cfg.VerifyTool,
		output:     cfg.Output,
		log:        cfg.Logger,
	}
	if s.signTool == "" {
		s.signTool = "productsign"
	}
	if s.verifyTool == "" {
		s.verifyTool = "pkgutil"
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	return s
}

// SignedPath returns where SignPackage writes the signed copy of in.
func (s *ProductSigner) SignedPath(in string) string {
	if s.output != "" {
		return s.output
	}
	return filepath.Base(in)
}

// SignPackage signs in with the installer identity and writes the signed
// package to a separate path, which is returned.
func (s *ProductSigner) SignPackage(ctx context.Context, in, identity string) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", failure.Errorf(failure.CredentialMissing, s.signTool, "no installer signing identity for %s", in)
	}
	if _, err := os.Stat(in); err != nil {
		return "", fmt.Errorf("package %s: %w", in, err)
	}

	out := s.SignedPath(in)
	if samePath(in, out) {
		return "", fmt.Errorf("signed package path %s must differ from unsigned package path", out)
	}
	// productsign refuses to overwrite an existing file.
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to remove stale package %s: %w", out, err)
	}

	s.log.Printf("productsign: signing %s -> %s", in, out)
	result, err := s.runner.Run(ctx, runner.Command{
		Name: s.signTool,
		Args: []string{"--sign", identity, in, out},
	})
	if text := strings.TrimSpace(result.Output()); text != "" {
		s.log.Printf("productsign: %s", text)
	}
	if err != nil {
		return "", fmt.Errorf("failed to sign package: %w", err)
	}
	return out, nil
}

// Verify checks the package signature with pkgutil --check-signature.
// Any failure is a verification failure, distinct from a signing failure.
func (s *ProductSigner) Verify(ctx context.Context, path string) error {
	result, err := s.runner.Run(ctx, runner.Command{
		Name: s.verifyTool,
		Args: []string{"--check-signature", path},
	})
	status, chain := ParseCheckSignature(result.Output())
	if err != nil {
		if status != "" {
			return failure.New(failure.Verification, s.verifyTool, fmt.Errorf("%s: %s: %w", path, status, err))
		}
		return failure.New(failure.Verification, s.verifyTool, fmt.Errorf("%s: %w", path, err))
	}

	s.log.Printf("pkgutil: verified %s status=%q", path, status)
	for i, cert := range chain {
		s.log.Printf("pkgutil:   %d. %s", i+1, cert)
	}
	return nil
}

var chainEntry = regexp.MustCompile(`^\s*\d+\.\s+(.+)$`)

// ParseCheckSignature extracts the status line and certificate chain
// names from pkgutil --check-signature output.
func ParseCheckSignature(output string) (status string, chain []string) {
	inChain := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Status:"):
			status = strings.TrimSpace(strings.TrimPrefix(trimmed, "Status:"))
		case strings.HasPrefix(trimmed, "Certificate Chain:"):
			inChain = true
		case inChain:
			if m := chainEntry.FindStringSubmatch(line); m != nil {
				chain = append(chain, strings.TrimSpace(m[1]))
			}
		}
	}
	return status, chain
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

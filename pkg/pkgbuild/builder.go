package pkgbuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Tool is the packagesbuild binary; defaults to "packagesbuild".
	Tool string
	// Output overrides the package path derived from the project.
	Output string
	Logger *log.Logger
}

// Builder assembles an installer package from a Packages project.
type Builder struct {
	runner runner.Runner
	tool   string
	output string
	log    *log.Logger
}

// NewBuilder creates a builder that runs packagesbuild through r.
func NewBuilder(r runner.Runner, cfg BuilderConfig) *Builder {
	tool := cfg.Tool
	if tool == "" {
		tool = "packagesbuild"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Builder{runner: r, tool: tool, output: cfg.Output, log: logger}
}

// OutputPath returns the package path a build of projectPath produces.
func (b *Builder) OutputPath(projectPath string) (string, error) {
	if b.output != "" {
		return b.output, nil
	}
	project, err := ReadProject(projectPath)
	if err != nil {
		return "", err
	}
	return project.OutputPath(), nil
}

// Build runs packagesbuild on projectPath and returns the path of the
// unsigned package. A stale package at the output path is removed first
// so a zero exit that produced nothing is detected.
func (b *Builder) Build(ctx context.Context, projectPath string) (string, error) {
	if _, err := os.Stat(projectPath); err != nil {
		return "", fmt.Errorf("project %s: %w", projectPath, err)
	}

	output, err := b.OutputPath(projectPath)
	if err != nil {
		return "", err
	}
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to remove stale package %s: %w", output, err)
	}

	b.log.Printf("pkgbuild: building project=%s output=%s", projectPath, output)
	result, err := b.runner.Run(ctx, runner.Command{Name: b.tool, Args: []string{projectPath}})
	if out := strings.TrimSpace(result.Output()); out != "" {
		b.log.Printf("pkgbuild: %s", out)
	}
	if err != nil {
		return "", fmt.Errorf("failed to build package: %w", err)
	}

	if _, err := os.Stat(output); err != nil {
		return "", failure.Errorf(failure.Verification, b.tool, "exited successfully but produced no package at %s", output)
	}
	return output, nil
}

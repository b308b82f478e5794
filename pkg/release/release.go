// Package release sequences signing, packaging, notarization and
// stapling of a macOS release.
package release

import (
	"io"
	"log"

	"github.com/aluedeke/go-notarize/pkg/codesign"
	"github.com/aluedeke/go-notarize/pkg/metrics"
	"github.com/aluedeke/go-notarize/pkg/notarize"
	"github.com/aluedeke/go-notarize/pkg/pkgbuild"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

// NewClient returns the notarization client configured by cfg.
func NewClient(cfg *Config, r runner.Runner, logger *log.Logger) *notarize.Client {
	return notarize.NewClient(r, notarize.ClientConfig{
		Tool:         cfg.Tools.Xcrun,
		BundleID:     cfg.BundleID,
		Username:     cfg.Username,
		PasswordEnv:  cfg.PasswordEnv,
		Password:     cfg.Password,
		OutputFormat: cfg.OutputFormat,
		Logger:       logger,
	})
}

// NewStapler returns the stapler configured by cfg.
func NewStapler(cfg *Config, r runner.Runner, logger *log.Logger) *notarize.Stapler {
	return notarize.NewStapler(r, cfg.Tools.Xcrun, logger)
}

// New wires the production stages over r.
func New(cfg *Config, r runner.Runner, sink metrics.Sink, logger *log.Logger) *Pipeline {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	signer := codesign.NewSigner(r, codesign.SignerConfig{
		Tool:    cfg.Tools.Codesign,
		Inspect: cfg.Inspect,
		Logger:  logger,
	})
	builder := pkgbuild.NewBuilder(r, pkgbuild.BuilderConfig{
		Tool:   cfg.Tools.Packagesbuild,
		Output: cfg.BuiltPackage,
		Logger: logger,
	})
	productSigner := pkgbuild.NewProductSigner(r, pkgbuild.ProductSignerConfig{
		SignTool:   cfg.Tools.Productsign,
		VerifyTool: cfg.Tools.Pkgutil,
		Output:     cfg.SignedPackage,
		Logger:     logger,
	})
	client := NewClient(cfg, r, logger)

	pollCfg := cfg.PollerConfig()
	pollCfg.Logger = logger
	pollCfg.OnAttempt = func(a notarize.PollAttempt) {
		sink.PollAttempt(string(a.Status))
	}

	return NewPipeline(cfg, Stages{
		Signer:        signer,
		Builder:       builder,
		PackageSigner: productSigner,
		Verifier:      productSigner,
		Submitter:     client,
		Waiter:        notarize.NewPoller(client, pollCfg),
		Stapler:       NewStapler(cfg, r, logger),
	}, sink, logger)
}

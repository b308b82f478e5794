package release

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/aluedeke/go-notarize/pkg/codesign"
	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/metrics"
	"github.com/aluedeke/go-notarize/pkg/notarize"
)

// ArtifactSigner signs one artifact in place.
type ArtifactSigner interface {
	Sign(ctx context.Context, path, identity string, deep bool) error
}

// PackageBuilder assembles the unsigned installer package.
type PackageBuilder interface {
	Build(ctx context.Context, projectPath string) (string, error)
}

// PackageSigner writes a signed copy of a package and returns its path.
type PackageSigner interface {
	SignPackage(ctx context.Context, in, identity string) (string, error)
}

// PackageVerifier checks a signed package.
type PackageVerifier interface {
	Verify(ctx context.Context, path string) error
}

// Submitter uploads a package for notarization.
type Submitter interface {
	Submit(ctx context.Context, pkgPath string) (string, error)
}

// Waiter polls a notarization request until it reaches a verdict.
type Waiter interface {
	Wait(ctx context.Context, id string) ([]notarize.PollAttempt, error)
}

// Stapler attaches the notarization ticket to a package.
type Stapler interface {
	Staple(ctx context.Context, pkgPath string) error
}

// Stages holds one implementation per external capability.
type Stages struct {
	Signer        ArtifactSigner
	Builder       PackageBuilder
	PackageSigner PackageSigner
	Verifier      PackageVerifier
	Submitter     Submitter
	Waiter        Waiter
	Stapler       Stapler
}

// Stage names used in logs and metrics.
const (
	StagePreflight = "preflight"
	StageCodesign  = "codesign"
	StageBuild     = "packagesbuild"
	StageSign      = "productsign"
	StageVerify    = "pkgutil"
	StageSubmit    = "submit"
	StageWait      = "wait"
	StageStaple    = "staple"
)

// StageResult records one completed or failed stage.
type StageResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report contains the result of a pipeline run.
type Report struct {
	Package  Package
	Request  notarize.Request
	Attempts []notarize.PollAttempt
	Stages   []StageResult
	Duration time.Duration
}

// Pipeline runs the release stages in order. The first failure aborts
// the run; nothing is retried across stages.
type Pipeline struct {
	cfg     *Config
	stages  Stages
	metrics metrics.Sink
	log     *log.Logger
	now     func() time.Time
}

// NewPipeline creates a pipeline over explicit stage implementations.
func NewPipeline(cfg *Config, stages Stages, sink metrics.Sink, logger *log.Logger) *Pipeline {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{cfg: cfg, stages: stages, metrics: sink, log: logger, now: time.Now}
}

// Run executes the release: sign artifacts, build the package, sign and
// verify it, notarize it and staple the ticket.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := p.now()
	report := &Report{}
	err := p.run(ctx, report)
	report.Duration = p.now().Sub(start)

	outcome := metrics.ClassifyOutcome(err)
	p.metrics.RunOutcome(outcome)
	p.log.Printf("release: outcome=%s package=%s state=%s duration=%s",
		outcome, report.Package.SignedPath, report.Package.State, report.Duration.Round(time.Second))
	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *Report) error {
	cfg := p.cfg
	pkg := &report.Package

	// Step 1: Check credentials and inputs before touching anything
	if err := p.stage(report, StagePreflight, func() error {
		return p.preflight()
	}); err != nil {
		return err
	}

	// Step 2: Sign every artifact with the application identity
	p.log.Printf("release: codesigning %d artifacts", len(cfg.Artifacts))
	if err := p.stage(report, StageCodesign, func() error {
		for _, a := range cfg.Artifacts {
			if err := p.stages.Signer.Sign(ctx, a.Path, cfg.ApplicationIdentity, a.Deep); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Step 3: Build the installer package
	p.log.Printf("release: building installer package")
	if err := p.stage(report, StageBuild, func() error {
		built, err := p.stages.Builder.Build(ctx, cfg.Project)
		pkg.BuiltPath = built
		return err
	}); err != nil {
		return err
	}

	// Step 4: Sign the package into its final location
	p.log.Printf("release: signing installer package")
	if err := p.stage(report, StageSign, func() error {
		signed, err := p.stages.PackageSigner.SignPackage(ctx, pkg.BuiltPath, cfg.InstallerIdentity)
		if err != nil {
			return err
		}
		pkg.SignedPath = signed
		return pkg.advance(Signed)
	}); err != nil {
		return err
	}

	// Step 5: Verify the package signature
	if err := p.stage(report, StageVerify, func() error {
		return p.stages.Verifier.Verify(ctx, pkg.SignedPath)
	}); err != nil {
		return err
	}

	// Step 6: Submit for notarization
	p.log.Printf("release: notarizing")
	if err := p.stage(report, StageSubmit, func() error {
		id, err := p.stages.Submitter.Submit(ctx, pkg.SignedPath)
		if err != nil {
			return err
		}
		report.Request = notarize.Request{ID: id, Status: notarize.StatusSubmitted}
		return nil
	}); err != nil {
		return err
	}

	// Step 7: Wait for the verdict
	if err := p.stage(report, StageWait, func() error {
		attempts, err := p.stages.Waiter.Wait(ctx, report.Request.ID)
		report.Attempts = attempts
		if n := len(attempts); n > 0 {
			report.Request.Status = attempts[n-1].Status
		}
		if err != nil {
			return err
		}
		return pkg.advance(Notarized)
	}); err != nil {
		return err
	}

	// Step 8: Staple the ticket
	p.log.Printf("release: stapling ticket to %s", pkg.SignedPath)
	return p.stage(report, StageStaple, func() error {
		if err := p.stages.Stapler.Staple(ctx, pkg.SignedPath); err != nil {
			return err
		}
		return pkg.advance(Stapled)
	})
}

func (p *Pipeline) stage(report *Report, name string, fn func() error) error {
	start := p.now()
	err := fn()
	d := p.now().Sub(start)

	report.Stages = append(report.Stages, StageResult{Name: name, Duration: d, Err: err})
	p.metrics.StageCompleted(name, d, err)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	p.log.Printf("release: stage=%s done in %s", name, d.Round(time.Millisecond))
	return nil
}

func (p *Pipeline) preflight() error {
	cfg := p.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ApplicationBundle != "" {
		if err := checkIdentityBundle(cfg.ApplicationBundle, cfg.BundlePassword, cfg.ApplicationIdentity, p.now()); err != nil {
			return err
		}
	}
	if cfg.InstallerBundle != "" {
		if err := checkIdentityBundle(cfg.InstallerBundle, cfg.BundlePassword, cfg.InstallerIdentity, p.now()); err != nil {
			return err
		}
	}
	return cfg.CheckArtifacts()
}

func checkIdentityBundle(path, password, identity string, now time.Time) error {
	//nolint:gosec // G304: path comes from the release config
	data, err := os.ReadFile(path)
	if err != nil {
		return failure.New(failure.CredentialMissing, "identity", err)
	}
	bundle, err := codesign.LoadIdentityBundle(data, password)
	if err != nil {
		return failure.New(failure.CredentialMissing, "identity", fmt.Errorf("%s: %w", path, err))
	}
	return bundle.CheckIdentity(identity, now)
}

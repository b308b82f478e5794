package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluedeke/go-notarize/pkg/codesign"
	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/metrics"
	"github.com/aluedeke/go-notarize/pkg/notarize"
	"github.com/aluedeke/go-notarize/pkg/release"
	"github.com/aluedeke/go-notarize/pkg/runner"
)

const version = "1.0.0"

const usage = `go-notarize - macOS Release Signing and Notarization Tool

Signs the release binaries, builds and signs the installer package, submits it
to Apple's notarization service, waits for the verdict and staples the ticket.

Usage:
  go-notarize run [--config=<path>] [--metrics-file=<path>]
  go-notarize status --request=<uuid> [--config=<path>]
  go-notarize staple --pkg=<path> [--config=<path>]
  go-notarize inspect --binary=<path> [--identity=<id>]
  go-notarize -h | --help
  go-notarize --version

Commands:
  run       Run the complete release pipeline
  status    Query a notarization request once
  staple    Staple the ticket to an already notarized package
  inspect   Print the code signature of a binary or .app bundle

Options:
  --config=<path>        Path to the release YAML config (defaults built in)
  --metrics-file=<path>  Write Prometheus metrics in textfile format after the run
  --request=<uuid>       Notarization RequestUUID
  --pkg=<path>           Path to the signed installer package
  --binary=<path>        Path to a Mach-O binary or .app bundle
  --identity=<id>        Check the signature against this signing identity
  -h --help              Show this help message
  --version              Show version

Environment Variables:
  MACOS_APPLICATION_SIGNING_IDENTITY  Overrides the application signing identity
  MACOS_INSTALLER_SIGNING_IDENTITY    Overrides the installer signing identity
  RDMNET_APPLE_DEVELOPER_ID_USER      Apple ID used for notarization
  RDMNET_APPLE_DEVELOPER_ID_PW        App-specific password, passed to altool as @env:

Exit Codes:
  0  success
  1  other error
  2  credentials missing
  3  external tool failed
  4  tool output could not be parsed
  5  notarization did not finish in time
  6  verification failed
  7  notarization rejected

Examples:
  # Release with the built-in RDMnet layout
  export RDMNET_APPLE_DEVELOPER_ID_USER=dev@example.com
  export RDMNET_APPLE_DEVELOPER_ID_PW=abcd-efgh-ijkl-mnop
  go-notarize run

  # Release with a config file and export metrics for node_exporter
  go-notarize run --config=release.yml --metrics-file=/var/lib/node_exporter/notarize.prom

  # Check on a submission
  go-notarize status --request=aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee

  # Verify a signed bundle
  go-notarize inspect --binary="build/install/RDMnet Controller Example.app" --identity="Developer ID Application: Electronic Theatre Controls, Inc. (8AVSFD7ZED)"
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	if run, _ := opts.Bool("run"); run {
		err = runRelease(ctx, opts, logger)
	} else if status, _ := opts.Bool("status"); status {
		err = runStatus(ctx, opts, logger)
	} else if staple, _ := opts.Bool("staple"); staple {
		err = runStaple(ctx, opts, logger)
	} else if inspect, _ := opts.Bool("inspect"); inspect {
		err = runInspect(opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(failure.ExitCode(err))
	}
}

func loadConfig(opts docopt.Opts) (*release.Config, error) {
	path, _ := opts.String("--config")
	return release.LoadConfig(path, os.Getenv)
}

func runRelease(ctx context.Context, opts docopt.Opts, logger *log.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	metricsFile, _ := opts.String("--metrics-file")

	var sink metrics.Sink = metrics.NewNoopSink()
	var reg *prometheus.Registry
	if metricsFile != "" {
		reg = prometheus.NewRegistry()
		sink = metrics.NewPrometheusSink(reg)
	}

	fmt.Printf("Signing identity:    %s\n", cfg.ApplicationIdentity)
	fmt.Printf("Installer identity:  %s\n", cfg.InstallerIdentity)
	fmt.Printf("Package project:     %s\n", cfg.Project)
	fmt.Printf("Output:              %s\n", cfg.SignedPackage)
	fmt.Println()

	report, runErr := release.New(cfg, runner.NewExec(), sink, logger).Run(ctx)

	if reg != nil {
		if err := metrics.WriteTextfile(metricsFile, reg); err != nil {
			logger.Printf("metrics: failed to write %s: %v", metricsFile, err)
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Println()
	fmt.Printf("Successfully notarized and stapled: %s\n", report.Package.SignedPath)
	fmt.Printf("Request:  %s\n", report.Request.ID)
	fmt.Printf("Polls:    %d\n", len(report.Attempts))
	fmt.Printf("Duration: %s\n", report.Duration.Round(time.Second))
	return nil
}

func runStatus(ctx context.Context, opts docopt.Opts, logger *log.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	id, _ := opts.String("--request")

	report, err := release.NewClient(cfg, runner.NewExec(), logger).Status(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println("Notarization Request")
	fmt.Println("====================")
	fmt.Printf("RequestUUID: %s\n", id)
	fmt.Printf("Status:      %s\n", report.Raw)
	if report.LogFileURL != "" {
		fmt.Printf("LogFileURL:  %s\n", report.LogFileURL)
	}
	if report.Status == notarize.StatusInvalid {
		return failure.Errorf(failure.Rejected, "status", "request %s was rejected", id)
	}
	return nil
}

func runStaple(ctx context.Context, opts docopt.Opts, logger *log.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	pkg, _ := opts.String("--pkg")

	if err := release.NewStapler(cfg, runner.NewExec(), logger).Staple(ctx, pkg); err != nil {
		return err
	}
	fmt.Printf("Successfully stapled: %s\n", pkg)
	return nil
}

func runInspect(opts docopt.Opts) error {
	path, _ := opts.String("--binary")
	identity, _ := opts.String("--identity")

	infos, err := codesign.InspectPath(path)
	if err != nil {
		return failure.New(failure.Verification, "inspect", err)
	}

	if codesign.IsBundle(path) {
		bundleID, err := codesign.GetBundleID(path)
		if err != nil {
			return fmt.Errorf("failed to get bundle ID: %w", err)
		}
		fmt.Println("App Bundle Information")
		fmt.Println("======================")
		fmt.Printf("Path:        %s\n", path)
		fmt.Printf("Bundle ID:   %s\n", bundleID)
		fmt.Println()
	}

	fmt.Println("Code Signature Details")
	fmt.Println("======================")
	for _, info := range infos {
		codesign.PrintSignatureInfo(info, os.Stdout)
	}

	if identity != "" {
		for _, info := range infos {
			if err := info.Check(identity); err != nil {
				return err
			}
		}
		fmt.Printf("\nSignature matches %s\n", identity)
	}
	return nil
}

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

// ClientConfig configures a Client.
type ClientConfig struct {
	// Tool is the xcrun binary; defaults to "xcrun".
	Tool string
	// BundleID is the primary bundle identifier sent with uploads.
	BundleID string
	Username string
	// PasswordEnv names the environment variable altool reads the
	// password from (--password @env:NAME).
	PasswordEnv string
	// Password is exported to the tool as PasswordEnv and is required. It
	// is never placed on the command line.
	Password string
	// OutputFormat "xml" requests plist output from altool.
	OutputFormat string
	Logger       *log.Logger
}

// Client talks to the notarization service through xcrun altool.
type Client struct {
	runner runner.Runner
	cfg    ClientConfig
	log    *log.Logger
}

// NewClient creates a client that runs altool through r.
func NewClient(r runner.Runner, cfg ClientConfig) *Client {
	if cfg.Tool == "" {
		cfg.Tool = "xcrun"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{runner: r, cfg: cfg, log: logger}
}

func (c *Client) checkCredentials() error {
	if strings.TrimSpace(c.cfg.Username) == "" {
		return failure.Errorf(failure.CredentialMissing, "altool", "no Apple developer ID username configured")
	}
	if strings.TrimSpace(c.cfg.PasswordEnv) == "" {
		return failure.Errorf(failure.CredentialMissing, "altool", "no password environment variable configured")
	}
	if c.cfg.Password == "" {
		return failure.Errorf(failure.CredentialMissing, "altool", "%s is not set", c.cfg.PasswordEnv)
	}
	return nil
}

func (c *Client) command(args ...string) runner.Command {
	args = append([]string{"altool"}, args...)
	if strings.EqualFold(c.cfg.OutputFormat, "xml") {
		args = append(args, "--output-format", "xml")
	}
	cmd := runner.Command{
		Name:      c.cfg.Tool,
		Args:      args,
		Sensitive: []string{c.cfg.Username, c.cfg.Password},
		Env:       map[string]string{c.cfg.PasswordEnv: c.cfg.Password},
	}
	return cmd
}

func (c *Client) passwordRef() string {
	return "@env:" + c.cfg.PasswordEnv
}

// Submit uploads pkgPath for notarization and returns the request UUID.
func (c *Client) Submit(ctx context.Context, pkgPath string) (string, error) {
	if err := c.checkCredentials(); err != nil {
		return "", err
	}
	if strings.TrimSpace(c.cfg.BundleID) == "" {
		return "", fmt.Errorf("no primary bundle id configured")
	}

	cmd := c.command(
		"--notarize-app",
		"--primary-bundle-id", c.cfg.BundleID,
		"--username", c.cfg.Username,
		"--password", c.passwordRef(),
		"--file", pkgPath,
	)
	c.log.Printf("notarize: uploading %s bundle_id=%s", pkgPath, c.cfg.BundleID)

	result, err := c.runner.Run(ctx, cmd)
	if out := strings.TrimSpace(result.Output()); out != "" {
		c.log.Printf("notarize: %s", out)
	}
	if err != nil {
		return "", fmt.Errorf("failed to submit %s: %w", pkgPath, err)
	}

	id, err := ParseRequestID(result.Stdout)
	if err != nil {
		return "", err
	}
	c.log.Printf("notarize: submitted request=%s", id)
	return id, nil
}

// Status queries the state of request id once.
func (c *Client) Status(ctx context.Context, id string) (*StatusReport, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}

	cmd := c.command(
		"--notarization-info", id,
		"-u", c.cfg.Username,
		"-p", c.passwordRef(),
	)
	result, err := c.runner.Run(ctx, cmd)
	if out := strings.TrimSpace(result.Output()); out != "" {
		c.log.Printf("notarize: %s", out)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query request %s: %w", id, err)
	}
	return ParseStatusReport(result.Stdout)
}

package release

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aluedeke/go-notarize/pkg/failure"
	"github.com/aluedeke/go-notarize/pkg/notarize"
)

// Environment variables that override configured identities.
const (
	EnvApplicationIdentity = "MACOS_APPLICATION_SIGNING_IDENTITY"
	EnvInstallerIdentity   = "MACOS_INSTALLER_SIGNING_IDENTITY"
)

// Artifact is a bundle or executable signed before packaging.
type Artifact struct {
	Path string
	// Deep signs nested code too; used for application bundles.
	Deep bool
}

// Tools names the external binaries the pipeline runs.
type Tools struct {
	Codesign      string
	Packagesbuild string
	Productsign   string
	Pkgutil       string
	Xcrun         string
}

// Config is the complete, immutable description of a release run.
type Config struct {
	ApplicationIdentity string
	InstallerIdentity   string
	// Inspect parses each signed binary and checks runtime, timestamp
	// and signer.
	Inspect bool
	// ApplicationBundle and InstallerBundle optionally name PKCS#12
	// exports of the identities, checked before any tool runs.
	ApplicationBundle string
	InstallerBundle   string
	BundlePassword    string

	Artifacts []Artifact

	Project       string
	BuiltPackage  string
	SignedPackage string

	BundleID     string
	UsernameEnv  string
	PasswordEnv  string
	Username     string
	Password     string
	OutputFormat string
	SettleDelay  time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	RetryInvalid bool

	Tools Tools
}

// DefaultConfig returns the RDMnet release layout.
func DefaultConfig() *Config {
	return &Config{
		ApplicationIdentity: "Developer ID Application: Electronic Theatre Controls, Inc. (8AVSFD7ZED)",
		InstallerIdentity:   "Developer ID Installer: Electronic Theatre Controls, Inc. (8AVSFD7ZED)",
		Inspect:             true,
		Artifacts: []Artifact{
			{Path: "build/install/RDMnet Controller Example.app", Deep: true},
			{Path: "build/install/bin/rdmnet_broker_example"},
			{Path: "build/install/bin/rdmnet_device_example"},
			{Path: "build/install/bin/llrp_manager_example"},
		},
		Project:       "tools/install/macos/RDMnet.pkgproj",
		BuiltPackage:  "tools/install/macos/build/RDMnet.pkg",
		SignedPackage: "RDMnet.pkg",
		BundleID:      "com.etcconnect.pkg.RDMnet",
		UsernameEnv:   "RDMNET_APPLE_DEVELOPER_ID_USER",
		PasswordEnv:   "RDMNET_APPLE_DEVELOPER_ID_PW",
		SettleDelay:   notarize.DefaultSettleDelay,
		PollInterval:  notarize.DefaultInterval,
		MaxAttempts:   notarize.DefaultMaxAttempts,
		Tools: Tools{
			Codesign:      "codesign",
			Packagesbuild: "packagesbuild",
			Productsign:   "productsign",
			Pkgutil:       "pkgutil",
			Xcrun:         "xcrun",
		},
	}
}

// yamlConfig represents the raw YAML structure
type yamlConfig struct {
	Signing      yamlSigning      `yaml:"signing"`
	Artifacts    []yamlArtifact   `yaml:"artifacts"`
	Package      yamlPackage      `yaml:"package"`
	Notarization yamlNotarization `yaml:"notarization"`
	Tools        yamlTools        `yaml:"tools"`
}

type yamlSigning struct {
	ApplicationIdentity string `yaml:"application_identity"`
	InstallerIdentity   string `yaml:"installer_identity"`
	Inspect             *bool  `yaml:"inspect"`
	ApplicationBundle   string `yaml:"application_bundle"`
	InstallerBundle     string `yaml:"installer_bundle"`
	BundlePasswordEnv   string `yaml:"bundle_password_env"`
}

type yamlArtifact struct {
	Path string `yaml:"path"`
	Deep bool   `yaml:"deep"`
}

type yamlPackage struct {
	Project string `yaml:"project"`
	Built   string `yaml:"built"`
	Output  string `yaml:"output"`
}

type yamlNotarization struct {
	BundleID     string        `yaml:"bundle_id"`
	UsernameEnv  string        `yaml:"username_env"`
	PasswordEnv  string        `yaml:"password_env"`
	OutputFormat string        `yaml:"output_format"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	Interval     time.Duration `yaml:"interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryInvalid bool          `yaml:"retry_invalid"`
}

type yamlTools struct {
	Codesign      string `yaml:"codesign"`
	Packagesbuild string `yaml:"packagesbuild"`
	Productsign   string `yaml:"productsign"`
	Pkgutil       string `yaml:"pkgutil"`
	Xcrun         string `yaml:"xcrun"`
}

// LoadConfig reads path (optional) over the defaults and resolves
// identities and credentials from getenv.
func LoadConfig(path string, getenv func(string) string) (*Config, error) {
	var data []byte
	if path != "" {
		//nolint:gosec // G304: path is the release config named on the command line
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		data = b
	}
	return ParseConfig(data, getenv)
}

// ParseConfig parses YAML config bytes over the defaults.
func ParseConfig(data []byte, getenv func(string) string) (*Config, error) {
	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := DefaultConfig()
	applySigning(cfg, raw.Signing)
	if len(raw.Artifacts) > 0 {
		cfg.Artifacts = convertArtifacts(raw.Artifacts)
	}
	setString(&cfg.Project, raw.Package.Project)
	setString(&cfg.BuiltPackage, raw.Package.Built)
	setString(&cfg.SignedPackage, raw.Package.Output)
	applyNotarization(cfg, raw.Notarization)
	applyTools(&cfg.Tools, raw.Tools)

	if getenv == nil {
		getenv = os.Getenv
	}
	setString(&cfg.ApplicationIdentity, getenv(EnvApplicationIdentity))
	setString(&cfg.InstallerIdentity, getenv(EnvInstallerIdentity))
	cfg.Username = getenv(cfg.UsernameEnv)
	cfg.Password = getenv(cfg.PasswordEnv)
	if raw.Signing.BundlePasswordEnv != "" {
		cfg.BundlePassword = getenv(raw.Signing.BundlePasswordEnv)
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applySigning(cfg *Config, s yamlSigning) {
	setString(&cfg.ApplicationIdentity, s.ApplicationIdentity)
	setString(&cfg.InstallerIdentity, s.InstallerIdentity)
	if s.Inspect != nil {
		cfg.Inspect = *s.Inspect
	}
	cfg.ApplicationBundle = s.ApplicationBundle
	cfg.InstallerBundle = s.InstallerBundle
}

func convertArtifacts(in []yamlArtifact) []Artifact {
	out := make([]Artifact, 0, len(in))
	for _, a := range in {
		out = append(out, Artifact{Path: a.Path, Deep: a.Deep})
	}
	return out
}

func applyNotarization(cfg *Config, n yamlNotarization) {
	setString(&cfg.BundleID, n.BundleID)
	setString(&cfg.UsernameEnv, n.UsernameEnv)
	setString(&cfg.PasswordEnv, n.PasswordEnv)
	setString(&cfg.OutputFormat, n.OutputFormat)
	if n.SettleDelay > 0 {
		cfg.SettleDelay = n.SettleDelay
	}
	if n.Interval > 0 {
		cfg.PollInterval = n.Interval
	}
	if n.MaxAttempts > 0 {
		cfg.MaxAttempts = n.MaxAttempts
	}
	cfg.RetryInvalid = n.RetryInvalid
}

func applyTools(t *Tools, y yamlTools) {
	setString(&t.Codesign, y.Codesign)
	setString(&t.Packagesbuild, y.Packagesbuild)
	setString(&t.Productsign, y.Productsign)
	setString(&t.Pkgutil, y.Pkgutil)
	setString(&t.Xcrun, y.Xcrun)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// check validates the shape of the config. Missing credentials are left
// to Validate so standalone commands that do not need them still work.
func (c *Config) check() error {
	if len(c.Artifacts) == 0 {
		return fmt.Errorf("config must list at least one artifact")
	}
	for i, a := range c.Artifacts {
		if strings.TrimSpace(a.Path) == "" {
			return fmt.Errorf("artifact %d has no path", i+1)
		}
	}
	if c.Project == "" {
		return fmt.Errorf("config must name a package project")
	}
	if c.SignedPackage == "" {
		return fmt.Errorf("config must name a signed package output")
	}
	switch strings.ToLower(c.OutputFormat) {
	case "", "text", "xml":
	default:
		return fmt.Errorf("unsupported notarization output_format %q", c.OutputFormat)
	}
	return nil
}

// Validate reports missing identities or credentials before any external
// call is made.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ApplicationIdentity) == "" {
		missing = append(missing, "application signing identity")
	}
	if strings.TrimSpace(c.InstallerIdentity) == "" {
		missing = append(missing, "installer signing identity")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, c.UsernameEnv)
	}
	if c.Password == "" {
		missing = append(missing, c.PasswordEnv)
	}
	if len(missing) > 0 {
		return failure.Errorf(failure.CredentialMissing, "config", "couldn't get credentials to notarize application: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// CheckArtifacts verifies every artifact exists.
func (c *Config) CheckArtifacts() error {
	for _, a := range c.Artifacts {
		if _, err := os.Stat(a.Path); err != nil {
			return fmt.Errorf("artifact %s: %w", a.Path, err)
		}
	}
	return nil
}

// PollerConfig returns the poll schedule for the notarization client.
func (c *Config) PollerConfig() notarize.PollerConfig {
	return notarize.PollerConfig{
		SettleDelay:  c.SettleDelay,
		Interval:     c.PollInterval,
		MaxAttempts:  c.MaxAttempts,
		RetryInvalid: c.RetryInvalid,
	}
}

package release

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil, envMap(map[string]string{
		"RDMNET_APPLE_DEVELOPER_ID_USER": "dev@example.com",
		"RDMNET_APPLE_DEVELOPER_ID_PW":   "secret",
	}))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.ApplicationIdentity != "Developer ID Application: Electronic Theatre Controls, Inc. (8AVSFD7ZED)" {
		t.Errorf("ApplicationIdentity = %q", cfg.ApplicationIdentity)
	}
	if len(cfg.Artifacts) != 4 {
		t.Fatalf("Artifacts = %d, want 4", len(cfg.Artifacts))
	}
	for i, a := range cfg.Artifacts {
		if a.Deep != (i == 0) {
			t.Errorf("artifact %s deep = %v", a.Path, a.Deep)
		}
	}
	if cfg.BundleID != "com.etcconnect.pkg.RDMnet" || cfg.SignedPackage != "RDMnet.pkg" {
		t.Errorf("package settings = %q %q", cfg.BundleID, cfg.SignedPackage)
	}
	if cfg.SettleDelay != 5*time.Second || cfg.PollInterval != 30*time.Second || cfg.MaxAttempts != 40 {
		t.Errorf("poll schedule = %v %v %d", cfg.SettleDelay, cfg.PollInterval, cfg.MaxAttempts)
	}
	if !cfg.Inspect || cfg.RetryInvalid {
		t.Errorf("Inspect=%v RetryInvalid=%v", cfg.Inspect, cfg.RetryInvalid)
	}
	if cfg.Username != "dev@example.com" || cfg.Password != "secret" {
		t.Errorf("credentials not resolved: %q", cfg.Username)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "release.yml"), envMap(map[string]string{
		"EXAMPLE_NOTARY_USER":                "ci@example.com",
		"EXAMPLE_NOTARY_PW":                  "pw",
		"RDMNET_APPLE_DEVELOPER_ID_USER":     "ignored@example.com",
		"MACOS_INSTALLER_SIGNING_IDENTITY":   "Developer ID Installer: Override (ZZZZZ99999)",
		"MACOS_APPLICATION_SIGNING_IDENTITY": "",
	}))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.ApplicationIdentity != "Developer ID Application: Example Corp (ABCDE12345)" {
		t.Errorf("ApplicationIdentity = %q", cfg.ApplicationIdentity)
	}
	if cfg.InstallerIdentity != "Developer ID Installer: Override (ZZZZZ99999)" {
		t.Errorf("InstallerIdentity = %q, want environment override", cfg.InstallerIdentity)
	}
	if cfg.Inspect {
		t.Error("inspect: false not applied")
	}

	wantArtifacts := []Artifact{
		{Path: "build/install/Example.app", Deep: true},
		{Path: "build/install/bin/example_tool"},
	}
	if !reflect.DeepEqual(cfg.Artifacts, wantArtifacts) {
		t.Errorf("Artifacts = %+v", cfg.Artifacts)
	}
	if cfg.Project != "installer/Example.pkgproj" || cfg.BuiltPackage != "installer/build/Example.pkg" || cfg.SignedPackage != "dist/Example.pkg" {
		t.Errorf("package = %q %q %q", cfg.Project, cfg.BuiltPackage, cfg.SignedPackage)
	}
	if cfg.Username != "ci@example.com" || cfg.Password != "pw" {
		t.Errorf("credentials = %q", cfg.Username)
	}
	if cfg.OutputFormat != "xml" || !cfg.RetryInvalid {
		t.Errorf("OutputFormat=%q RetryInvalid=%v", cfg.OutputFormat, cfg.RetryInvalid)
	}
	if cfg.SettleDelay != 10*time.Second || cfg.PollInterval != time.Minute || cfg.MaxAttempts != 60 {
		t.Errorf("poll schedule = %v %v %d", cfg.SettleDelay, cfg.PollInterval, cfg.MaxAttempts)
	}
	if cfg.Tools.Xcrun != "/usr/bin/xcrun" || cfg.Tools.Codesign != "codesign" {
		t.Errorf("Tools = %+v", cfg.Tools)
	}

	poll := cfg.PollerConfig()
	if poll.Interval != time.Minute || poll.MaxAttempts != 60 || !poll.RetryInvalid {
		t.Errorf("PollerConfig() = %+v", poll)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"invalid yaml", "signing: [", "failed to parse YAML"},
		{"empty artifact path", "artifacts:\n  - deep: true\n", "has no path"},
		{"bad output format", "notarization:\n  output_format: json\n", "output_format"},
		{"bad duration", "notarization:\n  interval: soon\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml), envMap(nil))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseConfig() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.yml"), envMap(nil)); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestConfigValidate_MissingCredentials(t *testing.T) {
	cfg, err := ParseConfig(nil, envMap(map[string]string{"RDMNET_APPLE_DEVELOPER_ID_USER": "dev@example.com"}))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	err = cfg.Validate()
	if !errors.Is(err, failure.ErrCredentialMissing) {
		t.Fatalf("Validate() error = %v, want credential failure", err)
	}
	if !strings.Contains(err.Error(), "RDMNET_APPLE_DEVELOPER_ID_PW") {
		t.Errorf("error %q does not name the missing variable", err)
	}
	if strings.Contains(err.Error(), "RDMNET_APPLE_DEVELOPER_ID_USER") {
		t.Errorf("error %q names a variable that is set", err)
	}

	cfg.Password = "pw"
	cfg.InstallerIdentity = " "
	if err := cfg.Validate(); !errors.Is(err, failure.ErrCredentialMissing) || !strings.Contains(err.Error(), "installer") {
		t.Errorf("Validate() error = %v, want missing installer identity", err)
	}
}

func TestConfigCheckArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Artifacts = []Artifact{{Path: writeFile(t, dir, "tool")}, {Path: filepath.Join(dir, "missing")}}

	err := cfg.CheckArtifacts()
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("CheckArtifacts() error = %v", err)
	}

	cfg.Artifacts = cfg.Artifacts[:1]
	if err := cfg.CheckArtifacts(); err != nil {
		t.Errorf("CheckArtifacts() error = %v", err)
	}
}

package codesign

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

func TestParseSuperBlob_CodeDirectoryAndSigner(t *testing.T) {
	cert, key := newTestCertificate(t, testSignerCN, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	sig := buildSuperBlob(
		testBlob{CSSLOT_CODEDIRECTORY, buildCodeDirectory("rdmnet_broker_example", "ABCDE12345", CS_RUNTIME)},
		testBlob{CSSLOT_SIGNATURESLOT, buildCMSBlob(t, cert, key)},
	)

	info, err := ParseSuperBlob(sig)
	if err != nil {
		t.Fatalf("ParseSuperBlob() error = %v", err)
	}

	if info.BlobCount != 2 {
		t.Errorf("BlobCount = %d, want 2", info.BlobCount)
	}
	if len(info.CodeDirs) != 1 {
		t.Fatalf("CodeDirs = %d, want 1", len(info.CodeDirs))
	}
	cd := info.CodeDirs[0]
	if cd.Identifier != "rdmnet_broker_example" {
		t.Errorf("Identifier = %q", cd.Identifier)
	}
	if cd.TeamID != "ABCDE12345" {
		t.Errorf("TeamID = %q", cd.TeamID)
	}
	if !info.HardenedRuntime() {
		t.Error("expected hardened runtime flag to be detected")
	}
	if info.CMS.SignerCN != testSignerCN {
		t.Errorf("SignerCN = %q, want %q", info.CMS.SignerCN, testSignerCN)
	}
	if info.CMS.SignerTeamID != "ABCDE12345" {
		t.Errorf("SignerTeamID = %q", info.CMS.SignerTeamID)
	}
	if info.CMS.Timestamped {
		t.Error("signature without timeStampToken reported as timestamped")
	}
}

func TestParseSuperBlob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0xfa, 0xde}},
		{"wrong magic", bytes.Repeat([]byte{0}, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSuperBlob(tt.data); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseSuperBlob_AdhocSignature(t *testing.T) {
	sig := buildSuperBlob(
		testBlob{CSSLOT_CODEDIRECTORY, buildCodeDirectory("tool", "", CS_ADHOC)},
	)

	info, err := ParseSuperBlob(sig)
	if err != nil {
		t.Fatalf("ParseSuperBlob() error = %v", err)
	}
	if info.HardenedRuntime() {
		t.Error("ad-hoc signature without runtime flag reported hardened")
	}
	if info.CMS.SignerCN != "" {
		t.Errorf("SignerCN = %q, want empty", info.CMS.SignerCN)
	}
}

func TestSignatureInfoCheck(t *testing.T) {
	good := func() *SignatureInfo {
		return &SignatureInfo{
			BinaryPath: "bin/tool",
			Arch:       "arm64",
			CodeDirs:   []CodeDirectoryInfo{{Flags: CS_RUNTIME, Identifier: "tool"}},
			CMS:        CMSInfo{Size: 9000, SignerCN: testSignerCN, SignerTeamID: "ABCDE12345", Timestamped: true},
		}
	}

	tests := []struct {
		name     string
		mutate   func(*SignatureInfo)
		identity string
		wantErr  string
	}{
		{"valid", func(*SignatureInfo) {}, testSignerCN, ""},
		{"identity substring", func(*SignatureInfo) {}, "Example Corp", ""},
		{"sha1 identity skips CN match", func(*SignatureInfo) {}, strings.Repeat("AB", 20), ""},
		{"no runtime", func(i *SignatureInfo) { i.CodeDirs[0].Flags = 0 }, testSignerCN, "hardened runtime"},
		{"no timestamp", func(i *SignatureInfo) { i.CMS.Timestamped = false }, testSignerCN, "timestamp"},
		{"wrong signer", func(*SignatureInfo) {}, "Developer ID Application: Someone Else", "expected"},
		{"wrong team", func(i *SignatureInfo) { i.CMS.SignerTeamID = "ZZZZZ99999" }, testSignerCN, "signer team"},
		{"team not checked without suffix", func(i *SignatureInfo) { i.CMS.SignerTeamID = "" }, "Example Corp", ""},
		{"adhoc", func(i *SignatureInfo) { i.CMS = CMSInfo{} }, testSignerCN, "ad-hoc"},
		{"no code directory", func(i *SignatureInfo) { i.CodeDirs = nil }, testSignerCN, "no CodeDirectory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := good()
			tt.mutate(info)
			err := info.Check(tt.identity)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Check() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Check() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, failure.ErrVerification) {
				t.Errorf("error %v is not a verification failure", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFindCodeSignatureOffset(t *testing.T) {
	sig := buildSuperBlob(testBlob{CSSLOT_CODEDIRECTORY, buildCodeDirectory("tool", "", CS_RUNTIME)})
	data := buildThinMachO(sig)

	offset, size, found := findCodeSignatureOffset(data)
	if !found {
		t.Fatal("LC_CODE_SIGNATURE not found")
	}
	if offset != 48 || size != uint32(len(sig)) {
		t.Errorf("offset=%d size=%d, want 48/%d", offset, size, len(sig))
	}

	if _, _, found := findCodeSignatureOffset([]byte("#!/bin/sh\necho not a binary at all\n")); found {
		t.Error("found a signature in a shell script")
	}
}

func TestParseSliceSignature(t *testing.T) {
	sig := buildSuperBlob(testBlob{CSSLOT_CODEDIRECTORY, buildCodeDirectory("tool", "", CS_RUNTIME)})

	info, err := parseSliceSignature(buildThinMachO(sig))
	if err != nil {
		t.Fatalf("parseSliceSignature() error = %v", err)
	}
	if info.Identifier() != "tool" {
		t.Errorf("Identifier() = %q", info.Identifier())
	}
}

func TestBlankSignature(t *testing.T) {
	sig := buildSuperBlob(testBlob{CSSLOT_CODEDIRECTORY, buildCodeDirectory("tool", "", CS_RUNTIME)})
	data := buildThinMachO(sig)

	blanked := blankSignature(data)
	if !bytes.Equal(blanked[:48], data[:48]) {
		t.Error("header was modified")
	}
	if !bytes.Equal(blanked[48:], make([]byte, len(sig))) {
		t.Error("signature bytes were not zeroed")
	}
	if bytes.Equal(data[48:], make([]byte, len(sig))) {
		t.Error("input slice was modified")
	}
}

func TestParseSignatures_NotMachO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := ParseSignatures(path); err == nil {
		t.Error("expected an error for a non Mach-O file")
	}
}

func TestPrintSignatureInfo(t *testing.T) {
	info := &SignatureInfo{
		BinaryPath: "bin/tool",
		Arch:       "arm64",
		CodeDirs:   []CodeDirectoryInfo{{Version: 0x20400, Flags: CS_RUNTIME, Identifier: "tool", TeamID: "ABCDE12345"}},
		CMS:        CMSInfo{SignerCN: testSignerCN, Timestamped: true},
	}

	var buf bytes.Buffer
	PrintSignatureInfo(info, &buf)
	out := buf.String()

	for _, want := range []string{"bin/tool [arm64]", "Identifier: tool", "runtime=true", "team=ABCDE12345", testSignerCN, "Timestamp:  true"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

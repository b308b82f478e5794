package codesign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

const testSignerCN = "Developer ID Application: Example Corp (ABCDE12345)"

// newTestCertificate creates a self-signed certificate shaped like a
// Developer ID certificate.
func newTestCertificate(t *testing.T, cn string, notBefore, notAfter time.Time) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:         cn,
			OrganizationalUnit: []string{"ABCDE12345"},
			Organization:       []string{"Example Corp"},
		},
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert, key
}

// buildCodeDirectory builds a minimal CodeDirectory blob (version 0x20400).
func buildCodeDirectory(identifier, teamID string, flags uint32) []byte {
	const headerLen = 88
	identOffset := uint32(headerLen)
	teamOffset := identOffset + uint32(len(identifier)) + 1
	length := teamOffset + uint32(len(teamID)) + 1

	cd := make([]byte, length)
	binary.BigEndian.PutUint32(cd[0:], CSMAGIC_CODEDIRECTORY)
	binary.BigEndian.PutUint32(cd[4:], length)
	binary.BigEndian.PutUint32(cd[8:], 0x20400)
	binary.BigEndian.PutUint32(cd[12:], flags)
	binary.BigEndian.PutUint32(cd[16:], length) // hashOffset, no slots
	binary.BigEndian.PutUint32(cd[20:], identOffset)
	cd[36] = 32 // hash size
	cd[37] = 2  // SHA-256
	cd[39] = 12 // page size 4096
	binary.BigEndian.PutUint32(cd[48:], teamOffset)
	copy(cd[identOffset:], identifier)
	copy(cd[teamOffset:], teamID)
	return cd
}

// buildCMSBlob signs content with cert/key and wraps the result in a
// CSMAGIC_BLOBWRAPPER blob.
func buildCMSBlob(t *testing.T, cert *x509.Certificate, key *rsa.PrivateKey) []byte {
	t.Helper()

	sd, err := pkcs7.NewSignedData([]byte("code directory"))
	if err != nil {
		t.Fatalf("Failed to create signed data: %v", err)
	}
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("Failed to add signer: %v", err)
	}
	sd.Detach()
	der, err := sd.Finish()
	if err != nil {
		t.Fatalf("Failed to finish signed data: %v", err)
	}

	blob := make([]byte, 8+len(der))
	binary.BigEndian.PutUint32(blob[0:], CSMAGIC_BLOBWRAPPER)
	binary.BigEndian.PutUint32(blob[4:], uint32(len(blob)))
	copy(blob[8:], der)
	return blob
}

type testBlob struct {
	slot uint32
	data []byte
}

// buildSuperBlob assembles blobs into an embedded signature SuperBlob.
func buildSuperBlob(blobs ...testBlob) []byte {
	headerLen := 12 + 8*len(blobs)
	total := headerLen
	for _, b := range blobs {
		total += len(b.data)
	}

	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:], CSMAGIC_EMBEDDED_SIGNATURE)
	binary.BigEndian.PutUint32(out[4:], uint32(total))
	binary.BigEndian.PutUint32(out[8:], uint32(len(blobs)))

	offset := headerLen
	for i, b := range blobs {
		binary.BigEndian.PutUint32(out[12+i*8:], b.slot)
		binary.BigEndian.PutUint32(out[16+i*8:], uint32(offset))
		copy(out[offset:], b.data)
		offset += len(b.data)
	}
	return out
}

// buildThinMachO returns a 64-bit Mach-O header with a single
// LC_CODE_SIGNATURE command pointing at sig, followed by sig.
func buildThinMachO(sig []byte) []byte {
	const headerLen = 32
	const cmdLen = 16
	sigOffset := uint32(headerLen + cmdLen)

	out := make([]byte, int(sigOffset)+len(sig))
	binary.LittleEndian.PutUint32(out[0:], 0xfeedfacf)
	binary.LittleEndian.PutUint32(out[4:], 0x0100000c) // arm64
	binary.LittleEndian.PutUint32(out[12:], 2)         // MH_EXECUTE
	binary.LittleEndian.PutUint32(out[16:], 1)         // ncmds
	binary.LittleEndian.PutUint32(out[20:], cmdLen)    // sizeofcmds
	binary.LittleEndian.PutUint32(out[32:], LC_CODE_SIGNATURE)
	binary.LittleEndian.PutUint32(out[36:], cmdLen)
	binary.LittleEndian.PutUint32(out[40:], sigOffset)
	binary.LittleEndian.PutUint32(out[44:], uint32(len(sig)))
	copy(out[sigOffset:], sig)
	return out
}

// writeAppBundle creates a macOS-style .app bundle with the given Info.plist.
func writeAppBundle(t *testing.T, dir, name string, info map[string]interface{}, executable []byte) string {
	t.Helper()

	appPath := filepath.Join(dir, name)
	macosDir := filepath.Join(appPath, "Contents", "MacOS")
	if err := os.MkdirAll(macosDir, 0755); err != nil {
		t.Fatalf("Failed to create bundle: %v", err)
	}

	data, err := plist.MarshalIndent(info, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatalf("Failed to marshal Info.plist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appPath, "Contents", "Info.plist"), data, 0644); err != nil {
		t.Fatalf("Failed to write Info.plist: %v", err)
	}

	if execName, ok := info["CFBundleExecutable"].(string); ok && executable != nil {
		//nolint:gosec // G306: test executable
		if err := os.WriteFile(filepath.Join(macosDir, execName), executable, 0755); err != nil {
			t.Fatalf("Failed to write executable: %v", err)
		}
	}
	return appPath
}

package codesign

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	gop12 "software.sslmate.com/src/go-pkcs12"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

// IdentityBundle describes the certificate exported alongside a keychain
// identity as a PKCS#12 file.
type IdentityBundle struct {
	Certificate *x509.Certificate
	TeamID      string
}

var identityTeam = regexp.MustCompile(`\(([0-9A-Z]{10})\)\s*$`)

// IdentityTeamID returns the team identifier in parentheses at the end of
// an identity name such as "Developer ID Application: Name (TEAMID)", or
// "" when there is none.
func IdentityTeamID(identity string) string {
	if m := identityTeam.FindStringSubmatch(identity); m != nil {
		return m[1]
	}
	return ""
}

// LoadIdentityBundle decodes a PKCS#12 file and returns its certificates.
// The private key is discarded: signing itself happens in the keychain.
func LoadIdentityBundle(p12Data []byte, password string) (*IdentityBundle, error) {
	_, cert, _, err := gop12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode P12: %w", err)
	}

	return &IdentityBundle{
		Certificate: cert,
		TeamID:      extractTeamID(cert),
	}, nil
}

// CheckIdentity verifies the bundle's certificate belongs to identity and
// is valid at now. Identities given as a SHA-1 hash are matched against
// the certificate fingerprint instead of its common name.
func (b *IdentityBundle) CheckIdentity(identity string, now time.Time) error {
	cert := b.Certificate
	if sha1Identity.MatchString(identity) {
		if !strings.EqualFold(certificateSHA1(cert), identity) {
			return failure.Errorf(failure.CredentialMissing, "identity", "certificate %q does not have fingerprint %s", cert.Subject.CommonName, identity)
		}
	} else if !strings.Contains(cert.Subject.CommonName, identity) {
		return failure.Errorf(failure.CredentialMissing, "identity", "certificate %q does not match identity %q", cert.Subject.CommonName, identity)
	}
	if team := IdentityTeamID(identity); team != "" && b.TeamID != team {
		return failure.Errorf(failure.CredentialMissing, "identity", "certificate %q belongs to team %q, identity names team %s", cert.Subject.CommonName, b.TeamID, team)
	}

	if now.Before(cert.NotBefore) {
		return failure.Errorf(failure.CredentialMissing, "identity", "certificate %q is not valid before %s", cert.Subject.CommonName, cert.NotBefore.Format("2006-01-02"))
	}
	if now.After(cert.NotAfter) {
		return failure.Errorf(failure.CredentialMissing, "identity", "certificate %q expired on %s", cert.Subject.CommonName, cert.NotAfter.Format("2006-01-02"))
	}
	return nil
}

// extractTeamID returns the Apple team identifier from the certificate's OU.
func extractTeamID(cert *x509.Certificate) string {
	if len(cert.Subject.OrganizationalUnit) > 0 {
		return cert.Subject.OrganizationalUnit[0]
	}
	return ""
}

func certificateSHA1(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

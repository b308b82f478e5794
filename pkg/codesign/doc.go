// Package codesign signs macOS binaries and bundles with Apple's codesign
// tool and inspects the resulting signatures.
//
// Signing is delegated to codesign so that identities stay in the
// keychain. After signing, the embedded signature can be parsed natively
// to confirm it is fit for notarization:
//
//	signer := codesign.NewSigner(runner.NewExec(), codesign.SignerConfig{Inspect: true})
//	err := signer.Sign(ctx, "build/install/bin/tool", identity, false)
//
// # Checks
//
//   - Hardened runtime: every CodeDirectory carries CS_RUNTIME
//   - Secure timestamp: the CMS signer has a timeStampToken attribute
//   - Signer: the CMS signing certificate matches the requested identity
package codesign

// Package pkgbuild builds, signs and verifies macOS installer packages.
//
// Builder runs packagesbuild on a Packages (.pkgproj) project and locates
// the produced package. ProductSigner signs it into a separate file with
// productsign and checks the result with pkgutil --check-signature.
package pkgbuild

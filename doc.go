// Package main provides the go-notarize CLI tool for macOS release signing
// and notarization.
//
// For the library API, see the release subpackage:
//
//	import "github.com/aluedeke/go-notarize/pkg/release"
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/aluedeke/go-notarize@latest
package main

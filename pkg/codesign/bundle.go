package codesign

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// IsBundle reports whether path is a bundle directory (.app, .framework, ...).
func IsBundle(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// bundleLayout returns the Info.plist path and the directory holding the
// main executable. macOS bundles use Contents/, iOS-style bundles are flat.
func bundleLayout(bundlePath string) (infoPlist, execDir string) {
	contents := filepath.Join(bundlePath, "Contents")
	if fileExists(filepath.Join(contents, "Info.plist")) {
		return filepath.Join(contents, "Info.plist"), filepath.Join(contents, "MacOS")
	}
	return filepath.Join(bundlePath, "Info.plist"), bundlePath
}

func readInfoPlist(bundlePath string) (map[string]interface{}, error) {
	infoPlistPath, _ := bundleLayout(bundlePath)
	data, err := os.ReadFile(infoPlistPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}

	var info map[string]interface{}
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	return info, nil
}

// GetBundleID reads CFBundleIdentifier from a bundle's Info.plist
func GetBundleID(bundlePath string) (string, error) {
	info, err := readInfoPlist(bundlePath)
	if err != nil {
		return "", err
	}
	bundleID, ok := info["CFBundleIdentifier"].(string)
	if !ok {
		return "", fmt.Errorf("CFBundleIdentifier not found in Info.plist")
	}
	return bundleID, nil
}

// BundleExecutable returns the path of a bundle's main executable, as
// named by CFBundleExecutable.
func BundleExecutable(bundlePath string) (string, error) {
	info, err := readInfoPlist(bundlePath)
	if err != nil {
		return "", err
	}

	execName, ok := info["CFBundleExecutable"].(string)
	if !ok || strings.TrimSpace(execName) == "" {
		return "", fmt.Errorf("CFBundleExecutable not found in Info.plist")
	}

	_, execDir := bundleLayout(bundlePath)
	execPath := filepath.Join(execDir, execName)
	if !fileExists(execPath) {
		return "", fmt.Errorf("bundle executable %s does not exist", execPath)
	}
	return execPath, nil
}

// InspectPath parses the code signature of a binary, or of a bundle's
// main executable when path is a bundle.
func InspectPath(path string) ([]*SignatureInfo, error) {
	binaryPath := path
	if IsBundle(path) {
		execPath, err := BundleExecutable(path)
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable of %s: %w", path, err)
		}
		binaryPath = execPath
	}
	return ParseSignatures(binaryPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package pkgbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// Path types used by Packages for BUILD_PATH.
const (
	PathTypeAbsolute          = 0
	PathTypeRelativeToProject = 1
	PathTypeRelativeToRef     = 3
)

// Project holds the parts of a Packages .pkgproj document needed to find
// the package packagesbuild will produce.
type Project struct {
	Path          string
	Name          string
	BuildPath     string
	BuildPathType int
	ReferencePath string
}

type pkgproj struct {
	Project struct {
		Settings struct {
			Name      string `plist:"NAME"`
			BuildPath struct {
				Path     string `plist:"PATH"`
				PathType int    `plist:"PATH_TYPE"`
			} `plist:"BUILD_PATH"`
			ReferenceFolder string `plist:"REFERENCE_FOLDER_PATH"`
		} `plist:"PROJECT_SETTINGS"`
	} `plist:"PROJECT"`
}

// ReadProject parses a .pkgproj file (XML or binary plist).
func ReadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	return ParseProject(path, data)
}

// ParseProject parses .pkgproj contents; path is used to resolve relative
// build paths.
func ParseProject(path string, data []byte) (*Project, error) {
	var doc pkgproj
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse project %s: %w", path, err)
	}

	settings := doc.Project.Settings
	if strings.TrimSpace(settings.Name) == "" {
		return nil, fmt.Errorf("project %s has no PROJECT_SETTINGS.NAME", path)
	}

	return &Project{
		Path:          path,
		Name:          settings.Name,
		BuildPath:     settings.BuildPath.Path,
		BuildPathType: settings.BuildPath.PathType,
		ReferencePath: settings.ReferenceFolder,
	}, nil
}

// OutputPath returns where packagesbuild writes the package:
// <build path>/<name>.pkg.
func (p *Project) OutputPath() string {
	dir := p.BuildPath
	switch {
	case p.BuildPathType == PathTypeAbsolute && filepath.IsAbs(dir):
		// used as is
	case p.BuildPathType == PathTypeRelativeToRef && p.ReferencePath != "":
		dir = filepath.Join(p.ReferencePath, dir)
	default:
		dir = filepath.Join(filepath.Dir(p.Path), dir)
	}
	return filepath.Join(dir, p.Name+".pkg")
}

package release

import "fmt"

// PackageState is the lifecycle position of the release package. It
// only moves forward.
type PackageState int

const (
	Unsigned PackageState = iota
	Signed
	Notarized
	Stapled
)

func (s PackageState) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case Signed:
		return "signed"
	case Notarized:
		return "notarized"
	case Stapled:
		return "stapled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Package is the installer package produced by a run.
type Package struct {
	BuiltPath  string
	SignedPath string
	State      PackageState
}

func (p *Package) advance(to PackageState) error {
	if to != p.State+1 {
		return fmt.Errorf("package cannot move from %s to %s", p.State, to)
	}
	p.State = to
	return nil
}

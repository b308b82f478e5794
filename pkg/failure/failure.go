// Package failure classifies the fatal conditions of a release run.
//
// Every stage reports errors wrapped in a *Error carrying a Kind, so the
// CLI can pick an exit code and callers can test with errors.Is against
// the sentinels below.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the class of a fatal condition.
type Kind int

const (
	// Unknown is used for errors that were never classified.
	Unknown Kind = iota
	// CredentialMissing means a required secret or identity is not configured.
	CredentialMissing
	// ExternalTool means a wrapped command exited non-zero or could not start.
	ExternalTool
	// ResponseParse means an expected token or line is missing from tool output.
	ResponseParse
	// PollTimeout means the notarization poll budget was exhausted.
	PollTimeout
	// Verification means a signature, package or staple check failed
	// even though the producing tool reported success.
	Verification
	// Rejected means the notarization service returned "invalid".
	Rejected
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	CredentialMissing: "credential missing",
	ExternalTool:      "external tool failure",
	ResponseParse:     "response parse failure",
	PollTimeout:       "poll timeout",
	Verification:      "verification failure",
	Rejected:          "notarization rejected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExitCode returns the process exit status used for this kind.
func (k Kind) ExitCode() int {
	switch k {
	case CredentialMissing:
		return 2
	case ExternalTool:
		return 3
	case ResponseParse:
		return 4
	case PollTimeout:
		return 5
	case Verification:
		return 6
	case Rejected:
		return 7
	default:
		return 1
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrCredentialMissing = &Error{Kind: CredentialMissing}
	ErrExternalTool      = &Error{Kind: ExternalTool}
	ErrResponseParse     = &Error{Kind: ResponseParse}
	ErrPollTimeout       = &Error{Kind: PollTimeout}
	ErrVerification      = &Error{Kind: Verification}
	ErrRejected          = &Error{Kind: Rejected}
)

// Error is a classified fatal error.
type Error struct {
	Kind Kind
	Op   string // the stage or tool that failed, e.g. "codesign"
	Err  error
}

// New returns a classified error for op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// ExitCode returns the exit status for err: 0 for nil, otherwise the
// status of its Kind.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}

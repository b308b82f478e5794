package notarize

import (
	"strings"
	"time"
)

// Status is the state of a notarization request.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in-progress"
	StatusSuccess    Status = "success"
	StatusInvalid    Status = "invalid"
	StatusUnknown    Status = "unknown"
)

// Classify maps the literal status reported by altool to a Status.
// Anything unrecognised is StatusUnknown; callers keep the literal for
// diagnostics.
func Classify(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return StatusSuccess
	case "in progress", "in-progress":
		return StatusInProgress
	case "invalid":
		return StatusInvalid
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusInvalid
}

// Request is a submitted notarization request.
type Request struct {
	ID     string
	Status Status
}

// StatusReport is the parsed result of one status query.
type StatusReport struct {
	Status     Status
	Raw        string
	LogFileURL string
	Output     string
}

// PollAttempt records one status query of the poll loop.
type PollAttempt struct {
	Attempt int
	// Offset is the nominal time since the first query.
	Offset time.Duration
	Raw    string
	Status Status
}

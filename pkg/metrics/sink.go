// Package metrics records release pipeline metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or
// propagate errors.
type Sink interface {
	// StageCompleted records the duration of one pipeline stage and
	// whether it failed.
	StageCompleted(stage string, duration time.Duration, err error)
	// PollAttempt records one notarization status query.
	PollAttempt(status string)
	// RunOutcome records the final result of a pipeline run.
	RunOutcome(outcome string)
}

// Outcome constants for RunOutcome.
const (
	OutcomeSuccess           = "success"
	OutcomeCredentialMissing = "credential_missing"
	OutcomeExternalTool      = "external_tool"
	OutcomeResponseParse     = "response_parse"
	OutcomePollTimeout       = "poll_timeout"
	OutcomeVerification      = "verification"
	OutcomeRejected          = "rejected"
	OutcomeCancelled         = "cancelled"
	OutcomeOtherError        = "other_error"
)

// ClassifyOutcome maps a run error to an outcome label.
func ClassifyOutcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeCancelled
	}
	switch failure.KindOf(err) {
	case failure.CredentialMissing:
		return OutcomeCredentialMissing
	case failure.ExternalTool:
		return OutcomeExternalTool
	case failure.ResponseParse:
		return OutcomeResponseParse
	case failure.PollTimeout:
		return OutcomePollTimeout
	case failure.Verification:
		return OutcomeVerification
	case failure.Rejected:
		return OutcomeRejected
	}
	return OutcomeOtherError
}

package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) StageCompleted(stage string, duration time.Duration, err error) {}
func (n *NoopSink) PollAttempt(status string)                                      {}
func (n *NoopSink) RunOutcome(outcome string)                                      {}

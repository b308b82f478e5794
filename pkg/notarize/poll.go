package notarize

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

// Poll defaults: up to 20 minutes of 30 second checks after a short
// settling delay, during which the service may not know the request yet.
const (
	DefaultSettleDelay = 5 * time.Second
	DefaultInterval    = 30 * time.Second
	DefaultMaxAttempts = 40
)

// StatusChecker queries a notarization request once.
type StatusChecker interface {
	Status(ctx context.Context, id string) (*StatusReport, error)
}

// PollerConfig configures a Poller. Zero durations mean no wait.
type PollerConfig struct {
	SettleDelay time.Duration
	Interval    time.Duration
	MaxAttempts int
	// RetryInvalid keeps polling after an "invalid" status instead of
	// failing immediately.
	RetryInvalid bool
	// OnAttempt is called after every status query.
	OnAttempt func(PollAttempt)
	Logger    *log.Logger
}

// DefaultPollerConfig returns the production poll schedule.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		SettleDelay: DefaultSettleDelay,
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Poller waits for a notarization request to reach a verdict.
type Poller struct {
	checker StatusChecker
	cfg     PollerConfig
	log     *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller over checker.
func NewPoller(checker StatusChecker, cfg PollerConfig) *Poller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Poller{checker: checker, cfg: cfg, log: logger, sleep: sleepContext}
}

// Wait polls request id until it succeeds, is rejected, or the attempt
// budget runs out. It returns every attempt made. There is no wait after
// the last attempt.
func (p *Poller) Wait(ctx context.Context, id string) ([]PollAttempt, error) {
	p.log.Printf("notarize: request=%s status=%s settle=%s", id, StatusSubmitted, p.cfg.SettleDelay)
	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return nil, err
	}

	attempts := make([]PollAttempt, 0, p.cfg.MaxAttempts)
	last := ""
	for i := 0; i < p.cfg.MaxAttempts; i++ {
		offset := time.Duration(i) * p.cfg.Interval
		p.log.Printf("notarize: checking request=%s at %s since upload (attempt %d/%d)",
			id, FormatOffset(offset), i+1, p.cfg.MaxAttempts)

		report, err := p.checker.Status(ctx, id)
		if err != nil {
			return attempts, err
		}

		attempt := PollAttempt{Attempt: i + 1, Offset: offset, Raw: report.Raw, Status: report.Status}
		attempts = append(attempts, attempt)
		if p.cfg.OnAttempt != nil {
			p.cfg.OnAttempt(attempt)
		}
		last = report.Raw
		p.log.Printf("notarize: request=%s status=%q", id, report.Raw)

		switch report.Status {
		case StatusSuccess:
			return attempts, nil
		case StatusInvalid:
			if !p.cfg.RetryInvalid {
				err := failure.Errorf(failure.Rejected, "notarize", "request %s finished with status %q", id, report.Raw)
				if report.LogFileURL != "" {
					err = failure.Errorf(failure.Rejected, "notarize", "request %s finished with status %q, see %s", id, report.Raw, report.LogFileURL)
				}
				return attempts, err
			}
		}

		if i < p.cfg.MaxAttempts-1 {
			if err := p.sleep(ctx, p.cfg.Interval); err != nil {
				return attempts, err
			}
		}
	}

	return attempts, failure.Errorf(failure.PollTimeout, "notarize",
		"unable to obtain confirmation of notarization approval for request %s after %d checks (last status %q)",
		id, len(attempts), last)
}

// FormatOffset renders d as MM:SS.
func FormatOffset(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

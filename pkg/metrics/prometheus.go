package metrics

import (
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	stageDuration      *prometheus.HistogramVec
	stageFailuresTotal *prometheus.CounterVec
	pollAttemptsTotal  *prometheus.CounterVec
	runOutcomesTotal   *prometheus.CounterVec
	lastRunTimestamp   prometheus.Gauge
	lastRunSuccess     prometheus.Gauge

	now func() time.Time
}

// NewPrometheusSink creates a new Prometheus metrics sink registered on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{now: time.Now}

	s.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gonotarize_stage_duration_seconds",
		Help:    "Duration of each release pipeline stage in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage"})
	s.stageFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gonotarize_stage_failures_total",
		Help: "Total number of failed release pipeline stages.",
	}, []string{"stage"})
	s.pollAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gonotarize_poll_attempts_total",
		Help: "Total number of notarization status queries by reported status.",
	}, []string{"status"})
	s.runOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gonotarize_run_outcomes_total",
		Help: "Total number of release runs by outcome.",
	}, []string{"outcome"})
	s.lastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gonotarize_last_run_timestamp_seconds",
		Help: "Unix time the last release run finished.",
	})
	s.lastRunSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gonotarize_last_run_success",
		Help: "1 if the last release run succeeded, 0 otherwise.",
	})

	s.register(reg, s.stageDuration, "gonotarize_stage_duration_seconds")
	s.register(reg, s.stageFailuresTotal, "gonotarize_stage_failures_total")
	s.register(reg, s.pollAttemptsTotal, "gonotarize_poll_attempts_total")
	s.register(reg, s.runOutcomesTotal, "gonotarize_run_outcomes_total")
	s.register(reg, s.lastRunTimestamp, "gonotarize_last_run_timestamp_seconds")
	s.register(reg, s.lastRunSuccess, "gonotarize_last_run_success")
	return s
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) StageCompleted(stage string, duration time.Duration, err error) {
	s.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		s.stageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

func (s *PrometheusSink) PollAttempt(status string) {
	s.pollAttemptsTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) RunOutcome(outcome string) {
	s.runOutcomesTotal.WithLabelValues(outcome).Inc()
	s.lastRunTimestamp.Set(float64(s.now().Unix()))
	if outcome == OutcomeSuccess {
		s.lastRunSuccess.Set(1)
	} else {
		s.lastRunSuccess.Set(0)
	}
}

// WriteTextfile writes everything gathered from g to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

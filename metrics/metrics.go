// Package metrics exposes prometheus instrumentation for the transform plugin.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "grambuild"

// Outcome labels for transform invocations.
const (
	OutcomeAccepted = "accepted"
	OutcomeDeclined = "declined"
	OutcomeFailed   = "failed"
)

// Transform records per-asset transform outcomes and compile latency.
// A nil *Transform is valid and records nothing.
type Transform struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	bytes    prometheus.Counter
}

// NewTransform creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewTransform(reg prometheus.Registerer) *Transform {
	m := &Transform{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "assets_total",
			Help:      "Assets offered to the grammar transform, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "compile_duration_seconds",
			Help:      "Time spent in the external grammar compiler.",
			Buckets:   prometheus.DefBuckets,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "generated_bytes_total",
			Help:      "Bytes of generated module source handed back to the bundler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.duration, m.bytes)
	}
	return m
}

// Outcome increments the counter for outcome.
func (m *Transform) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// Compiled records a successful compilation.
func (m *Transform) Compiled(elapsed time.Duration, generated int) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	m.bytes.Add(float64(generated))
}

// Outcomes returns the counter vector, for tests and reporting.
func (m *Transform) Outcomes() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.outcomes
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for pickup by a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

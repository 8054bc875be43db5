// Package metrics defines Prometheus metrics for the deletion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds metrics for the deletion-and-verification pipeline.
type PipelineMetrics struct {
	// RequestsProcessed counts requests whose group completed a process
	// pass, by deletion type.
	RequestsProcessed *prometheus.CounterVec

	// RequestsVerified counts requests confirmed absent and marked, by
	// deletion type.
	RequestsVerified *prometheus.CounterVec

	// MutationsIssued counts accepted bulk mutations, by table.
	MutationsIssued *prometheus.CounterVec

	// MutationTimeouts counts bulk mutations that timed out store-side
	// and were left in flight, by table.
	MutationTimeouts *prometheus.CounterVec

	// VerificationTimeouts counts custom-predicate verification scans
	// that exceeded the execution ceiling.
	VerificationTimeouts prometheus.Counter

	// MalformedKeys counts requests skipped because their key failed to
	// parse for their deletion type.
	MalformedKeys prometheus.Counter

	// GroupFailures counts process or verify passes that failed for a
	// whole group, by deletion type.
	GroupFailures *prometheus.CounterVec

	// UnverifiedBacklog tracks the number of requests with
	// delete_verified_at unset.
	UnverifiedBacklog prometheus.Gauge
}

// NewPipelineMetrics creates and registers pipeline metrics.
// Uses promauto for automatic registration with the default registry.
func NewPipelineMetrics() *PipelineMetrics {
	return newPipelineMetrics(nil)
}

// NewPipelineMetricsWithRegistry creates pipeline metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewPipelineMetricsWithRegistry(reg prometheus.Registerer) *PipelineMetrics {
	return newPipelineMetrics(reg)
}

func newPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &PipelineMetrics{
		RequestsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "requests_processed_total",
				Help:      "Deletion requests whose group completed a process pass.",
			},
			[]string{"deletion_type"},
		),
		RequestsVerified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "requests_verified_total",
				Help:      "Deletion requests confirmed absent and marked verified.",
			},
			[]string{"deletion_type"},
		),
		MutationsIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "mutations_issued_total",
				Help:      "Bulk row-removal mutations accepted by the columnar store.",
			},
			[]string{"table"},
		),
		MutationTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "mutation_timeouts_total",
				Help:      "Bulk mutations that timed out store-side and remain in flight.",
			},
			[]string{"table"},
		),
		VerificationTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "verification_timeouts_total",
				Help:      "Custom-predicate verification scans that exceeded the execution ceiling.",
			},
		),
		MalformedKeys: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "malformed_keys_total",
				Help:      "Requests skipped because their key failed to parse.",
			},
		),
		GroupFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "group_failures_total",
				Help:      "Process or verify passes that failed for a whole request group.",
			},
			[]string{"deletion_type"},
		),
		UnverifiedBacklog: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scrub",
				Subsystem: "deletion",
				Name:      "unverified_backlog",
				Help:      "Deletion requests with delete_verified_at unset.",
			},
		),
	}
}

// RecordProcessed increments the processed counter for a deletion type.
func (m *PipelineMetrics) RecordProcessed(deletionType string, count int) {
	m.RequestsProcessed.WithLabelValues(deletionType).Add(float64(count))
}

// RecordVerified increments the verified counter for a deletion type.
func (m *PipelineMetrics) RecordVerified(deletionType string, count int) {
	m.RequestsVerified.WithLabelValues(deletionType).Add(float64(count))
}

// RecordMutationIssued increments the issued-mutation counter for a table.
func (m *PipelineMetrics) RecordMutationIssued(table string) {
	m.MutationsIssued.WithLabelValues(table).Inc()
}

// RecordMutationTimeout increments the mutation-timeout counter for a table.
func (m *PipelineMetrics) RecordMutationTimeout(table string) {
	m.MutationTimeouts.WithLabelValues(table).Inc()
}

// RecordVerificationTimeout increments the verification-timeout counter.
func (m *PipelineMetrics) RecordVerificationTimeout() {
	m.VerificationTimeouts.Inc()
}

// RecordMalformedKey increments the malformed-key counter.
func (m *PipelineMetrics) RecordMalformedKey() {
	m.MalformedKeys.Inc()
}

// RecordGroupFailure increments the group-failure counter for a type.
func (m *PipelineMetrics) RecordGroupFailure(deletionType string) {
	m.GroupFailures.WithLabelValues(deletionType).Inc()
}

// RecordUnverifiedBacklog updates the unverified backlog gauge.
func (m *PipelineMetrics) RecordUnverifiedBacklog(count int64) {
	m.UnverifiedBacklog.Set(float64(count))
}

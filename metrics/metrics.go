// Package metrics bundles the Prometheus collectors shared by a harvest run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	IdentifiersTotal  *prometheus.CounterVec
	ReviewPagesTotal  prometheus.Counter
	ReviewsTotal      prometheus.Counter
	SkippedReviews    prometheus.Counter
	ChallengeAttempts *prometheus.CounterVec
	HarvestsWritten   prometheus.Counter
	SinkRejected      *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_requests_total",
			Help: "Total HTTP requests issued by stateless adapters.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_request_duration_seconds",
			Help:    "HTTP request latency for stateless adapters.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)
	identifiers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_identifiers_total",
			Help: "Identifiers processed, by outcome.",
		},
		[]string{"source", "status"},
	)
	reviewPages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_review_pages_total",
			Help: "Review pages traversed.",
		},
	)
	reviews := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_reviews_total",
			Help: "Reviews parsed successfully.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_reviews_skipped_total",
			Help: "Review elements skipped because they could not be parsed.",
		},
	)
	challenges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_challenge_attempts_total",
			Help: "Challenge solve attempts by result.",
		},
		[]string{"result"},
	)

	written := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_sink_written_total",
			Help: "Harvest records handed to the output writers.",
		},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_sink_rejected_total",
			Help: "Harvest records dropped before output, by reason.",
		},
		[]string{"reason"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, identifiers, reviewPages, reviews, skipped, challenges, written, rejected)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		IdentifiersTotal:  identifiers,
		ReviewPagesTotal:  reviewPages,
		ReviewsTotal:      reviews,
		SkippedReviews:    skipped,
		ChallengeAttempts: challenges,
		HarvestsWritten:   written,
		SinkRejected:      rejected,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncIdentifier counts a finished identifier.
func (m *Metrics) IncIdentifier(source, status string) {
	if m == nil {
		return
	}
	m.IdentifiersTotal.WithLabelValues(source, status).Inc()
}

// AddReviewPage counts one traversed page and the reviews parsed from it.
func (m *Metrics) AddReviewPage(parsed, skipped int) {
	if m == nil {
		return
	}
	m.ReviewPagesTotal.Inc()
	m.ReviewsTotal.Add(float64(parsed))
	m.SkippedReviews.Add(float64(skipped))
}

// IncChallenge counts one challenge attempt.
func (m *Metrics) IncChallenge(result string) {
	if m == nil {
		return
	}
	m.ChallengeAttempts.WithLabelValues(result).Inc()
}

// AddWritten counts records accepted by the output writers.
func (m *Metrics) AddWritten(n int) {
	if m == nil {
		return
	}
	m.HarvestsWritten.Add(float64(n))
}

// IncSinkRejected counts one record dropped before output.
func (m *Metrics) IncSinkRejected(reason string) {
	if m == nil {
		return
	}
	m.SinkRejected.WithLabelValues(reason).Inc()
}

// SinkCounts reads the written total and the rejections by reason back from
// the registry.
func (m *Metrics) SinkCounts() (written int, rejected map[string]int) {
	rejected = make(map[string]int)
	if m == nil {
		return 0, rejected
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return 0, rejected
	}
	for _, family := range families {
		switch family.GetName() {
		case "harvest_sink_written_total":
			for _, metric := range family.GetMetric() {
				written += int(metric.GetCounter().GetValue())
			}
		case "harvest_sink_rejected_total":
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "reason" {
						rejected[label.GetValue()] += int(metric.GetCounter().GetValue())
					}
				}
			}
		}
	}
	return written, rejected
}

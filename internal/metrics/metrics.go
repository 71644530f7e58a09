// Package metrics exposes Prometheus collectors for the HTTP surface and the
// entitlement engine. Collectors register on the default registry.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"flui/internal/types"
)

const namespace = "flui"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Entitlement metrics
var (
	AccessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access verdicts by feature and status",
		},
		[]string{"feature", "status"},
	)

	GateEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_events_total",
			Help:      "Gate flow analytics events by type",
		},
		[]string{"type"},
	)

	CreditsPurchasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_purchased_total",
			Help:      "Extra credits added by confirmed purchases",
		},
	)
)

// Background job metrics
var (
	RolloversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_rollovers_total",
			Help:      "Billing cycle rollovers by outcome",
		},
		[]string{"status"},
	)

	RolloverRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_rollover_run_duration_seconds",
			Help:      "Duration of a cycle-roller sweep",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
	)
)

// AccessRecorder implements types.AccessMetrics on the Prometheus counters.
type AccessRecorder struct{}

var _ types.AccessMetrics = AccessRecorder{}

func (AccessRecorder) RecordDecision(_ context.Context, feature types.Feature, status types.AccessStatus) {
	AccessDecisionsTotal.WithLabelValues(string(feature), string(status)).Inc()
}

// CountingPublisher counts gate events before handing them to Next.
type CountingPublisher struct {
	Next types.GateEventPublisher
}

var _ types.GateEventPublisher = CountingPublisher{}

func (p CountingPublisher) PublishGateEvent(ctx context.Context, event types.GateEvent) error {
	GateEventsTotal.WithLabelValues(string(event.Type)).Inc()
	if p.Next == nil {
		return nil
	}
	return p.Next.PublishGateEvent(ctx, event)
}

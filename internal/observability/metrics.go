// Package observability exposes Prometheus metrics for the defense engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dexguard"

// Metrics bundles the engine's Prometheus collectors. A nil *Metrics is safe
// to call: every method no-ops, so wiring stays optional in tests and
// reduced modes.
type Metrics struct {
	registry *prometheus.Registry

	feedEvents      *prometheus.CounterVec
	signalsEmitted  *prometheus.CounterVec
	alertsEmitted   *prometheus.CounterVec
	detectorErrors  *prometheus.CounterVec
	decisionsMade   *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	trackedPools    prometheus.GaugeFunc
	budgetTokens    prometheus.GaugeFunc
	decisionLatency prometheus.Histogram
}

// New creates the metric set on a private registry. poolCount and
// budgetRemaining feed the gauges; either may be nil.
func New(poolCount func() int, budgetRemaining func() int) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		feedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Chain feed events received, by event type.",
		}, []string{"event"}),
		signalsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_emitted_total",
			Help:      "Weak signals emitted by detectors, by kind.",
		}, []string{"kind"}),
		alertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Strong alerts emitted by detectors, by kind.",
		}, []string{"kind"}),
		detectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_errors_total",
			Help:      "Detector handler errors, by detector.",
		}, []string{"detector"}),
		decisionsMade: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions published, by tier and action.",
		}, []string{"tier", "action"}),
		publishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Decision delivery failures, by sink.",
		}, []string{"sink"}),
		decisionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_persist_seconds",
			Help:      "Latency of persisting one decision.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if poolCount != nil {
		m.trackedPools = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_pools",
			Help:      "Pools currently tracked by the engine.",
		}, func() float64 { return float64(poolCount()) })
	}
	if budgetRemaining != nil {
		m.budgetTokens = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_budget_tokens",
			Help:      "Tokens left in the shared RPC budget.",
		}, func() float64 { return float64(budgetRemaining()) })
	}

	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FeedEvent counts one received feed event.
func (m *Metrics) FeedEvent(event string) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(event).Inc()
}

// SignalEmitted counts one weak signal by kind.
func (m *Metrics) SignalEmitted(kind string) {
	if m == nil {
		return
	}
	m.signalsEmitted.WithLabelValues(kind).Inc()
}

// AlertEmitted counts one strong alert by kind.
func (m *Metrics) AlertEmitted(kind string) {
	if m == nil {
		return
	}
	m.alertsEmitted.WithLabelValues(kind).Inc()
}

// DetectorError counts one detector handler error.
func (m *Metrics) DetectorError(detector string) {
	if m == nil {
		return
	}
	m.detectorErrors.WithLabelValues(detector).Inc()
}

// DecisionMade counts one published decision.
func (m *Metrics) DecisionMade(tier, action string) {
	if m == nil {
		return
	}
	m.decisionsMade.WithLabelValues(tier, action).Inc()
}

// PublishError counts one failed delivery to a downstream sink.
func (m *Metrics) PublishError(sink string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(sink).Inc()
}

// ObservePersist records the latency of one decision persist.
func (m *Metrics) ObservePersist(seconds float64) {
	if m == nil {
		return
	}
	m.decisionLatency.Observe(seconds)
}

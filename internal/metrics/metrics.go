package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the revu collectors, registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	pollFetches  *prometheus.CounterVec
	pollSkipped  prometheus.Counter
	chatTurns    *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revu",
			Name:      "http_requests_total",
			Help:      "Backend requests by method and outcome (ok, http, network, decode, canceled).",
		}, []string{"method", "outcome"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "revu",
			Name:      "http_request_duration_seconds",
			Help:      "Backend request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		pollFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revu",
			Name:      "poll_fetches_total",
			Help:      "Status fetches issued by poll subscriptions, by result.",
		}, []string{"result"}),
		pollSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revu",
			Name:      "poll_ticks_skipped_total",
			Help:      "Poll ticks skipped because a fetch was still in flight.",
		}),
		chatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revu",
			Name:      "chat_turns_total",
			Help:      "Chat messages sent, by outcome (ok, fallback).",
		}, []string{"outcome"}),
	}
}

// Registry returns the underlying registry, or nil for a nil receiver.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, outcome).Inc()
	m.httpLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) PollFetch(result string) {
	if m == nil {
		return
	}
	m.pollFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) PollSkipped() {
	if m == nil {
		return
	}
	m.pollSkipped.Inc()
}

func (m *Metrics) ChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(outcome).Inc()
}

// Package metrics is the out-of-core observability collaborator the
// router's per-request timing hook feeds (spec §1, §4.I). It is
// intentionally thin: the core only needs somewhere to report outcome
// and duration; the export format and scrape endpoint are not part of
// the CORE per spec §1.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the router depends on, so call sites never
// import prometheus directly.
type Recorder interface {
	ObserveRequest(routeID, outcome string, durationSeconds float64)
}

// Prometheus is the default Recorder, backed by client_golang.
type Prometheus struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheus registers the core's metrics on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayfront_request_duration_seconds",
		Help:    "Request duration by route and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "outcome"})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relayfront_requests_total",
		Help: "Total dispatched requests by route and outcome.",
	}, []string{"route", "outcome"})

	reg.MustRegister(duration, total)
	return &Prometheus{registry: reg, duration: duration, total: total}
}

// ObserveRequest records one dispatched request's outcome and duration.
func (p *Prometheus) ObserveRequest(routeID, outcome string, durationSeconds float64) {
	p.duration.WithLabelValues(routeID, outcome).Observe(durationSeconds)
	p.total.WithLabelValues(routeID, outcome).Inc()
}

// Handler exposes /metrics in the Prometheus exposition format (spec §6).
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop discards all observations; used when metrics are not configured.
type Noop struct{}

func (Noop) ObserveRequest(string, string, float64) {}

// Package metrics holds the proxy's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is registered on its own registry so several instances can
// coexist in one process (tests, config reloads).
type Metrics struct {
	registry *prometheus.Registry

	Transforms        *prometheus.CounterVec
	TransformDuration *prometheus.HistogramVec
	TransformErrors   prometheus.Counter
	Passthrough       *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transforms: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderngov_transforms_total",
				Help: "Template page responses transformed, by output mode",
			},
			[]string{"mode"},
		),
		TransformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moderngov_transform_duration_seconds",
				Help:    "Time spent parsing, transforming and rendering a response body",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"mode"},
		),
		TransformErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moderngov_transform_errors_total",
				Help: "Transforms that failed and fell back to the original body",
			},
		),
		Passthrough: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderngov_passthrough_total",
				Help: "Responses forwarded without transformation, by reason",
			},
			[]string{"reason"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderngov_cache_lookups_total",
				Help: "Response cache lookups, by result",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

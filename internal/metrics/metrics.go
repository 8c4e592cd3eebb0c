// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	CaptionsTotal   *prometheus.CounterVec   // mode, captioner, status
	CaptionDuration *prometheus.HistogramVec // mode, captioner
	CacheHits       *prometheus.CounterVec   // mode
	ModelLoads      *prometheus.CounterVec   // status
	HTTPRequests    *prometheus.CounterVec   // path, method, status
}

// New creates a registry with the caption collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		CaptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blurb_captions_total",
				Help: "Caption requests by mode, captioner and outcome.",
			},
			[]string{"mode", "captioner", "status"}, // ok | error
		),
		CaptionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blurb_caption_duration_seconds",
				Help:    "Time spent waiting on the captioning model.",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode", "captioner"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blurb_cache_hits_total",
				Help: "Captions served from the cache.",
			},
			[]string{"mode"},
		),
		ModelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blurb_model_loads_total",
				Help: "Attempts to load the captioning model.",
			},
			[]string{"status"}, // ok | error
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blurb_http_requests_total",
				Help: "HTTP requests by route, method and status code.",
			},
			[]string{"path", "method", "status"},
		),
	}

	m.Registry.MustRegister(
		m.CaptionsTotal, m.CaptionDuration, m.CacheHits, m.ModelLoads, m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCaption records the outcome of one model call.
func (m *Metrics) ObserveCaption(mode, captioner string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CaptionsTotal.WithLabelValues(mode, captioner, status).Inc()
	m.CaptionDuration.WithLabelValues(mode, captioner).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

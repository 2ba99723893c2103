package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the API. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	instances   prometheus.Counter
	filtered    prometheus.Counter
	predictions *prometheus.CounterVec
	reloads     *prometheus.CounterVec
	modelInfo   *prometheus.GaugeVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "colony_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		instances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "colony_instances_received_total",
			Help: "Instances received for prediction.",
		}),
		filtered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "colony_instances_filtered_total",
			Help: "Instances removed by the outlier filter.",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_predictions_total",
			Help: "Predictions served by label.",
		}, []string{"label"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_model_reloads_total",
			Help: "Model load attempts by result.",
		}, []string{"result"}),
		modelInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "colony_model_info",
			Help: "Version and fingerprint of the served model.",
		}, []string{"version", "fingerprint"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.instances, m.filtered, m.predictions, m.reloads, m.modelInfo,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument counts requests by their chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObservePredictions records one served batch.
func (m *Metrics) ObservePredictions(received int, labels []string) {
	if m == nil {
		return
	}
	m.instances.Add(float64(received))
	m.filtered.Add(float64(received - len(labels)))
	for _, l := range labels {
		m.predictions.WithLabelValues(l).Inc()
	}
}

// ObserveReload records a model load attempt.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// SetModel publishes the identity of the served model.
func (m *Metrics) SetModel(version, fingerprint string) {
	if m == nil {
		return
	}
	m.modelInfo.Reset()
	m.modelInfo.WithLabelValues(version, fingerprint).Set(1)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/machineset"
)

const metricsNamespace = "toolmgmt"

// metrics holds the Prometheus collectors of one server. Each server owns
// its registry so tests can build servers side by side.
type metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	resolutions *prometheus.CounterVec
	readings    *prometheus.CounterVec
	statuses    prometheus.Counter
}

func newMetrics(s *Server) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "machineset_resolutions_total",
			Help:      "Machine path resolutions by outcome.",
		}, []string{"state"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "counter_readings_total",
			Help:      "Part counter readings by machine.",
		}, []string{"machine"}),
		statuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "machine_status_changes_total",
			Help:      "Monitor MI status changes broadcast to clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.resolutions,
		m.readings,
		m.statuses,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registry_machines",
			Help:      "Machines in the current registry snapshot.",
		}, func() float64 { return float64(s.registry.GetStats().Machines) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registry_ready",
			Help:      "1 when the machine registry is ready, 0 while loading or unavailable.",
		}, func() float64 {
			if s.registry.GetStats().State == machine.StateReady {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registry_version",
			Help:      "Version of the current registry snapshot.",
		}, func() float64 { return float64(s.registry.GetStats().Version) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "selection_sessions",
			Help:      "Users with a remembered machine selection.",
		}, func() float64 { return float64(s.sessions.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}, func() float64 { return float64(s.hub.ClientCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the API server was created.",
		}, func() float64 { return time.Since(s.startTime).Seconds() }),
	)

	s.hub.onCounter = func(number string) { m.readings.WithLabelValues(number).Inc() }
	s.hub.onStatus = m.statuses.Inc
	return m
}

// handler serves the registry in the Prometheus text format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observeResolution counts one resolution outcome.
func (m *metrics) observeResolution(state machineset.State) {
	m.resolutions.WithLabelValues(state.String()).Inc()
}

// middleware records request counts and latency by route pattern so path
// parameters do not explode the label space.
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

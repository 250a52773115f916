// Package metrics exposes the dashboard's Prometheus metrics.
//
// All metrics use the claudeck_ prefix. Live values (sessions, hubs,
// connections) are sampled at scrape time through gauge callbacks so the
// hot paths carry no metric bookkeeping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Sources are scrape-time callbacks into the live subsystems. Nil
// callbacks report zero.
type Sources struct {
	ActiveSessions func() float64
	OpenHubs       func() float64
	Connections    func() float64
}

// Metrics tracks dashboard-specific Prometheus metrics.
type Metrics struct {
	// RequestsTotal counts HTTP requests by method, route and status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks HTTP latency distribution by route.
	RequestDuration *prometheus.HistogramVec

	// SessionOpsTotal counts lifecycle operations by kind and outcome.
	SessionOpsTotal *prometheus.CounterVec

	// ProbeSnapshotsTotal counts metadata snapshots by source.
	ProbeSnapshotsTotal *prometheus.CounterVec
}

// New creates dashboard metrics and registers them, along with the live
// gauges, on the given registerer. Panics if registration fails (expected
// during initialization only).
func New(reg prometheus.Registerer, src Sources) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudeck_http_requests_total",
				Help: "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claudeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SessionOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudeck_session_operations_total",
				Help: "Session lifecycle operations by kind and outcome",
			},
			[]string{"operation", "outcome"}, // create/kill/recover x ok/error
		),
		ProbeSnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudeck_probe_snapshots_total",
				Help: "Metadata snapshots taken, by source",
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionOpsTotal,
		m.ProbeSnapshotsTotal,
		gaugeFunc("claudeck_sessions_active", "Live terminal sessions", src.ActiveSessions),
		gaugeFunc("claudeck_hubs_open", "Open streaming hubs", src.OpenHubs),
		gaugeFunc("claudeck_ws_connections", "Open WebSocket connections", src.Connections),
	)
	return m
}

func gaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 {
			if fn == nil {
				return 0
			}
			return fn()
		},
	)
}

// Middleware instruments HTTP requests. Mounted once on the router; the
// route label uses the raw path's first two segments to bound label
// cardinality (identifiers never become labels).
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routeLabel(r.URL.Path)
			m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel collapses a path to its leading segments so per-session and
// per-file paths do not explode label cardinality.
func routeLabel(path string) string {
	segments := 0
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			segments++
			if segments == 2 {
				return path[:i]
			}
		}
	}
	return path
}

package monitoring

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors for the tracking loop and the
// HTTP API. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Cycles        prometheus.Counter
	CycleDuration prometheus.Histogram
	Fixes         prometheus.Counter
	Skipped       prometheus.Counter
	Discovered    prometheus.Counter
	Targets       prometheus.Gauge
	ActiveTargets prometheus.Gauge

	Requests         *prometheus.CounterVec
	RequestDurations *prometheus.HistogramVec
}

// NewMetrics registers the collectors against reg, or the default registry
// when reg is nil. Registering twice against the same registry returns the
// existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &Metrics{gatherer: gatherer}

	var err error
	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&m.Cycles, "rftwin_tracking_cycles_total", "Completed tracking cycles."},
		{&m.Fixes, "rftwin_tracking_fixes_total", "Targets localized successfully."},
		{&m.Skipped, "rftwin_tracking_skipped_total", "Targets skipped in a cycle (no signal, timeout or localization error)."},
		{&m.Discovered, "rftwin_tracking_discovered_total", "Targets added by automatic discovery."},
	}
	for _, c := range counters {
		if *c.dst, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: c.name, Help: c.help}), c.name); err != nil {
			return nil, err
		}
	}
	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&m.Targets, "rftwin_tracking_targets", "Targets currently in the tracking table."},
		{&m.ActiveTargets, "rftwin_tracking_active_targets", "Targets seen within the device timeout."},
	}
	for _, g := range gauges {
		if *g.dst, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name); err != nil {
			return nil, err
		}
	}

	m.CycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rftwin_tracking_cycle_duration_seconds",
		Help:    "Wall time of one tracking cycle.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "rftwin_tracking_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}
	m.Requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rftwin_http_requests_total",
		Help: "HTTP requests handled, labeled by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "rftwin_http_requests_total")
	if err != nil {
		return nil, err
	}
	m.RequestDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rftwin_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"}), "rftwin_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveCycle records one tracking cycle.
func (m *Metrics) ObserveCycle(d time.Duration, discovered, updated, skipped, targets, active int) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.Discovered.Add(float64(discovered))
	m.Fixes.Add(float64(updated))
	m.Skipped.Add(float64(skipped))
	m.Targets.Set(float64(targets))
	m.ActiveTargets.Set(float64(active))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by the ServeMux pattern that matched them, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.RequestDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return c, nil
}

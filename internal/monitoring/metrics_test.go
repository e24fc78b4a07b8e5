package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	require.NoError(t, err)
	b, err := NewMetrics(reg)
	require.NoError(t, err)

	a.ObserveCycle(20*time.Millisecond, 1, 3, 1, 4, 3)
	b.ObserveCycle(10*time.Millisecond, 0, 2, 0, 4, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(b.Cycles))
	assert.Equal(t, 5.0, testutil.ToFloat64(a.Fixes))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Skipped))
	assert.Equal(t, 4.0, testutil.ToFloat64(a.ActiveTargets))
	assert.Equal(t, 1, testutil.CollectAndCount(a.CycleDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCycle(time.Second, 1, 1, 1, 1, 1)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware(h))
}

func TestMiddlewareLabelsByPattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/targets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "ok")
	})
	h := m.Middleware(mux)

	for _, path := range []string{"/api/targets/a", "/api/targets/b", "/api/targets/missing", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "GET /api/targets/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "GET /api/targets/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "unmatched", "404")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rftwin_http_requests_total")
	assert.Contains(t, w.Body.String(), "rftwin_tracking_cycles_total")
}

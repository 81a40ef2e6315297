package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_nil_receiver(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRequest(http.MethodGet, "/mounts", http.StatusOK, time.Millisecond)
		m.IncSessionsOpened()
		m.IncEngineErrors("instantiate")
		m.SetGauges(1, 2, 3)
	})
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.IncSessionsOpened()
	m.IncSessionsOpened()
	m.IncInstancesStarted()
	m.IncEngineErrors("instantiate")

	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionsOpenedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.instancesStartedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.engineErrorsTotal.WithLabelValues("instantiate")))
}

func TestMetrics_Handler_updates_gauges(t *testing.T) {
	m := New()
	h := m.Handler(func() { m.SetGauges(3, 1, 2) })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "rtsp_active_sessions 3"), body)
	require.True(t, strings.Contains(body, "rtsp_active_instances 1"), body)
	require.True(t, strings.Contains(body, "rtsp_mounts 2"), body)
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/mounts/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("[]"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mounts/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mounts/b/c", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/mounts/*", "404")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/sessions", "200")))
	require.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

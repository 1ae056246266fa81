package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry("test", reg, reg)
}

func TestMetrics_RecordFillRun(t *testing.T) {
	m := newTestMetrics()

	m.RecordFillRun(2, true, 3*time.Second)
	m.RecordFillRun(2, false, time.Second)
	m.RecordFillRun(2, true, time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.FillRunsTotal.WithLabelValues("2", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FillRunsTotal.WithLabelValues("2", "failed")))
}

func TestMetrics_RecordFillItem(t *testing.T) {
	m := newTestMetrics()

	m.RecordFillItem(true, true, "partial", "affirmative")
	m.RecordFillItem(false, false, "", "")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FillItemsTotal.WithLabelValues("filled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FillItemsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FieldFallbacks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OptionSelections.WithLabelValues("partial")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CategoricalFallbacks.WithLabelValues("affirmative")))
}

func TestMetrics_BrowserAndActivity(t *testing.T) {
	m := newTestMetrics()

	m.RecordBrowserLaunch(true)
	m.RecordBrowserLaunch(false)
	m.SetBrowserOpen(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BrowserOpen))
	m.SetBrowserOpen(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.BrowserOpen))

	m.RecordActivityJob(nil)
	m.RecordActivityJob(errors.New("insert failed"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActivityJobs.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BrowserLaunches.WithLabelValues("failed")))
}

func TestMetrics_HTTPMiddlewareAndHandler(t *testing.T) {
	m := newTestMetrics()

	h := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_http_requests_total"))
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.Flush()

	assert.True(t, rec.Flushed)
}

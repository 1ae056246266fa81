package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsActive  prometheus.Gauge

	// Fill metrics
	FillRunsTotal        *prometheus.CounterVec
	FillRunDuration      *prometheus.HistogramVec
	FillItemsTotal       *prometheus.CounterVec
	FieldFallbacks       prometheus.Counter
	CategoricalFallbacks *prometheus.CounterVec
	OptionSelections     *prometheus.CounterVec

	// Browser session metrics
	BrowserLaunches *prometheus.CounterVec
	BrowserOpen     prometheus.Gauge

	// Progress and activity metrics
	ProgressEventsDropped prometheus.Counter
	ProgressSubscribers   prometheus.Gauge
	ActivityJobs          *prometheus.CounterVec

	// Temporal workflow metrics
	WorkflowsStarted   *prometheus.CounterVec
	WorkflowsCompleted *prometheus.CounterVec
	ActivitiesExecuted *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates a metrics instance registered with the default registry
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry creates a metrics instance registered with reg
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = "formpilot"
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_active",
				Help:      "Number of active HTTP requests",
			},
		),

		// Fill metrics
		FillRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fill_runs_total",
				Help:      "Total number of fill runs by outcome",
			},
			[]string{"page", "status"},
		),
		FillRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fill_run_duration_seconds",
				Help:      "Fill run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"page"},
		),
		FillItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fill_items_total",
				Help:      "Total number of answers written by outcome",
			},
			[]string{"status"},
		),
		FieldFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fill_field_fallbacks_total",
				Help:      "Answers written to a positional field instead of the expected one",
			},
		),
		CategoricalFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fill_categorical_unmapped_total",
				Help:      "Categorical values resolved by the unmapped-value policy",
			},
			[]string{"policy"},
		),
		OptionSelections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fill_option_selections_total",
				Help:      "Option selections by matching pass",
			},
			[]string{"method"},
		),

		// Browser session metrics
		BrowserLaunches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "browser_launches_total",
				Help:      "Browser session launches by outcome",
			},
			[]string{"status"},
		),
		BrowserOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "browser_session_open",
				Help:      "1 while the shared browser session is open",
			},
		),

		// Progress and activity metrics
		ProgressEventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_events_dropped_total",
				Help:      "Progress events dropped for slow or absent observers",
			},
		),
		ProgressSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "progress_subscribers",
				Help:      "Number of connected progress observers",
			},
		),
		ActivityJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_jobs_total",
				Help:      "Activity log jobs by outcome",
			},
			[]string{"status"},
		),

		// Temporal workflow metrics
		WorkflowsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflows started",
			},
			[]string{"workflow_type"},
		),
		WorkflowsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflows completed",
			},
			[]string{"workflow_type", "status"},
		),
		ActivitiesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activities_executed_total",
				Help:      "Total number of activities executed",
			},
			[]string{"activity_type", "status"},
		),

		gatherer: gatherer,
	}

	return m
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFillRun records a finished fill run
func (m *Metrics) RecordFillRun(page int, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	p := strconv.Itoa(page)
	m.FillRunsTotal.WithLabelValues(p, status).Inc()
	m.FillRunDuration.WithLabelValues(p).Observe(duration.Seconds())
}

// RecordFillItem records one answer
func (m *Metrics) RecordFillItem(filled, fieldFallback bool, method, unmappedPolicy string) {
	status := "filled"
	if !filled {
		status = "failed"
	}
	m.FillItemsTotal.WithLabelValues(status).Inc()
	if fieldFallback {
		m.FieldFallbacks.Inc()
	}
	if method != "" {
		m.OptionSelections.WithLabelValues(method).Inc()
	}
	if unmappedPolicy != "" {
		m.CategoricalFallbacks.WithLabelValues(unmappedPolicy).Inc()
	}
}

// RecordBrowserLaunch records a session launch attempt
func (m *Metrics) RecordBrowserLaunch(ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	m.BrowserLaunches.WithLabelValues(status).Inc()
}

// SetBrowserOpen records whether the shared session is open
func (m *Metrics) SetBrowserOpen(open bool) {
	if open {
		m.BrowserOpen.Set(1)
		return
	}
	m.BrowserOpen.Set(0)
}

// RecordActivityJob records an activity log job outcome
func (m *Metrics) RecordActivityJob(err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.ActivityJobs.WithLabelValues(status).Inc()
}

// RecordWorkflowStart records workflow start
func (m *Metrics) RecordWorkflowStart(workflowType string) {
	m.WorkflowsStarted.WithLabelValues(workflowType).Inc()
}

// RecordWorkflowComplete records workflow completion
func (m *Metrics) RecordWorkflowComplete(workflowType, status string) {
	m.WorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
}

// RecordActivityExecution records activity execution
func (m *Metrics) RecordActivityExecution(activityType, status string) {
	m.ActivitiesExecuted.WithLabelValues(activityType, status).Inc()
}

// HTTPMiddleware returns middleware for recording HTTP metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsActive.Inc()
		defer m.HTTPRequestsActive.Dec()

		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

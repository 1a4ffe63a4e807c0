package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/IstiakDeveloper/gosto-khor/internal/jobs"
	"github.com/IstiakDeveloper/gosto-khor/internal/money"
)

// Metrics collects the service's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	payments        *prometheus.CounterVec
	collected       *prometheus.CounterVec
	accruals        prometheus.Counter
	reportBuilds    *prometheus.CounterVec
	reportDuration  *prometheus.HistogramVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry with HTTP, ledger, report and job metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gostokhor_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gostokhor_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gostokhor_payments_recorded_total",
		Help: "Payments recorded by status.",
	}, []string{"status"})
	collected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gostokhor_payments_amount_total",
		Help: "Recorded payment amounts in major currency units by status.",
	}, []string{"status"})
	accruals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gostokhor_accruals_total",
		Help: "Membership accruals applied.",
	})
	reportBuilds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gostokhor_report_builds_total",
		Help: "Report requests by report and cache outcome.",
	}, []string{"report", "cache"})
	reportDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gostokhor_report_build_seconds",
		Help:    "Time spent serving reports.",
		Buckets: prometheus.DefBuckets,
	}, []string{"report"})
	registry.MustRegister(
		requests, duration, payments, collected, accruals, reportBuilds, reportDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		payments:        payments,
		collected:       collected,
		accruals:        accruals,
		reportBuilds:    reportBuilds,
		reportDuration:  reportDuration,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PaymentRecorded counts a stored payment.
func (m *Metrics) PaymentRecorded(status string, amount money.Amount) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
	m.collected.WithLabelValues(status).Add(amount.Decimal().InexactFloat64())
}

// Accrued counts applied accruals.
func (m *Metrics) Accrued(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.accruals.Add(float64(count))
}

// ReportBuilt records a served report.
func (m *Metrics) ReportBuilt(report string, cached bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "miss"
	if cached {
		outcome = "hit"
	}
	m.reportBuilds.WithLabelValues(report, outcome).Inc()
	m.reportDuration.WithLabelValues(report).Observe(took.Seconds())
}

// Jobs returns the job metrics registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

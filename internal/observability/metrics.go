package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	allocations     *prometheus.CounterVec
	allocatedAmount *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docflow_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_workflow_transitions_total",
		Help: "Jumlah transisi workflow per jenis dokumen, aksi dan hasil.",
	}, []string{"kind", "action", "outcome"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_allocations_total",
		Help: "Jumlah batch alokasi pembayaran per jenis dan hasil.",
	}, []string{"kind", "operation", "outcome"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_allocated_amount_total",
		Help: "Total nominal yang dialokasikan per jenis pembayaran.",
	}, []string{"kind"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_jobs_total",
		Help: "Jumlah eksekusi job latar belakang per tipe dan hasil.",
	}, []string{"type", "outcome"})
	registry.MustRegister(requests, duration, transitions, allocations, amount, jobs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transitions:     transitions,
		allocations:     allocations,
		allocatedAmount: amount,
		jobsTotal:       jobs,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveTransition mencatat hasil satu perintah workflow.
func (m *Metrics) ObserveTransition(kind, action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, action, outcome).Inc()
}

// ObserveAllocation mencatat hasil satu batch alokasi atau reversal.
func (m *Metrics) ObserveAllocation(kind, operation, outcome string, amount float64) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(kind, operation, outcome).Inc()
	if amount > 0 {
		m.allocatedAmount.WithLabelValues(kind).Add(amount)
	}
}

// ObserveJob mencatat eksekusi job asynq.
func (m *Metrics) ObserveJob(taskType, outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(taskType, outcome).Inc()
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

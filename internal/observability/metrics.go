package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lgu-emis/emis-web/internal/jobmetrics"
)

// Metrics mengumpulkan metrik Prometheus untuk portal.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	apiCalls        *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	locks           prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emis_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emis_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	apiCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emis_api_requests_total",
		Help: "Jumlah panggilan ke EMIS API berdasarkan endpoint dan status.",
	}, []string{"endpoint", "code"})
	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emis_api_request_duration_seconds",
		Help:    "Durasi panggilan ke EMIS API per endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	locks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emis_account_locks_total",
		Help: "Jumlah notifikasi akun terkunci yang diteruskan ke halaman.",
	})
	ended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emis_sessions_ended_total",
		Help: "Jumlah sesi yang diakhiri berdasarkan alasan.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, apiCalls, apiDuration, locks, ended)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		apiCalls:        apiCalls,
		apiDuration:     apiDuration,
		locks:           locks,
		sessionsEnded:   ended,
		jobs:            jobmetrics.NewMetrics(registry),
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
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAPI mencatat satu panggilan ke EMIS API. Status 0 berarti galat transport.
func (m *Metrics) ObserveAPI(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	if status == 0 {
		code = "error"
	}
	m.apiCalls.WithLabelValues(endpoint, code).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordLock menambah hitungan notifikasi akun terkunci.
func (m *Metrics) RecordLock() {
	if m == nil {
		return
	}
	m.locks.Inc()
}

// RecordSessionEnd mencatat sesi yang diakhiri.
func (m *Metrics) RecordSessionEnd(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

// RecordSessionsEnded mencatat n sesi yang diakhiri sekaligus.
func (m *Metrics) RecordSessionsEnded(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Add(float64(n))
}

// Jobs mengembalikan metrik pekerjaan latar belakang.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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

// Unwrap membuka akses Flush dan SetWriteDeadline bagi stream SSE.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

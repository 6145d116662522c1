package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and
// the attendance engine. All methods are safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec

	taps              *prometheus.CounterVec
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	absences          *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	rollovers         *prometheus.CounterVec
	rolloverDuration  prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		taps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_taps_total",
			Help: "Card taps by outcome (PRESENT, LATE or the rejection code)",
		}, []string{"outcome"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_started_total",
			Help: "Sessions opened by trigger",
		}, []string{"trigger"}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_completed_total",
			Help: "Sessions completed by reason",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attendance_active_sessions",
			Help: "Sessions currently accepting taps",
		}),
		absences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_absences_total",
			Help: "Absences recorded by source",
		}, []string{"source"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_notifications_total",
			Help: "Parent notifications by event",
		}, []string{"event"}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_rollovers_total",
			Help: "Day rollovers by result",
		}, []string{"result"}),
		rolloverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_rollover_duration_seconds",
			Help:    "Time the rollover gate was held",
			Buckets: prometheus.DefBuckets,
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency.(prometheus.Collector), m.cacheWrite.(prometheus.Collector), m.cacheLookups,
		m.taps, m.sessionsStarted, m.sessionsCompleted, m.activeSessions, m.absences, m.notifications, m.rollovers, m.rolloverDuration,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry, mostly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordTap counts a tap outcome: the stored status or the rejection code.
func (m *MetricsService) RecordTap(outcome string) {
	if m == nil {
		return
	}
	m.taps.WithLabelValues(outcome).Inc()
}

// SessionStarted counts an opened session.
func (m *MetricsService) SessionStarted(trigger models.SessionTrigger) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(string(trigger)).Inc()
	m.activeSessions.Inc()
}

// SessionCompleted counts a closed session and the absences it produced.
func (m *MetricsService) SessionCompleted(reason models.CompletionReason, autoAbsences int) {
	if m == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(string(reason)).Inc()
	m.activeSessions.Dec()
	m.absences.WithLabelValues("auto").Add(float64(autoAbsences))
}

// SetActiveSessions resets the gauge, used after restoring state.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ManualAbsence counts a teacher-marked absence.
func (m *MetricsService) ManualAbsence() {
	if m == nil {
		return
	}
	m.absences.WithLabelValues("manual").Inc()
}

// NotificationEvent counts notification lifecycle events such as
// created, delivered, retried and failed.
func (m *MetricsService) NotificationEvent(event string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event).Inc()
}

// Rollover records a rollover attempt.
func (m *MetricsService) Rollover(success bool, held time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.rollovers.WithLabelValues(result).Inc()
	m.rolloverDuration.Observe(held.Seconds())
}

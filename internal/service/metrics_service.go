package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API
// and the progression engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheLatency    prometheus.Observer

	lessonsCompleted *prometheus.CounterVec
	coursesCompleted prometheus.Counter
	seriesCompleted  prometheus.Counter
	cascades         *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	lessonsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lessons_completed_total",
		Help: "Lessons completed, split by manual vs auto completion",
	}, []string{"mode"})

	coursesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courses_completed_total",
		Help: "Course completion transitions",
	})

	seriesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "series_completed_total",
		Help: "Enrollment completion transitions",
	})

	cascades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unlock_cascades_total",
		Help: "Unlock cascade results by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, cacheLatency,
		lessonsCompleted, coursesCompleted, seriesCompleted, cascades, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		cacheLatency:     cacheLatency,
		lessonsCompleted: lessonsCompleted,
		coursesCompleted: coursesCompleted,
		seriesCompleted:  seriesCompleted,
		cascades:         cascades,
	}
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
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
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordLessonCompleted counts a lesson completion.
func (m *MetricsService) RecordLessonCompleted(auto bool) {
	if m == nil {
		return
	}
	mode := "manual"
	if auto {
		mode = "auto"
	}
	m.lessonsCompleted.WithLabelValues(mode).Inc()
}

// RecordCourseCompleted counts a course completion transition.
func (m *MetricsService) RecordCourseCompleted() {
	if m == nil {
		return
	}
	m.coursesCompleted.Inc()
}

// RecordSeriesCompleted counts an enrollment completion transition.
func (m *MetricsService) RecordSeriesCompleted() {
	if m == nil {
		return
	}
	m.seriesCompleted.Inc()
}

// RecordCascade counts an unlock cascade by its outcome.
func (m *MetricsService) RecordCascade(outcome models.CascadeOutcome) {
	if m == nil {
		return
	}
	m.cascades.WithLabelValues(string(outcome)).Inc()
}

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

// Allocation outcomes reported to Prometheus.
const (
	AllocationOutcomeAllocated     = "allocated"
	AllocationOutcomeLimitExceeded = "limit_exceeded"
	AllocationOutcomeConflictRetry = "conflict_retry"
	AllocationOutcomeFailed        = "failed"
)

// Meeting provisioning results reported to Prometheus.
const (
	MeetingResultCreated  = "created"
	MeetingResultFailed   = "failed"
	MeetingResultDisabled = "disabled"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	allocations       *prometheus.CounterVec
	allocationLatency prometheus.Observer
	meetings          *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	liveConnections   prometheus.Gauge
	jobs              *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	allocatedCount       uint64
	rejectedCount        uint64
	meetingFailureCount  uint64
}

// NewMetricsService registers core Prometheus collectors.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "class_allocations_total",
		Help: "Class allocation attempts by outcome",
	}, []string{"outcome", "mode"})

	allocationLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "class_allocation_duration_seconds",
		Help:    "Duration of the allocation transaction",
		Buckets: prometheus.DefBuckets,
	})

	meetings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_provisioning_total",
		Help: "Meeting provisioning attempts by result",
	}, []string{"result"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_notifications_total",
		Help: "Realtime notifications by event type and delivery result",
	}, []string{"type", "delivered"})

	liveConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open websocket connections",
	})

	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_jobs_total",
		Help: "Background job runs by queue and outcome",
	}, []string{"queue", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		allocations, allocationLatency, meetings, notifications, liveConnections, jobs, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		allocations:       allocations,
		allocationLatency: allocationLatency,
		meetings:          meetings,
		notifications:     notifications,
		liveConnections:   liveConnections,
		jobs:              jobs,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordAllocation counts one allocation attempt. mode is "single" or "bulk".
func (m *MetricsService) RecordAllocation(outcome, mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome, mode).Inc()
	switch outcome {
	case AllocationOutcomeAllocated:
		m.allocationLatency.Observe(duration.Seconds())
		atomic.AddUint64(&m.allocatedCount, 1)
	case AllocationOutcomeLimitExceeded:
		atomic.AddUint64(&m.rejectedCount, 1)
	}
}

// RecordMeeting counts one meeting provisioning attempt.
func (m *MetricsService) RecordMeeting(result string) {
	if m == nil {
		return
	}
	m.meetings.WithLabelValues(result).Inc()
	if result == MeetingResultFailed {
		atomic.AddUint64(&m.meetingFailureCount, 1)
	}
}

// RecordNotification counts a realtime push by event type.
func (m *MetricsService) RecordNotification(eventType string, delivered bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventType, fmt.Sprintf("%t", delivered)).Inc()
}

// RecordJob counts one background job run.
func (m *MetricsService) RecordJob(queue, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, outcome).Inc()
}

// ConnectionOpened increments the live websocket gauge.
func (m *MetricsService) ConnectionOpened() {
	if m == nil {
		return
	}
	m.liveConnections.Inc()
}

// ConnectionClosed decrements the live websocket gauge.
func (m *MetricsService) ConnectionClosed() {
	if m == nil {
		return
	}
	m.liveConnections.Dec()
}

// Snapshot returns aggregated metrics for the admin summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ClassesAllocated:         atomic.LoadUint64(&m.allocatedCount),
		AllocationsRejected:      atomic.LoadUint64(&m.rejectedCount),
		MeetingFailures:          atomic.LoadUint64(&m.meetingFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

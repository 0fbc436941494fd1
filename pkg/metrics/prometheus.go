// Package metrics provides Prometheus metrics for the signal resolution engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Signal Pipeline Metrics
	signalsProcessed  prometheus.Counter
	signalsRejected   prometheus.Counter
	signalsSuperseded prometheus.Counter

	// Resolution Metrics
	resolutions           *prometheus.CounterVec
	resolveLatency        prometheus.Histogram
	fusionInputs          prometheus.Histogram
	cascadeShortCircuits  prometheus.Counter

	// Feedback Metrics
	corrections          prometheus.Counter
	correctionDuplicates prometheus.Counter
	reliabilityUpdates   prometheus.Counter

	// Propagation Metrics
	propagationDerived prometheus.Counter
	propagationDropped prometheus.Counter

	// Store Metrics
	storeShardCount    prometheus.Gauge
	storeLiveSignals   prometheus.Gauge
	storeAppendLatency prometheus.Histogram

	// Queue Metrics
	queueSize      prometheus.Gauge
	queueCapacity  prometheus.Gauge
	queueEnqueues  prometheus.Counter
	queueDequeues  prometheus.Counter
	queueErrors    *prometheus.CounterVec
	queueLatency   prometheus.Histogram

	// Worker Metrics
	workerCount   prometheus.Gauge
	workerLatency prometheus.Histogram
	workerErrors  prometheus.Counter

	// Sweep Metrics
	sweepRuns         *prometheus.CounterVec
	reliabilitySwept  prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "sibyl",
		subsystem:        "resolution",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	// Signal Pipeline Metrics
	m.signalsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "signals_processed_total",
		Help:      "Total number of signals successfully appended to the store",
	})

	m.signalsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "signals_rejected_total",
		Help:      "Total number of signals rejected by validation",
	})

	m.signalsSuperseded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "signals_superseded_total",
		Help:      "Total number of signals replaced by a newer observation of the same fact",
	})

	// Resolution Metrics
	m.resolutions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "resolutions_total",
			Help:      "Total number of resolutions by policy action",
		},
		[]string{"action"},
	)

	m.resolveLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "resolve_latency_milliseconds",
		Help:      "Histogram of resolution cascade latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.fusionInputs = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fusion_input_count",
		Help:      "Number of weighted signals entering each fusion",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	m.cascadeShortCircuits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cascade_short_circuits_total",
		Help:      "Total number of resolutions decided by an explicit signal without full fusion",
	})

	// Feedback Metrics
	m.corrections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "corrections_total",
		Help:      "Total number of user corrections recorded",
	})

	m.correctionDuplicates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "correction_duplicates_total",
		Help:      "Total number of corrections rejected as duplicates",
	})

	m.reliabilityUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reliability_updates_total",
		Help:      "Total number of reliability posterior updates",
	})

	// Propagation Metrics
	m.propagationDerived = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "propagation_derived_total",
		Help:      "Total number of derived signals emitted to related entities",
	})

	m.propagationDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "propagation_dropped_total",
		Help:      "Total number of derived signals dropped by budget or backpressure",
	})

	// Store Metrics
	m.storeShardCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_shard_count",
		Help:      "Number of signal store shards",
	})

	m.storeLiveSignals = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_live_signals",
		Help:      "Number of live signals across all shards",
	})

	m.storeAppendLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_append_latency_milliseconds",
		Help:      "Signal store append latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Queue Metrics
	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the signal queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum queue capacity",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of signals enqueued",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of signals dequeued",
	})

	m.queueErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "queue_enqueue_errors_total",
			Help:      "Total number of enqueue errors by reason",
		},
		[]string{"reason"},
	)

	m.queueLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_latency_milliseconds",
		Help:      "Queue enqueue latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Worker Metrics
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Current number of active workers",
	})

	m.workerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_latency_milliseconds",
		Help:      "Worker processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker errors",
	})

	// Sweep Metrics
	m.sweepRuns = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sweep_runs_total",
			Help:      "Total number of scheduled sweep executions by job",
		},
		[]string{"job"},
	)

	m.reliabilitySwept = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reliability_triples_swept_total",
		Help:      "Total number of stale reliability triples removed",
	})

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Signal Pipeline Metrics Functions.

// RecordSignalProcessed increments the processed signals counter.
func RecordSignalProcessed() {
	globalManager.signalsProcessed.Inc()
}

// RecordSignalRejected increments the rejected signals counter.
func RecordSignalRejected() {
	globalManager.signalsRejected.Inc()
}

// RecordSignalSuperseded increments the superseded signals counter.
func RecordSignalSuperseded() {
	globalManager.signalsSuperseded.Inc()
}

// Resolution Metrics Functions.

// RecordResolution increments the resolution counter for a policy action.
func RecordResolution(action string) {
	globalManager.resolutions.WithLabelValues(action).Inc()
}

// RecordResolveLatency records resolution cascade latency in milliseconds.
func RecordResolveLatency(latencyMs float64) {
	globalManager.resolveLatency.Observe(latencyMs)
}

// RecordFusion records the number of inputs entering a fusion.
func RecordFusion(inputs int) {
	globalManager.fusionInputs.Observe(float64(inputs))
}

// RecordCascadeShortCircuit increments the explicit-signal short circuit counter.
func RecordCascadeShortCircuit() {
	globalManager.cascadeShortCircuits.Inc()
}

// Feedback Metrics Functions.

// RecordCorrection increments the corrections counter.
func RecordCorrection() {
	globalManager.corrections.Inc()
}

// RecordCorrectionDuplicate increments the duplicate corrections counter.
func RecordCorrectionDuplicate() {
	globalManager.correctionDuplicates.Inc()
}

// RecordReliabilityUpdate increments the reliability updates counter.
func RecordReliabilityUpdate() {
	globalManager.reliabilityUpdates.Inc()
}

// Propagation Metrics Functions.

// RecordPropagationDerived increments the derived signals counter.
func RecordPropagationDerived() {
	globalManager.propagationDerived.Inc()
}

// RecordPropagationDropped increments the dropped derived signals counter.
func RecordPropagationDropped() {
	globalManager.propagationDropped.Inc()
}

// Store Metrics Functions.

// UpdateStoreShardCount sets the number of store shards.
func UpdateStoreShardCount(count int) {
	globalManager.storeShardCount.Set(float64(count))
}

// UpdateStoreLiveSignals sets the number of live signals.
func UpdateStoreLiveSignals(count int) {
	globalManager.storeLiveSignals.Set(float64(count))
}

// RecordStoreAppendLatency records store append latency.
func RecordStoreAppendLatency(latencyMs float64) {
	globalManager.storeAppendLatency.Observe(latencyMs)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueues.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeues.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter for a reason.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueErrors.WithLabelValues(reason).Inc()
}

// RecordQueueLatency records queue enqueue latency.
func RecordQueueLatency(latencyMs float64) {
	globalManager.queueLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerLatency records worker processing latency.
func RecordWorkerLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Sweep Metrics Functions.

// RecordSweepRun increments the sweep run counter for a job.
func RecordSweepRun(job string) {
	globalManager.sweepRuns.WithLabelValues(job).Inc()
}

// RecordReliabilitySwept adds to the swept reliability triples counter.
func RecordReliabilitySwept(count int) {
	globalManager.reliabilitySwept.Add(float64(count))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package metrics provides Prometheus metrics for the kicker rating service.
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

// Manager manages all Prometheus metrics for the kicker service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Core rating metrics
	matchesRecorded      *prometheus.CounterVec
	submissionsDuplicate prometheus.Counter
	submissionsRejected  *prometheus.CounterVec
	submissionLatency    prometheus.Histogram
	playersRegistered    prometheus.Counter
	playersTotal         prometheus.Gauge
	matchesTotal         prometheus.Gauge
	ambiguousLookups     prometheus.Counter

	// Store metrics
	storeOperationLatency *prometheus.HistogramVec
	storeErrors           *prometheus.CounterVec
	storeConflicts        prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Notification metrics
	notificationsSent    *prometheus.CounterVec
	notificationsFailed  *prometheus.CounterVec
	notificationsDropped prometheus.Counter

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "kicker",
		subsystem:        "ratings",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.matchesRecorded = m.counterVec("matches_recorded_total",
		"Total number of matches recorded by outcome", "outcome")
	m.submissionsDuplicate = m.counter("submissions_duplicate_total",
		"Total number of replayed submissions answered from the dedupe cache")
	m.submissionsRejected = m.counterVec("submissions_rejected_total",
		"Total number of rejected match submissions by reason", "reason")
	m.submissionLatency = m.histogram("submission_latency_milliseconds",
		"Match submission latency in milliseconds, rating update and commit included")
	m.playersRegistered = m.counter("players_registered_total",
		"Total number of players registered")
	m.playersTotal = m.gauge("players", "Number of players in the store")
	m.matchesTotal = m.gauge("matches", "Number of matches in the ledger")
	m.ambiguousLookups = m.counter("ambiguous_lookups_total",
		"Name lookups that matched more than one player (data defect)")

	m.storeOperationLatency = m.histogramVec("store_operation_latency_milliseconds",
		"Store operation latency in milliseconds", "backend", "operation")
	m.storeErrors = m.counterVec("store_errors_total",
		"Store operation failures by backend and operation", "backend", "operation")
	m.storeConflicts = m.counter("store_conflicts_total",
		"Compare-and-set rating updates rejected because the rating changed")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current size of the notification queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the notification queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Notification queue utilization (size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of notifications enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of notifications dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Notifications rejected by a full or closed queue")

	m.workerCount = m.gauge("worker_count", "Configured number of notification workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Notification workers currently delivering")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time spent delivering one notification in milliseconds")
	m.workerErrorRate = m.counter("worker_errors_total", "Notification deliveries that failed")

	m.notificationsSent = m.counterVec("notifications_sent_total",
		"Notifications delivered by notifier", "notifier")
	m.notificationsFailed = m.counterVec("notifications_failed_total",
		"Notification deliveries that failed by notifier", "notifier")
	m.notificationsDropped = m.counter("notifications_dropped_total",
		"Notifications dropped because the queue was full")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and error type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Errors by error type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Errors by endpoint, method and error type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap memory in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// Enabled reports whether the global manager records metrics.
func Enabled() bool {
	return globalManager.enabled
}

// Rating metrics.

// RecordMatchRecorded increments the recorded matches counter for an outcome.
func RecordMatchRecorded(outcome string) {
	globalManager.matchesRecorded.WithLabelValues(outcome).Inc()
}

// RecordSubmissionDuplicate counts a replayed submission.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// RecordSubmissionRejected counts a rejected submission.
func RecordSubmissionRejected(reason string) {
	globalManager.submissionsRejected.WithLabelValues(reason).Inc()
}

// RecordSubmissionLatency records submission latency in milliseconds.
func RecordSubmissionLatency(latencyMs float64) {
	globalManager.submissionLatency.Observe(latencyMs)
}

// RecordPlayerRegistered increments the registered players counter.
func RecordPlayerRegistered() {
	globalManager.playersRegistered.Inc()
}

// UpdatePlayersTotal sets the number of stored players.
func UpdatePlayersTotal(count int) {
	globalManager.playersTotal.Set(float64(count))
}

// UpdateMatchesTotal sets the number of ledger entries.
func UpdateMatchesTotal(count int) {
	globalManager.matchesTotal.Set(float64(count))
}

// RecordAmbiguousLookup counts a name lookup that matched several players.
func RecordAmbiguousLookup() {
	globalManager.ambiguousLookups.Inc()
}

// Store metrics.

// RecordStoreLatency records the latency of one store operation.
func RecordStoreLatency(backend, operation string, latencyMs float64) {
	globalManager.storeOperationLatency.WithLabelValues(backend, operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(backend, operation string) {
	globalManager.storeErrors.WithLabelValues(backend, operation).Inc()
}

// RecordStoreConflict counts a rejected compare-and-set.
func RecordStoreConflict() {
	globalManager.storeConflicts.Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount adjusts the number of busy workers by delta.
func UpdateWorkerActiveCount(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Notification metrics.

// RecordNotificationSent counts a delivered notification.
func RecordNotificationSent(notifier string) {
	globalManager.notificationsSent.WithLabelValues(notifier).Inc()
}

// RecordNotificationFailed counts a failed delivery.
func RecordNotificationFailed(notifier string) {
	globalManager.notificationsFailed.WithLabelValues(notifier).Inc()
}

// RecordNotificationDropped counts a notification the queue could not take.
func RecordNotificationDropped() {
	globalManager.notificationsDropped.Inc()
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RefreshInterval returns how often gauges fed by background loops should be
// refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package metrics provides Prometheus metrics for the CSV converter.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "csv_converter"

// Metrics holds all Prometheus metrics for a conversion run.
type Metrics struct {
	registry *prometheus.Registry

	// File metrics
	FilesConverted prometheus.Counter
	FilesFailed    *prometheus.CounterVec
	FilesSkipped   prometheus.Counter

	// Volume metrics
	Records      prometheus.Counter
	BytesWritten prometheus.Counter

	// Timing
	FileDuration prometheus.Histogram

	// Pool metrics
	ActiveWorkers  prometheus.Gauge
	WorkersSpawned prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Address string // address for the scrape server (e.g. ":9090"), empty disables it
	PushURL string // Pushgateway URL, empty disables pushing
	Job     string // Pushgateway job name
}

var (
	mu             sync.RWMutex
	defaultMetrics *Metrics
)

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FilesConverted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_converted_total",
			Help:      "Total number of files converted",
		}),
		FilesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Total number of files that failed conversion",
		}, []string{"kind"}),
		FilesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Files left unprocessed after a worker fault",
		}),
		Records: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of records read and written",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total size of written documents",
		}),
		FileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time to convert one file",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers spawned and not yet released",
		}),
		WorkersSpawned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_spawned_total",
			Help:      "Total number of workers spawned",
		}),
	}
}

// Init creates the global metrics instance. Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace)
	mu.Lock()
	defaultMetrics = m
	mu.Unlock()
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return defaultMetrics
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func (m *Metrics) StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Push sends the current values to a Pushgateway.
func (m *Metrics) Push(url, job string) error {
	if job == "" {
		job = DefaultNamespace
	}
	if err := push.New(url, job).Gatherer(m.registry).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// ObserveConverted records one successfully converted file.
func (m *Metrics) ObserveConverted(records, bytes int, seconds float64) {
	m.FilesConverted.Inc()
	m.Records.Add(float64(records))
	m.BytesWritten.Add(float64(bytes))
	m.FileDuration.Observe(seconds)
}

// IncFilesFailed increments the failed counter for a failure kind.
func (m *Metrics) IncFilesFailed(kind string) {
	m.FilesFailed.WithLabelValues(kind).Inc()
}

// AddFilesSkipped adds to the skipped files counter.
func (m *Metrics) AddFilesSkipped(n int) {
	m.FilesSkipped.Add(float64(n))
}

// WorkerSpawned records a new worker.
func (m *Metrics) WorkerSpawned() {
	m.WorkersSpawned.Inc()
	m.ActiveWorkers.Inc()
}

// WorkerReleased records a released worker.
func (m *Metrics) WorkerReleased() {
	m.ActiveWorkers.Dec()
}

// Package metrics exposes Prometheus counters for the union filesystem's
// request dispatcher. Unlike the cache/connection-pool-heavy metrics a
// clustered storage service needs, this surface only tracks what a
// synchronous, single-threaded syscall-backed filesystem can actually
// report: per-operation counts, durations, errors, and open handles.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for one running unionfs mount.
type Collector struct {
	config *Config

	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	openHandles       prometheus.Gauge

	server *http.Server
}

// Config controls whether and where metrics are exposed.
type Config struct {
	Enabled   bool
	Addr      string
	Path      string
	Namespace string
	Subsystem string
}

// NewCollector builds a Collector and registers its metrics. If the config
// disables metrics, it returns a Collector whose Record* methods are no-ops.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: false}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:   config,
		registry: registry,
	}
	c.initMetrics()

	for _, m := range []prometheus.Collector{c.operationCounter, c.operationDuration, c.errorCounter, c.openHandles} {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operations_total",
			Help:      "Total number of filesystem operations by name and outcome.",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3.3s
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Total number of filesystem operation errors by errno class.",
		},
		[]string{"operation", "errno"},
	)

	c.openHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "open_handles",
			Help:      "Number of currently open file and directory handles.",
		},
	)
}

// Start serves the Prometheus handler at config.Addr until ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if c.config == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              c.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = c.server.Shutdown(context.Background())
	}()

	return nil
}

// RecordOperation records one completed filesystem operation.
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if c.config == nil || !c.config.Enabled {
		return
	}

	status := "ok"
	if !success {
		status = "error"
	}

	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordError records an operation error classified by its errno name
// ("ENOENT", "EACCES", and so on — see errnoClass in internal/unionfs for
// the classifier).
func (c *Collector) RecordError(operation, errnoClass string) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.errorCounter.With(prometheus.Labels{"operation": operation, "errno": errnoClass}).Inc()
}

// SetOpenHandles sets the current count of open file/directory handles.
func (c *Collector) SetOpenHandles(n int) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.openHandles.Set(float64(n))
}

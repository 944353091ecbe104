package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/objectfs/objectcache/internal/gc"
	"github.com/objectfs/objectcache/internal/objectmgr"
	"github.com/objectfs/objectcache/pkg/errors"
)

// Collector exports cache activity to Prometheus. It is the object manager's
// stats listener and polls the manager and gateway for gauges.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   zerolog.Logger

	// Prometheus metrics
	lookupCounter     *prometheus.CounterVec
	objectCounter     *prometheus.CounterVec
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	referencesGauge   *prometheus.GaugeVec
	queueGauge        *prometheus.GaugeVec
	gcStateGauge      prometheus.Gauge
	gcGarbage         prometheus.Counter

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	snapshot SnapshotFunc
	queues   QueueFunc

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// SnapshotFunc reports the manager's current counters
type SnapshotFunc func() objectmgr.Snapshot

// QueueFunc reports gateway queue depths
type QueueFunc func() (faults, flushes int)

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger zerolog.Logger) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           9090,
			Path:           "/metrics",
			Namespace:      "objectcache",
			UpdateInterval: 15 * time.Second,
			Labels:         make(map[string]string),
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 15 * time.Second
	}

	collector := &Collector{
		config:     config,
		logger:     logger.With().Str("component", "metrics").Logger(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "register metrics").WithComponent("metrics")
	}
	return collector, nil
}

// Registry returns the Prometheus registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Watch installs the sources polled for gauges
func (c *Collector) Watch(snapshot SnapshotFunc, queues QueueFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
	c.queues = queues
}

// Handler serves the metrics, health and debug endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start starts the metrics server and the gauge update loop
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	go c.updateLoop(ctx)

	c.logger.Info().Int("port", c.config.Port).Str("path", c.config.Path).Msg("metrics server started")
	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// CacheHit implements objectmgr.StatsListener
func (c *Collector) CacheHit() { c.countLookup("hit") }

// CacheMiss implements objectmgr.StatsListener
func (c *Collector) CacheMiss() { c.countLookup("miss") }

// ObjectCreated implements objectmgr.StatsListener
func (c *Collector) ObjectCreated() { c.countObjects("created", 1) }

// ObjectFaulted implements objectmgr.StatsListener
func (c *Collector) ObjectFaulted(found bool) {
	if found {
		c.countObjects("faulted", 1)
		return
	}
	c.countObjects("missing", 1)
}

// ObjectsFlushed implements objectmgr.StatsListener
func (c *Collector) ObjectsFlushed(n int) { c.countObjects("flushed", n) }

// ObjectsEvicted implements objectmgr.StatsListener
func (c *Collector) ObjectsEvicted(n int) { c.countObjects("evicted", n) }

func (c *Collector) countLookup(result string) {
	if !c.config.Enabled {
		return
	}
	c.lookupCounter.With(prometheus.Labels{"result": result}).Inc()
}

func (c *Collector) countObjects(event string, n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.objectCounter.With(prometheus.Labels{"event": event}).Add(float64(n))
}

// RecordOperation records a timed operation such as an eviction pass
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	if err != nil {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	c.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		c.RecordError(operation, err)
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordEviction records an eviction pass
func (c *Collector) RecordEviction(stats objectmgr.EvictionStats, duration time.Duration, err error) {
	c.RecordOperation("evict", duration, err)
}

// RecordGCCycle records a collection cycle
func (c *Collector) RecordGCCycle(stats gc.CycleStats, err error) {
	if !c.config.Enabled {
		return
	}
	c.RecordOperation("gc", stats.Duration, err)
	c.gcGarbage.Add(float64(stats.Garbage))
}

// RecordGCState tracks the collector state
func (c *Collector) RecordGCState(from, to gc.State) {
	if !c.config.Enabled {
		return
	}
	c.gcStateGauge.Set(float64(to))
}

// RecordError records an error under its error code
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      classifyError(err),
	}).Inc()
}

// GetMetrics returns a copy of the tracked operations
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// ResetMetrics resets the tracked operations
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	labels := prometheus.Labels(c.config.Labels)

	c.lookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_lookups_total",
			Help:        "Object lookups by cache result",
			ConstLabels: labels,
		},
		[]string{"result"},
	)

	c.objectCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_objects_total",
			Help:        "Objects created, faulted, flushed and evicted",
			ConstLabels: labels,
		},
		[]string{"event"},
	)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of background operations",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of background operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors by code",
			ConstLabels: labels,
		},
		[]string{"operation", "code"},
	)

	c.referencesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_references",
			Help:        "Cached references by state",
			ConstLabels: labels,
		},
		[]string{"state"},
	)

	c.queueGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "queue_depth",
			Help:        "Waiting lookups and gateway queue depths",
			ConstLabels: labels,
		},
		[]string{"queue"},
	)

	c.gcStateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "gc_state",
			Help:        "Collector state (0 disabled, 1 sleep, 2 running, 3 pausing, 4 paused, 5 delete)",
			ConstLabels: labels,
		},
	)

	c.gcGarbage = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "gc_garbage_objects_total",
			Help:        "Objects removed by garbage collection",
			ConstLabels: labels,
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.lookupCounter,
		c.objectCounter,
		c.operationCounter,
		c.operationDuration,
		c.errorCounter,
		c.referencesGauge,
		c.queueGauge,
		c.gcStateGauge,
		c.gcGarbage,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func classifyError(err error) string {
	if code, ok := errors.CodeOf(err); ok {
		return string(code)
	}
	return "OTHER"
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	c.updatePeriodicMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.updatePeriodicMetrics()
		}
	}
}

// updatePeriodicMetrics refreshes the gauges from the watched sources
func (c *Collector) updatePeriodicMetrics() {
	if !c.config.Enabled {
		return
	}

	c.mu.RLock()
	snapshot, queues := c.snapshot, c.queues
	c.mu.RUnlock()

	if snapshot != nil {
		s := snapshot()
		c.referencesGauge.With(prometheus.Labels{"state": "resident"}).Set(float64(s.Resident))
		c.referencesGauge.With(prometheus.Labels{"state": "faulting"}).Set(float64(s.Faulting))
		c.referencesGauge.With(prometheus.Labels{"state": "new"}).Set(float64(s.New))
		c.referencesGauge.With(prometheus.Labels{"state": "pinned"}).Set(float64(s.Pinned))
		c.referencesGauge.With(prometheus.Labels{"state": "checked_out"}).Set(float64(s.CheckedOut))
		c.referencesGauge.With(prometheus.Labels{"state": "evictable"}).Set(float64(s.Evictable))
		c.queueGauge.With(prometheus.Labels{"queue": "pending"}).Set(float64(s.Pending))
		c.queueGauge.With(prometheus.Labels{"queue": "blocked"}).Set(float64(s.Blocked))
		c.queueGauge.With(prometheus.Labels{"queue": "flushing"}).Set(float64(s.Flushing))
	}
	if queues != nil {
		faults, flushes := queues()
		c.queueGauge.With(prometheus.Labels{"queue": "faults"}).Set(float64(faults))
		c.queueGauge.With(prometheus.Labels{"queue": "flushes"}).Set(float64(flushes))
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "healthy", "service": "objectcache"}

	c.mu.RLock()
	snapshot := c.snapshot
	c.mu.RUnlock()
	if snapshot != nil {
		s := snapshot()
		status["references"] = s.References
		status["checked_out"] = s.CheckedOut
		if s.Shutdown {
			status["status"] = "shutting_down"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if status["status"] != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("objectcache operations\n")
	writef("======================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if c.snapshot != nil {
		writef("%s\n", c.snapshot().String())
	}

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-12s %10s %10s %12s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-12s %10s %10s %12s %10s\n", "---------", "-----", "------", "------------", "-------")
	for name, op := range c.operations {
		writef("%-12s %10d %10d %12v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}

var _ objectmgr.StatsListener = (*Collector)(nil)

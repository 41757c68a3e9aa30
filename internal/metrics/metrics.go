package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Executor metrics
	AdmissionOpenRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "open_requests",
		Help:      "Current admitted, not-yet-complete requests per model.",
	}, []string{"model"})

	AdmissionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "admission_rejected_total",
		Help:      "Requests rejected at admission because the cap was reached.",
	}, []string{"model"})

	TasksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "tasks_dropped_total",
		Help:      "Tasks dropped before reaching a terminal forward, by reason.",
	}, []string{"model", "reason"})

	BatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "batch_size",
		Help:      "Number of tasks assembled into each forward batch.",
		Buckets:   prometheus.LinearBuckets(1, 4, 16),
	}, []string{"model"})

	ForwardLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "forward_seconds",
		Help:      "Model forward latency per batch.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"model"})

	ForwardFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "forward_failures_total",
		Help:      "Model forward failures, split by permanence.",
	}, []string{"model", "permanent"})

	BreakerTripped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "breaker_tripped_total",
		Help:      "Times the forward breaker tripped on consecutive failures.",
	}, []string{"model"})

	RequestRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "request_rate",
		Help:      "EWMA-smoothed request arrival rate per model.",
	}, []string{"model"})

	DropRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "drop_rate",
		Help:      "EWMA-smoothed task drop rate per model.",
	}, []string{"model"})

	// Preprocess worker pool metrics
	PreprocessProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "preprocess",
		Name:      "processed_total",
		Help:      "Tasks successfully preprocessed.",
	}, []string{"model"})

	PreprocessFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "preprocess",
		Name:      "failed_total",
		Help:      "Tasks that failed preprocessing.",
	}, []string{"model"})

	PreprocessQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "preprocess",
		Name:      "queue_depth",
		Help:      "Current depth of the pre-batch queue.",
	}, []string{"model"})

	// Dispatcher / DRR metrics
	RouteBackendCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "dispatcher",
		Name:      "backend_count",
		Help:      "Number of live backends in a model route.",
	}, []string{"model_session"})

	RouteSelections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "dispatcher",
		Name:      "selections_total",
		Help:      "Backend selections made by the DRR router.",
	}, []string{"model_session", "backend"})

	RouteMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "dispatcher",
		Name:      "misses_total",
		Help:      "GetBackend calls for an unknown or empty route.",
	}, []string{"model_session"})

	// UDP server metrics
	UDPReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "udp",
		Name:      "received_total",
		Help:      "Datagrams received.",
	})

	UDPDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "udp",
		Name:      "dropped_total",
		Help:      "Datagrams dropped because the inbound queue was full.",
	})

	UDPParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "udp",
		Name:      "parse_errors_total",
		Help:      "Requests rejected at parse time.",
	})

	UDPReplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "udp",
		Name:      "replied_total",
		Help:      "Replies sent.",
	})

	// Trace sink metrics
	TraceSinkFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "trace_sink",
		Name:      "flushed_total",
		Help:      "Decision records flushed, by destination.",
	}, []string{"destination"})

	TraceSinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "trace_sink",
		Name:      "failures_total",
		Help:      "Flush attempts that failed, by destination.",
	}, []string{"destination"})

	// System metrics
	SystemInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "system",
		Name:      "info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_date", "go_version"})

	SystemUptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "system",
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	})
)

var (
	registry  *prometheus.Registry
	regOnce   sync.Once
	startTime time.Time
)

// Init constructs the metrics registry exactly once and starts the uptime
// updater. Safe to call from both daemons' main functions.
func Init() {
	regOnce.Do(func() {
		startTime = time.Now()
		registry = prometheus.NewRegistry()

		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		registry.MustRegister(
			AdmissionOpenRequests, AdmissionRejected, TasksDropped,
			BatchSize, ForwardLatency, ForwardFailures, BreakerTripped,
			RequestRate, DropRate,
			PreprocessProcessed, PreprocessFailed, PreprocessQueueDepth,
			RouteBackendCount, RouteSelections, RouteMisses,
			UDPReceived, UDPDropped, UDPParseErrors, UDPReplied,
			TraceSinkFlushed, TraceSinkFailures,
			SystemInfo, SystemUptime,
		)

		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				SystemUptime.Set(time.Since(startTime).Seconds())
			}
		}()
	})
}

// Registry returns the custom Prometheus registry for /metrics handlers.
func Registry() *prometheus.Registry {
	return registry
}

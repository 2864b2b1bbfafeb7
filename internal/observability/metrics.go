package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beatsd"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "connections_active",
			Help:      "Currently open beats connections.",
		},
	)
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "connections_total",
			Help:      "Accepted beats connections.",
		},
	)
	batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "batches_total",
			Help:      "Dispatched batches by protocol version.",
		},
		[]string{"version"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "messages_total",
			Help:      "Messages delivered to the listener by protocol version.",
		},
		[]string{"version"},
	)
	acks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "acks_total",
			Help:      "Ack frames written, by kind (batch or keepalive).",
		},
		[]string{"kind"},
	)
	connErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "errors_total",
			Help:      "Connection-fatal errors by kind.",
		},
		[]string{"kind"},
	)
	inflatedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "inflated_bytes_total",
			Help:      "Bytes produced by inflating compressed frames.",
		},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "beats",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to deliver and ack one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"version"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connectionsActive,
			connectionsTotal,
			batches,
			messages,
			acks,
			connErrors,
			inflatedBytes,
			dispatchDuration,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordBatch(version string, size int, duration time.Duration) {
	RegisterMetrics()
	batches.WithLabelValues(version).Inc()
	messages.WithLabelValues(version).Add(float64(size))
	dispatchDuration.WithLabelValues(version).Observe(duration.Seconds())
}

func RecordAck(kind string) {
	RegisterMetrics()
	acks.WithLabelValues(kind).Inc()
}

func RecordError(kind string) {
	RegisterMetrics()
	connErrors.WithLabelValues(kind).Inc()
}

func RecordInflatedBytes(n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	inflatedBytes.Add(float64(n))
}

// Package metrics holds the prometheus collectors for the session service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmpcs",
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Session status transitions applied.",
		},
		[]string{"from", "to"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmpcs",
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Engine operations rejected, by error kind.",
		},
		[]string{"op", "kind"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmpcs",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	codecOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmpcs",
			Subsystem: "codec",
			Name:      "operations_total",
			Help:      "Token encode and decode attempts.",
		},
		[]string{"op", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmpcs",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmpcs",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transitions, rejections, operationDuration, codecOperations, httpRequests, httpDuration)
	})
}

func RecordTransition(from, to string) {
	RegisterMetrics()
	transitions.WithLabelValues(from, to).Inc()
}

func RecordRejection(op, kind string) {
	RegisterMetrics()
	rejections.WithLabelValues(op, kind).Inc()
}

func ObserveOperation(op string, duration time.Duration) {
	RegisterMetrics()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCodec counts one encode or decode with result "ok" or "error".
func RecordCodec(op string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	codecOperations.WithLabelValues(op, result).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AdmissionsTotal counts replay-registry Insert outcomes by reason:
	// admitted, replay, out_of_window, duplicate, no_capacity.
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authchain",
			Name:      "admissions_total",
			Help:      "Total number of replay-registry admission decisions",
		},
		[]string{"reason"},
	)

	// WindowEvictionsTotal counts LRU evictions of idle per-client windows.
	WindowEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authchain",
			Name:      "window_evictions_total",
			Help:      "Total number of connection windows evicted from the LRU",
		},
		[]string{},
	)

	// HandshakeFailuresTotal counts handshake parse failures by cause.
	HandshakeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authchain",
			Name:      "handshake_failures_total",
			Help:      "Total number of handshake parse failures",
		},
		[]string{"reason"},
	)

	// FrameMACFailuresTotal counts fatal frame decode failures (a MAC
	// mismatch or an oversize length), the trigger for a session's fall
	// back to raw passthrough.
	FrameMACFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authchain",
			Name:      "frame_mac_failures_total",
			Help:      "Total number of fatal frame decode failures (MAC mismatch or oversize length)",
		},
		[]string{"direction"},
	)

	// Ensure metrics are only registered once.
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// Idempotent: safe to call multiple times.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(AdmissionsTotal)
		prometheus.DefaultRegisterer.Register(WindowEvictionsTotal)
		prometheus.DefaultRegisterer.Register(HandshakeFailuresTotal)
		prometheus.DefaultRegisterer.Register(FrameMACFailuresTotal)
	})
}

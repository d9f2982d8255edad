package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay.
//
// Only counts and durations are recorded, never frame content.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter
	SessionDuration prometheus.Histogram

	// Frame metrics
	ClientFrames   prometheus.Counter
	UpstreamFrames prometheus.Counter
	PendingDropped prometheus.Counter
	InvalidFrames  prometheus.Counter

	// Upstream metrics
	UpstreamConnectFailures prometheus.Counter
	ToolCalls               prometheus.Counter
}

// NewMetrics creates and registers all relay metrics with the default
// registry. Call at most once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_relay_active_sessions",
			Help: "Number of currently open client sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_sessions_created_total",
			Help: "Total number of client sessions created",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_sessions_expired_total",
			Help: "Total number of sessions closed by the idle timeout",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_relay_session_duration_seconds",
			Help:    "Lifetime of closed sessions",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ClientFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_client_frames_total",
			Help: "Total frames forwarded from clients to the upstream API",
		}),
		UpstreamFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_upstream_frames_total",
			Help: "Total frames forwarded from the upstream API to clients",
		}),
		PendingDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_pending_dropped_total",
			Help: "Client frames dropped because the pre-setup buffer was full",
		}),
		InvalidFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_invalid_frames_total",
			Help: "Client frames that failed to parse",
		}),
		UpstreamConnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_upstream_connect_failures_total",
			Help: "Failed attempts to open the upstream Live connection",
		}),
		ToolCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_tool_calls_total",
			Help: "Function calls requested by the model",
		}),
	}
}

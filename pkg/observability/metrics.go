package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reasoning loop metrics
	loopIterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsql_loop_iterations_total",
			Help: "Total number of reasoning loop iterations",
		},
		[]string{"phase"},
	)

	loopRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insightsql_loop_retries_total",
			Help: "Total number of self-correction retries",
		},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsql_turns_total",
			Help: "Total number of completed turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insightsql_turn_duration_seconds",
			Help:    "Wall time per conversational turn",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SQL tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsql_tool_calls_total",
			Help: "Total number of SQL tool invocations by status",
		},
		[]string{"status"},
	)

	toolCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insightsql_tool_call_duration_seconds",
			Help:    "SQL tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session metrics
	sessionsConnectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insightsql_sessions_connected_total",
			Help: "Total number of successful database connections",
		},
	)

	sessionResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsql_session_resets_total",
			Help: "Total number of session resets by kind",
		},
		[]string{"kind"},
	)

	registerOnce sync.Once
)

// InitMetrics registers all metrics with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			loopIterationsTotal,
			loopRetriesTotal,
			turnsTotal,
			turnDuration,
			toolCallsTotal,
			toolCallDuration,
			sessionsConnectedTotal,
			sessionResetsTotal,
		)
	})
}

// RecordLoopIteration records one loop phase execution.
func RecordLoopIteration(phase string) {
	loopIterationsTotal.WithLabelValues(phase).Inc()
}

// RecordRetry records one self-correction retry.
func RecordRetry() {
	loopRetriesTotal.Inc()
}

// RecordTurn records a completed turn and its duration.
func RecordTurn(outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(duration.Seconds())
}

// RecordToolCall records one SQL tool invocation.
func RecordToolCall(status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(status).Inc()
	toolCallDuration.Observe(duration.Seconds())
}

// RecordSessionConnected records a successful connect.
func RecordSessionConnected() {
	sessionsConnectedTotal.Inc()
}

// RecordSessionReset records a soft or hard reset.
func RecordSessionReset(kind string) {
	sessionResetsTotal.WithLabelValues(kind).Inc()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

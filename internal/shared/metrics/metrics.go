package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_started_total",
			Help: "Total automation sessions started, including auto-restarts",
		},
	)

	sessionsStoppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_stopped_total",
			Help: "Total automation sessions stopped by reason (user/quota/worker_failure/heartbeat_timeout/admin)",
		},
		[]string{"reason"},
	)

	applicationsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "applications_submitted_total",
			Help: "Total job applications submitted across all sessions",
		},
	)

	quotaExhaustionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_exhaustions_total",
			Help: "Total times a session hit its daily application quota",
		},
	)

	autoRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auto_restarts_total",
			Help: "Total sessions re-armed by the auto-restart scheduler after a quota reset",
		},
	)

	workerHeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_heartbeat_timeouts_total",
			Help: "Total sessions failed because the worker stopped reporting",
		},
	)

	handoffDispatchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_dispatch_failures_total",
			Help: "Total worker handoff dispatch failures after retries",
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Current number of sessions in starting, running, or paused state",
		},
	)

	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_duration_seconds",
			Help:    "Session lifetime from start to terminal state in seconds",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		},
	)
)

// IncSessionStarted increments the started counter.
func IncSessionStarted() {
	sessionsStartedTotal.Inc()
}

// IncSessionStopped increments the stopped counter for the given reason.
func IncSessionStopped(reason string) {
	sessionsStoppedTotal.WithLabelValues(reason).Inc()
}

// IncApplicationSubmitted increments the submitted-applications counter.
func IncApplicationSubmitted() {
	applicationsSubmittedTotal.Inc()
}

// IncQuotaExhaustion increments the quota-exhaustion counter.
func IncQuotaExhaustion() {
	quotaExhaustionsTotal.Inc()
}

// IncAutoRestart increments the auto-restart counter.
func IncAutoRestart() {
	autoRestartsTotal.Inc()
}

// IncHeartbeatTimeout increments the worker heartbeat timeout counter.
func IncHeartbeatTimeout() {
	workerHeartbeatTimeoutsTotal.Inc()
}

// IncHandoffDispatchFailure increments the handoff dispatch failure counter.
func IncHandoffDispatchFailure() {
	handoffDispatchFailuresTotal.Inc()
}

// SetActiveSessions records the current active session count.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// ObserveSessionDuration records a completed session's lifetime in seconds.
func ObserveSessionDuration(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	sessionDuration.Observe(seconds)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

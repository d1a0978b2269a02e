// Package metrics provides Prometheus metrics for BlazeTrack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "blazetrack"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// StreamClientsActive tracks connected websocket stream clients.
	StreamClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "stream_clients_active",
			Help:      "Number of connected signal stream clients",
		},
	)
)

// Tracker metrics
var (
	// ErrorsCapturedTotal counts captured error events by level.
	ErrorsCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "errors_captured_total",
			Help:      "Total error events captured",
		},
		[]string{"level"},
	)

	// CaptureFailuresTotal counts captures rejected by the store.
	CaptureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "capture_failures_total",
			Help:      "Total error captures that failed to persist",
		},
	)

	// ErrorGroupsActive tracks error groups held in memory.
	ErrorGroupsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "groups_active",
			Help:      "Number of error groups held in memory",
		},
	)

	// ErrorAlertSignalsTotal counts alert-worthy signals by reason.
	ErrorAlertSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "alert_signals_total",
			Help:      "Total alert-worthy signals raised by built-in checks",
		},
		[]string{"reason"}, // severity, new_group, spike
	)

	// HealthScore exposes the last computed health score.
	HealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "health_score",
			Help:      "Last computed 0-100 health score",
		},
	)
)

// Alerting metrics
var (
	// AlertsCreatedTotal counts persisted alerts by severity.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_created_total",
			Help:      "Total alerts created",
		},
		[]string{"severity"},
	)

	// AlertsDroppedTotal counts alerts dropped before persistence.
	AlertsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_dropped_total",
			Help:      "Total alerts dropped before persistence",
		},
		[]string{"reason"}, // suppressed, rule_suppressed, throttled
	)

	// AlertTransitionsTotal counts lifecycle transitions.
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "transitions_total",
			Help:      "Total alert lifecycle transitions",
		},
		[]string{"status"},
	)

	// RulesLoaded tracks the number of loaded alert rules.
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "rules_loaded",
			Help:      "Number of alert rules loaded",
		},
	)

	// SuppressionsActive tracks unexpired suppression entries.
	SuppressionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "suppressions_active",
			Help:      "Number of unexpired suppression entries",
		},
	)
)

// Escalation metrics
var (
	// EscalationsStartedTotal counts started escalations.
	EscalationsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "started_total",
			Help:      "Total escalations started",
		},
	)

	// EscalationsTriggeredTotal counts executed escalation levels.
	EscalationsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "triggered_total",
			Help:      "Total escalation levels executed",
		},
		[]string{"level"},
	)

	// EscalationsActive tracks active escalation instances.
	EscalationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "active",
			Help:      "Number of active escalation instances",
		},
	)

	// EscalationSweepRecoveredTotal counts overdue instances re-triggered by the sweep.
	EscalationSweepRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "sweep_recovered_total",
			Help:      "Total overdue escalations re-triggered by the sweep",
		},
	)
)

// Notification metrics
var (
	// NotificationsSentTotal counts successful deliveries.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_sent_total",
			Help:      "Total notifications sent successfully",
		},
		[]string{"channel"},
	)

	// NotificationsFailedTotal counts failed delivery attempts.
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_failed_total",
			Help:      "Total failed notification attempts",
		},
		[]string{"channel"},
	)

	// NotificationRetriesTotal counts scheduled retries.
	NotificationRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "retries_total",
			Help:      "Total notification retries scheduled",
		},
		[]string{"channel"},
	)

	// NotificationsRateLimitedTotal counts attempts rejected by channel rate limits.
	NotificationsRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "rate_limited_total",
			Help:      "Total notifications rejected by channel rate limits",
		},
		[]string{"channel"},
	)

	// NotificationDeliveryDuration tracks adapter latency.
	NotificationDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "delivery_duration_seconds",
			Help:      "Channel adapter delivery latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)
)

// Event bus metrics
var (
	// BusSignalsTotal counts published signals by type.
	BusSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "signals_total",
			Help:      "Total signals published",
		},
		[]string{"type"},
	)

	// BusDroppedTotal counts signals dropped on full subscriber buffers.
	BusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Total signals dropped due to full subscriber buffers",
		},
		[]string{"subscriber"},
	)

	// BusHandlerPanicsTotal counts recovered handler panics.
	BusHandlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "handler_panics_total",
			Help:      "Total panics recovered from signal handlers",
		},
		[]string{"type"},
	)
)

// Storage metrics
var (
	// StorageQueryDuration tracks query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation", "backend"},
	)
)

// Scheduler metrics
var (
	// SweepRunsTotal counts periodic job runs by job and result.
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total periodic job runs",
		},
		[]string{"job", "result"}, // success, error
	)
)

// Auth metrics
var (
	// AuthFailuresTotal counts rejected API requests.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total rejected API requests",
		},
		[]string{"reason"}, // missing, invalid
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Package metrics declares the Prometheus collectors exported on /metrics.
// All collectors are registered with the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IncidentsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_incidents_submitted_total",
			Help: "Total number of incidents submitted",
		},
		[]string{"source"},
	)

	IncidentsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_incidents_deduplicated_total",
			Help: "Submissions answered with an existing incident inside the dedup window",
		},
	)

	// StageTransitions counts transitions by destination stage.
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_stage_transitions_total",
			Help: "Total number of incident stage transitions",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardian_stage_duration_seconds",
			Help:    "Time spent doing the work of each stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	ActiveRunners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_active_runners",
			Help: "Incidents currently being driven by a runner goroutine",
		},
	)

	PendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_pending_approvals",
			Help: "Incidents parked at the approval gate",
		},
	)

	IntelLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_intel_lookups_total",
			Help: "Threat intelligence lookups by provider and verdict",
		},
		[]string{"provider", "verdict"},
	)

	IntelLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardian_intel_lookup_duration_seconds",
			Help:    "Latency of threat intelligence lookups",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ReasoningCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_reasoning_calls_total",
			Help: "Reasoning gateway calls by gateway, operation and outcome",
		},
		[]string{"gateway", "operation", "outcome"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_actions_executed_total",
			Help: "Total number of remediation actions by type and status",
		},
		[]string{"type", "status"},
	)

	EnforcementEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_enforcement_entries",
			Help: "Active entries per enforcement set",
		},
		[]string{"kind"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_events_published_total",
			Help: "Events published to the broadcaster by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_subscribers",
			Help: "Live event subscriptions",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_notifications_sent_total",
			Help: "Notifications by channel type and outcome",
		},
		[]string{"channel", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_circuit_breaker_open",
			Help: "1 when the named circuit breaker is open or half open",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// SQLite connection pool collectors, labelled by pool ("read" or "write").
var (
	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_sqlite_pool_open_connections",
			Help: "Open connections in the SQLite pool",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_sqlite_pool_in_use",
			Help: "Connections currently in use",
		},
		[]string{"pool"},
	)

	SQLitePoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_sqlite_pool_wait_count_total",
			Help: "Connections waited for",
		},
		[]string{"pool"},
	)

	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_ingest_messages_total",
			Help: "Syslog lines received by outcome",
		},
		[]string{"protocol", "outcome"},
	)

	IngestConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_ingest_tcp_connections",
			Help: "Open syslog TCP connections",
		},
	)

	IngestConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_ingest_tcp_connections_rejected_total",
			Help: "Syslog TCP connections refused by reason",
		},
		[]string{"reason"},
	)
)

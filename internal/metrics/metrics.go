// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_policy_decisions_total",
			Help: "PolicyGate decisions by outcome (allowed, robots_denied, rate_limited)",
		},
		[]string{"outcome"},
	)

	RobotsFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_policy_robots_fetches_total",
			Help: "robots.txt fetches by result",
		},
		[]string{"result"},
	)

	// Extraction metrics
	TierAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_extract_tier_attempts_total",
			Help: "Extraction tier attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whatson_extract_fetch_duration_seconds",
			Help:    "Duration of a full tier-fallback fetch in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	// Normalization metrics
	NormalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatson_normalize_duration_seconds",
			Help:    "Duration of LLM normalization calls in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	NormalizationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatson_normalize_failures_total",
			Help: "Normalizer responses rejected for not matching the output schema",
		},
	)

	DraftsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_normalize_drafts_total",
			Help: "Event drafts by disposition (accepted, flagged, rejected)",
		},
		[]string{"disposition"},
	)

	// Ingestion metrics
	SourceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_ingest_source_outcomes_total",
			Help: "Per-source ingestion outcomes by status",
		},
		[]string{"status"},
	)

	EventsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_ingest_events_upserted_total",
			Help: "Upserted events by operation (created, updated)",
		},
		[]string{"op"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatson_ingest_run_duration_seconds",
			Help:    "Duration of full ingestion runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_search_requests_total",
			Help: "Search executions by surface (text, structured, browse, tool, mcp)",
		},
		[]string{"surface"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatson_search_duration_seconds",
			Help:    "Duration of SearchExecutor calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Chat metrics
	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_chat_turns_total",
			Help: "Chat turns by outcome (answered, depth_exceeded, degraded, discarded)",
		},
		[]string{"outcome"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatson_chat_tool_calls_total",
			Help: "Tool calls executed by the orchestrator by result (ok, invalid, error, timeout)",
		},
		[]string{"result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whatson_chat_active_sessions",
			Help: "Open conversation sessions",
		},
	)
)

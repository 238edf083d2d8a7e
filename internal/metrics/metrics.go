package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK       = "ok"
	OutcomeSQLError = "sql_error"
	OutcomeTimeout  = "timeout"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlgate_build_info",
			Help: "Build information of the sqlgate server",
		},
		[]string{"version", "commit", "date"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_requests_total",
			Help: "Total number of JSON-RPC requests by method and response code",
		},
		[]string{"method", "code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlgate_request_duration_seconds",
			Help:    "Duration of JSON-RPC requests by method",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"method"},
	)

	QueryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_query_outcomes_total",
			Help: "Read-only query executions by outcome",
		},
		[]string{"outcome"},
	)

	QueryTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlgate_query_truncated_total",
			Help: "Read-only query results truncated at the row limit",
		},
	)

	SchemaTables = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlgate_schema_tables",
			Help: "Number of tables in the last schema description",
		},
	)
)

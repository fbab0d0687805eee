// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "revision_engine"
)

var (
	// RevisionsTotal 修订操作计数，outcome 取值 revisioned/skipped/failed
	RevisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "total",
			Help:      "Total number of revision attempts by outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	RevisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "duration_seconds",
			Help:      "Duration of a full copy-on-write revision including cascades",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"entity_type"},
	)

	// CascadeRows 单次修订中级联处理的关联行数
	CascadeRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "cascade_rows",
			Help:      "Number of related rows touched while cascading one revision",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"entity_type", "kind"},
	)

	UnknownRelationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "unknown_relations_total",
			Help:      "Relations skipped during cascade because they could not be classified",
		},
		[]string{"entity_type", "relation"},
	)

	ChainRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "chain_repairs_total",
			Help:      "Chain repairs performed on hard delete",
		},
		[]string{"entity_type", "mode"},
	)

	TemporalQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "temporal_total",
			Help:      "Temporal scopes built by bound kind",
		},
		[]string{"entity_type", "until", "since"},
	)

	CheckpointCascadesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "cascades_total",
			Help:      "Set-based revision updates triggered by checkpoint changes",
		},
		[]string{"operation"},
	)

	BootstrapRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "rows_total",
			Help:      "Rows visited by the bootstrap revision initializer",
		},
		[]string{"table", "result"},
	)
)

// RecordRevision 记录修订结果
func RecordRevision(entityType, outcome string, seconds float64) {
	RevisionsTotal.WithLabelValues(entityType, outcome).Inc()
	if outcome == "revisioned" {
		RevisionDuration.WithLabelValues(entityType).Observe(seconds)
	}
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replication metrics
	IsPrimary = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heartwood_is_primary",
			Help: "Whether this node is the elected primary (1) or a follower (0)",
		},
	)

	ClusterEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heartwood_cluster_epoch",
			Help: "Current replication epoch observed by this node",
		},
	)

	MembersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heartwood_cluster_members_total",
			Help: "Total number of members in the replication broker's view",
		},
	)

	ReplicationLagTxns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heartwood_replication_lag_transactions",
			Help: "Transactions this follower is behind the primary, by resource",
		},
		[]string{"resource"},
	)

	// Transaction coordinator metrics
	TxCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartwood_tx_commits_total",
			Help: "Total committed transactions by resource",
		},
		[]string{"resource"},
	)

	TxAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartwood_tx_aborts_total",
			Help: "Total aborted transactions by reason",
		},
		[]string{"reason"},
	)

	TxCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartwood_tx_commit_duration_seconds",
			Help:    "Time taken for two-phase commit across enlisted data sources",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartwood_lock_wait_duration_seconds",
			Help:    "Time spent blocked waiting for a record lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadlocksDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartwood_deadlocks_detected_total",
			Help: "Total wait-for cycles detected by the lock manager",
		},
	)

	// Logical log metrics
	LogAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartwood_walog_appends_total",
			Help: "Total logical log entries appended",
		},
	)

	LogForceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartwood_walog_force_duration_seconds",
			Help:    "Time taken to force the logical log to durable storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	LogRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartwood_walog_rotations_total",
			Help: "Total logical log rotations performed",
		},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartwood_recovery_duration_seconds",
			Help:    "Time taken to replay the logical log on boot",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveryTxReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartwood_recovery_transactions_replayed_total",
			Help: "Total committed transactions replayed during recovery",
		},
	)

	// Primary RPC / follower runtime metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartwood_rpc_requests_total",
			Help: "Total primary RPC requests by opcode and status",
		},
		[]string{"opcode", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heartwood_rpc_request_duration_seconds",
			Help:    "Primary RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"opcode"},
	)

	BranchQuarantinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartwood_branch_quarantines_total",
			Help: "Total times this node's store was quarantined for branched data",
		},
	)
)

func init() {
	prometheus.MustRegister(
		IsPrimary,
		ClusterEpoch,
		MembersTotal,
		ReplicationLagTxns,
		TxCommitsTotal,
		TxAbortsTotal,
		TxCommitDuration,
		LockWaitDuration,
		DeadlocksDetectedTotal,
		LogAppendsTotal,
		LogForceDuration,
		LogRotationsTotal,
		RecoveryDuration,
		RecoveryTxReplayedTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
		BranchQuarantinesTotal,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

/*
Package metrics provides Prometheus metrics collection and exposition for
Heartwood.

It defines and registers all Heartwood metrics using the Prometheus client
library: replication state (primary/epoch/membership), transaction
coordinator behavior (commits, aborts, lock waits, deadlocks), the logical
log (appends, force latency, rotations, recovery), and the primary RPC
surface (request counts and latency, branch quarantines). Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Metrics Catalog

Replication:

	heartwood_is_primary                      gauge
	heartwood_cluster_epoch                    gauge
	heartwood_cluster_members_total            gauge
	heartwood_replication_lag_transactions{resource} gauge

Transaction coordinator:

	heartwood_tx_commits_total{resource}       counter
	heartwood_tx_aborts_total{reason}          counter
	heartwood_tx_commit_duration_seconds       histogram
	heartwood_lock_wait_duration_seconds       histogram
	heartwood_deadlocks_detected_total         counter

Logical log:

	heartwood_walog_appends_total              counter
	heartwood_walog_force_duration_seconds     histogram
	heartwood_walog_rotations_total            counter
	heartwood_recovery_duration_seconds        histogram
	heartwood_recovery_transactions_replayed_total counter

Primary RPC / follower runtime:

	heartwood_rpc_requests_total{opcode,status} counter
	heartwood_rpc_request_duration_seconds{opcode} histogram
	heartwood_branch_quarantines_total          counter

# Usage

	timer := metrics.NewTimer()
	err := coordinator.Commit(tx, globalTxID)
	timer.ObserveDuration(metrics.TxCommitDuration)
	if err != nil {
		metrics.TxAbortsTotal.WithLabelValues("conflict").Inc()
	}

	http.Handle("/metrics", metrics.Handler())

# Integration Points

  - pkg/broker: sets IsPrimary, ClusterEpoch, MembersTotal directly;
    Collector also polls them through StatsSource
  - pkg/txn: commit/abort/deadlock counters and the commit-duration histogram
  - pkg/walog: append/force/rotation counters and recovery histograms
  - no package updates the replication-lag gauge, the lock-wait
    histogram, the RPC request series or the branch-quarantine counter
*/
package metrics

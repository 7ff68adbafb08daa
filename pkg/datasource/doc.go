/*
Package datasource implements the pluggable data-source registry
distilled spec §6 and §4.4 describe: every participant in a
transaction — the graph store and any secondary index a deployment
layers on top of it — satisfies the same Source contract so
pkg/txn.Coordinator and pkg/replica.Client can prepare, commit, and
replay them uniformly.

GraphSource is the always-present Source wrapping pkg/store and
pkg/walog. It enforces gap rejection: ApplyCommitted refuses any
transaction id more than one past its own LastCommittedTxID, forcing a
caller that fell behind to re-extract from last+1 rather than silently
skipping committed history.
*/
package datasource

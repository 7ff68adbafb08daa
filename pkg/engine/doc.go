// Package engine wires pkg/store, pkg/walog, pkg/txn, pkg/datasource,
// pkg/broker, and pkg/lifecycle into the single embeddable handle a
// caller opens: Engine. It replaces the distilled spec's "singleton
// registry of kernel instances keyed by numeric id" design note with
// an explicit handle returned at construction — callers thread
// *Engine, nothing is looked up by global id.
//
// Engine's public surface is record-level, not a graph API: BeginTx
// returns a Tx that reads and writes fixed records directly, the same
// granularity pkg/store and pkg/datasource operate at.
package engine

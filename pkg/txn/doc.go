/*
Package txn implements Heartwood's transaction coordinator: two-phase
commit over pkg/datasource.Source participants, with the graph store
always prepared and committed first (DESIGN.md's Open Question
decision #2), and a LockManager granting per-record-id read/write
locks with wait-for-graph deadlock detection.

Tx is threaded explicitly by callers rather than carried in
goroutine-local storage — Go has none — the same shape the teacher
uses threading *Manager through every RPC handler.

LockManager.Acquire records a blocked transaction's wait-for edges and
runs a DFS cycle search (detectDeadlockLocked) from it, aborting the
youngest transaction (latest Begin time) in any cycle found. When the
transaction that finds the cycle is not the youngest, it wakes the
blocked waiters so the youngest finds the same cycle and aborts.
*/
package txn

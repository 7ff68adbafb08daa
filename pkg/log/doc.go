// Package log wraps zerolog with Heartwood's component-logger conventions.
//
// Call Init once at process start, then derive child loggers with
// WithComponent/WithMachineID/WithResource/WithTxID/WithEpoch rather than
// logging through the global Logger directly, so every log line carries
// the context needed to correlate a transaction across the coordinator,
// the logical log, and the replication RPCs.
package log

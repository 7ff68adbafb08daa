/*
Package walog implements Heartwood's logical log: an append-only
stream of {type_tag, tx_local_id, payload_len, payload} entries
written to two alternating segment files
(nioneo_logical.log.{0,1}), each entry checksummed with
xxhash.Sum64 so a torn tail write stops recovery at exactly the point
it occurred rather than replaying garbage.

Writer.Append buffers one command per mutated record under a
transaction; Writer.Prepare forces every buffered entry durable before
the coordinator's commit phase begins; Writer.Commit writes and forces
the COMMIT entry carrying the globally agreed transaction id and the
primary epoch it was committed under. Writer.Done is not itself
logged — a committed transaction is always safe to replay to
completion, so the log only needs to know it committed.

Scan reconstructs the set of fully committed transactions from one or
more segment files, discarding any transaction that only has a
PREPARE (never committed) and any transaction explicitly marked
ROLLBACK. Rotation compresses rotated-out segments with zstd into
nioneo_logical.log.archive/ when keep_logical_logs is configured, so a
follower far enough behind that neither alternating segment covers it
can still be served.
*/
package walog

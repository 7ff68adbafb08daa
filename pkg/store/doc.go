/*
Package store implements Heartwood's on-disk store engine: the four
fixed-record files distilled spec §6 names (node store, relationship
store, property store with string/array dynamic spillover,
relationship-type store), each a RecordFile wrapping a BufferManager
backend (mmap or plain pwrite) and an IDAllocator that prefers reclaimed
ids from a btree-backed free list over growing the file.

Every file is stamped with the same 16-byte store identity on
creation; Open propagates the identity read from neostore into every
sibling file so a mismatched file — for instance one left behind by a
branch-quarantine move — is rejected rather than silently mixed in.

Store.Flush takes the logical log's durable LSN and passes it down to
every BufferManager, but no backend holds a page back on account of
it: each Flush writes back and syncs everything written so far.
*/
package store

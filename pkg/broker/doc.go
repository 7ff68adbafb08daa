/*
Package broker implements Heartwood's replication broker: an
externalized coordination service built on hashicorp/raft, used
purely for primary election, membership, and epoch agreement — never
for the graph transaction log, which is pkg/walog's job entirely.

The FSM (fsm.go) applies exactly two command kinds, bumpEpoch and
agreeStoreID; CurrentView reads {Epoch, PrimaryID, Members, Addresses}
from the FSM's in-memory state plus raft.GetConfiguration(). On every
observed leadership change the broker applies bumpEpoch itself, so the
epoch is strictly increasing and globally agreed regardless of which
machine becomes primary.

IAmPrimary is defined as raft.State() == raft.Leader: Heartwood layers
no separate election protocol on top of raft's own.
*/
package broker

package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// commandKind tags the two command kinds the broker's FSM ever
// applies — it carries no graph data itself, only cluster-identity
// and epoch agreement, per SPEC_FULL.md §4.5.
type commandKind string

const (
	cmdBumpEpoch    commandKind = "bump_epoch"
	cmdAgreeStoreID commandKind = "agree_store_id"
)

// fsmCommand is the JSON envelope applied through raft, mirroring the
// teacher's WarrenFSM Command{Op, Data} shape.
type fsmCommand struct {
	Kind commandKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// brokerFSM is the trivial raft.FSM backing the replication broker:
// it agrees on exactly two facts, a monotonically increasing epoch
// and the cluster's store identity, and nothing about graph data ever
// flows through it.
type brokerFSM struct {
	mu      sync.RWMutex
	epoch   uint64
	storeID string // first-agreed store identity; empty until CreateCluster commits one
}

func newBrokerFSM() *brokerFSM {
	return &brokerFSM{}
}

// Apply applies one committed raft log entry.
func (f *brokerFSM) Apply(log *raft.Log) interface{} {
	var cmd fsmCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("broker: unmarshal fsm command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Kind {
	case cmdBumpEpoch:
		f.epoch++
		return f.epoch

	case cmdAgreeStoreID:
		var storeID string
		if err := json.Unmarshal(cmd.Data, &storeID); err != nil {
			return fmt.Errorf("broker: unmarshal store id: %w", err)
		}
		if f.storeID == "" {
			f.storeID = storeID
		}
		return f.storeID

	default:
		return fmt.Errorf("broker: unknown fsm command kind %q", cmd.Kind)
	}
}

func (f *brokerFSM) snapshotState() (epoch uint64, storeID string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.epoch, f.storeID
}

// Snapshot returns the FSM's entire (tiny) state for raft's periodic
// compaction.
func (f *brokerFSM) Snapshot() (raft.FSMSnapshot, error) {
	epoch, storeID := f.snapshotState()
	return &brokerSnapshot{epoch: epoch, storeID: storeID}, nil
}

// Restore replaces the FSM's state from a snapshot taken earlier.
func (f *brokerFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap brokerSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("broker: decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.epoch = snap.Epoch
	f.storeID = snap.StoreID
	f.mu.Unlock()
	return nil
}

type brokerSnapshot struct {
	Epoch   uint64 `json:"epoch"`
	StoreID string `json:"store_id"`
	epoch   uint64
	storeID string
}

// Persist writes the snapshot to the given raft.SnapshotSink.
func (s *brokerSnapshot) Persist(sink raft.SnapshotSink) error {
	s.Epoch = s.epoch
	s.StoreID = s.storeID
	data, err := json.Marshal(s)
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("broker: marshal snapshot: %w", err)
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return fmt.Errorf("broker: write snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op; the snapshot holds no external resources.
func (s *brokerSnapshot) Release() {}

package broker

import (
	"encoding/json"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func applyCmd(t *testing.T, fsm *brokerFSM, kind commandKind, data interface{}) interface{} {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	cmd := fsmCommand{Kind: kind, Data: raw}
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: payload})
}

func TestBrokerFSMBumpEpoch(t *testing.T) {
	fsm := newBrokerFSM()

	result := applyCmd(t, fsm, cmdBumpEpoch, nil)
	require.Equal(t, uint64(1), result)

	result = applyCmd(t, fsm, cmdBumpEpoch, nil)
	require.Equal(t, uint64(2), result)
}

func TestBrokerFSMAgreeStoreIDOnce(t *testing.T) {
	fsm := newBrokerFSM()

	result := applyCmd(t, fsm, cmdAgreeStoreID, "store-a")
	require.Equal(t, "store-a", result)

	// A second proposal must not override the first-agreed value.
	result = applyCmd(t, fsm, cmdAgreeStoreID, "store-b")
	require.Equal(t, "store-a", result)
}

func TestBrokerFSMSnapshotRestore(t *testing.T) {
	fsm := newBrokerFSM()
	applyCmd(t, fsm, cmdBumpEpoch, nil)
	applyCmd(t, fsm, cmdAgreeStoreID, "store-x")

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &memSink{}
	require.NoError(t, snap.(*brokerSnapshot).Persist(sink))

	restored := newBrokerFSM()
	require.NoError(t, restored.Restore(sink.readCloser()))

	epoch, storeID := restored.snapshotState()
	require.Equal(t, uint64(1), epoch)
	require.Equal(t, "store-x", storeID)
}

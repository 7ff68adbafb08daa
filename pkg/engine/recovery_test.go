package engine

import (
	"testing"
	"time"

	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/storage"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/walog"
	"github.com/stretchr/testify/require"
)

// TestRecoverGraphLogReplaysUncheckpointedCommit simulates a process
// that died after Writer.Commit made a transaction durable but before
// GraphSource.ApplyCommitted's checkpoint write landed: the node
// record never made it into the store, and the graph source's
// checkpoint is still zero.
func TestRecoverGraphLogReplaysUncheckpointedCommit(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open(dir, false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logWriter, err := walog.NewWriter(dir, false)
	require.NoError(t, err)
	t.Cleanup(func() { logWriter.Close() })

	tokens, err := storage.NewBoltTokenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { tokens.Close() })

	id, err := st.AllocateIDRange(store.StoreNameNode, 1)
	require.NoError(t, err)
	cmd := datasource.EncodePutNode(id, store.NodeRecord{InUse: true, NextRelID: store.NoID, NextPropID: store.NoID})

	require.NoError(t, logWriter.Append(1, cmd))
	require.NoError(t, logWriter.Prepare(1))
	require.NoError(t, logWriter.Commit(1, 1, 1, 1))

	_, err = st.GetNode(id)
	require.Error(t, err, "the crash happened before the command was ever applied to the store")

	graphSrc, err := datasource.NewGraphSource(st, logWriter, tokens)
	require.NoError(t, err)
	require.Equal(t, uint64(0), graphSrc.LastCommittedTxID())

	registry := datasource.NewRegistry()
	registry.Register(graphSrc)

	eventBroker := events.NewBroker()
	eventBroker.Start()
	t.Cleanup(eventBroker.Stop)
	sub := eventBroker.Subscribe()
	t.Cleanup(func() { eventBroker.Unsubscribe(sub) })

	replayed, err := recoverGraphLog(logWriter, registry, eventBroker)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.Equal(t, uint64(1), graphSrc.LastCommittedTxID())

	rec, err := st.GetNode(id)
	require.NoError(t, err)
	require.True(t, rec.InUse)

	require.Eventually(t, func() bool {
		select {
		case ev := <-sub:
			return ev.Type == events.EventRecoveryCompleted
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "expected a recovery-completed event")
}

// TestRecoverGraphLogIsNoopWhenCheckpointCurrent covers the normal
// restart path: the checkpoint already reflects everything in the
// log, so recovery replays nothing.
func TestRecoverGraphLogIsNoopWhenCheckpointCurrent(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open(dir, false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logWriter, err := walog.NewWriter(dir, false)
	require.NoError(t, err)
	t.Cleanup(func() { logWriter.Close() })

	tokens, err := storage.NewBoltTokenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { tokens.Close() })

	graphSrc, err := datasource.NewGraphSource(st, logWriter, tokens)
	require.NoError(t, err)

	registry := datasource.NewRegistry()
	registry.Register(graphSrc)

	replayed, err := recoverGraphLog(logWriter, registry, nil)
	require.NoError(t, err)
	require.Equal(t, 0, replayed)
}

package primaryrpc

import (
	"context"
	"net"
	"testing"

	"github.com/heartwoodb/heartwood/pkg/broker"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/rpc"
	"github.com/heartwoodb/heartwood/pkg/storage"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/txn"
	"github.com/heartwoodb/heartwood/pkg/walog"
	"github.com/stretchr/testify/require"
)

// freeAddr picks an unused loopback port for a single-node raft bootstrap.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(dir, false)
	require.NoError(t, err)

	logWriter, err := walog.NewWriter(dir, false)
	require.NoError(t, err)

	tokens, err := storage.NewBoltTokenStore(dir)
	require.NoError(t, err)

	graphSrc, err := datasource.NewGraphSource(st, logWriter, tokens)
	require.NoError(t, err)

	registry := datasource.NewRegistry()
	registry.Register(graphSrc)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	cfg := broker.Config{MachineID: "m1", BindAddr: freeAddr(t), DataDir: dir}
	b, err := broker.New(cfg, eventBroker)
	require.NoError(t, err)
	require.NoError(t, b.Bootstrap(cfg))

	require.Eventually(t, b.IAmPrimary, 2000000000, 10000000)

	coordinator := txn.NewCoordinator()
	srv := NewServer(coordinator, registry, st, logWriter, b, eventBroker)

	cleanup := func() {
		_ = b.Shutdown()
		_ = logWriter.Close()
		_ = st.Close()
		_ = tokens.Close()
		eventBroker.Stop()
	}
	return srv, cleanup
}

func followerCtx(lastGraphTx uint64) rpc.FollowerContext {
	return rpc.FollowerContext{
		FollowerID: "follower-1",
		Cursors:    []rpc.ResourceCursor{{Resource: datasource.GraphSourceName, LastTxID: lastGraphTx}},
	}
}

func TestServerAllocateIDs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := srv.AllocateIDs(context.Background(), &rpc.AllocateIDsRequest{
		Context: followerCtx(0), Store: store.StoreNameNode, Count: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 10, resp.Count)

	resp2, err := srv.AllocateIDs(context.Background(), &rpc.AllocateIDsRequest{
		Context: followerCtx(0), Store: store.StoreNameNode, Count: 5,
	})
	require.NoError(t, err)
	require.Equal(t, resp.StartID+10, resp2.StartID)
}

func TestServerCommitAndMasterEpochFor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	idResp, err := srv.AllocateIDs(context.Background(), &rpc.AllocateIDsRequest{
		Context: followerCtx(0), Store: store.StoreNameNode, Count: 1,
	})
	require.NoError(t, err)

	cmd := datasource.EncodePutNode(idResp.StartID, store.NodeRecord{InUse: true})

	commitResp, err := srv.Commit(context.Background(), &rpc.CommitRequest{
		Context:   followerCtx(0),
		TxLocalID: 1,
		Resources: []rpc.ResourceCommands{
			{Resource: datasource.GraphSourceName, Commands: [][]byte{cmd}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), commitResp.GlobalTxID)

	epochResp, err := srv.MasterEpochFor(context.Background(), &rpc.MasterEpochForRequest{
		Resource: datasource.GraphSourceName, TxID: commitResp.GlobalTxID,
	})
	require.NoError(t, err)
	require.Equal(t, commitResp.PrimaryEpoch, epochResp.Epoch)
}

func TestServerCommitRejectsBranchedFollower(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, err := srv.Commit(context.Background(), &rpc.CommitRequest{
		Context:   followerCtx(99),
		TxLocalID: 1,
		Resources: []rpc.ResourceCommands{
			{Resource: datasource.GraphSourceName, Commands: [][]byte{datasource.EncodeDeleteNode(1)}},
		},
	})
	require.Error(t, err)
}

func TestServerAcquireAndReleaseLocks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := srv.AcquireLocks(context.Background(), &rpc.AcquireLocksRequest{
		Context:   followerCtx(0),
		TxLocalID: 7,
		Locks:     []rpc.LockRequest{{RecordID: 1, Write: true}},
	})
	require.NoError(t, err)
	require.True(t, resp.Granted)

	_, err = srv.ReleaseLocks(context.Background(), &rpc.ReleaseLocksRequest{
		Context: followerCtx(0), TxLocalID: 7,
	})
	require.NoError(t, err)
}

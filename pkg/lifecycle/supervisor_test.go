package lifecycle

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heartwoodb/heartwood/pkg/broker"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/replerr"
	"github.com/heartwoodb/heartwood/pkg/storage"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/txn"
	"github.com/heartwoodb/heartwood/pkg/walog"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestSupervisor(t *testing.T) (*Supervisor, func()) {
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

	brokerCfg := broker.Config{MachineID: "m1", BindAddr: freeAddr(t), DataDir: filepath.Join(dir, "raft")}
	b, err := broker.New(brokerCfg, eventBroker)
	require.NoError(t, err)
	require.NoError(t, b.Bootstrap(brokerCfg))
	require.Eventually(t, b.IAmPrimary, 2000000000, 10000000)

	coordinator := txn.NewCoordinator()

	cfg := Config{
		MachineID:    "m1",
		DataDir:      dir,
		CertDir:      "",
		BindAddr:     freeAddr(t),
		PullInterval: time.Hour,
	}
	sup := New(cfg, b, registry, st, logWriter, coordinator, eventBroker)

	cleanup := func() {
		sup.Stop()
		_ = b.Shutdown()
		_ = logWriter.Close()
		_ = st.Close()
		_ = tokens.Close()
		eventBroker.Stop()
	}
	return sup, cleanup
}

func TestSupervisorBecomesPrimaryStartsServer(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	view := broker.View{Epoch: 1, PrimaryID: sup.machineID, Addresses: map[string]string{}}
	sup.transition(view)

	require.True(t, sup.IsPrimary())

	sup.mu.Lock()
	gs := sup.grpcServer
	rc := sup.replicaClient
	sup.mu.Unlock()

	require.NotNil(t, gs)
	require.Nil(t, rc)

	conn, err := net.DialTimeout("tcp", sup.bindAddr, 2*time.Second)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestSupervisorBecomesFollowerStartsReplicaClient(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	view := broker.View{Epoch: 1, PrimaryID: "some-other-machine", Addresses: map[string]string{"some-other-machine": "127.0.0.1:1"}}
	sup.transition(view)

	require.False(t, sup.IsPrimary())

	sup.mu.Lock()
	gs := sup.grpcServer
	rc := sup.replicaClient
	sup.mu.Unlock()

	require.Nil(t, gs)
	require.NotNil(t, rc)
}

func TestSupervisorSameRoleNewEpochReplacesClient(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	view1 := broker.View{Epoch: 1, PrimaryID: "some-other-machine", Addresses: map[string]string{"some-other-machine": "127.0.0.1:1"}}
	sup.transition(view1)

	sup.mu.Lock()
	first := sup.replicaClient
	sup.mu.Unlock()
	require.NotNil(t, first)

	view2 := broker.View{Epoch: 2, PrimaryID: "some-other-machine", Addresses: map[string]string{"some-other-machine": "127.0.0.1:1"}}
	sup.transition(view2)

	sup.mu.Lock()
	second := sup.replicaClient
	sup.mu.Unlock()
	require.NotNil(t, second)
	require.NotSame(t, first, second)
}

func TestSupervisorUnchangedViewIsNoop(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	view := broker.View{Epoch: 1, PrimaryID: sup.machineID, Addresses: map[string]string{}}
	sup.transition(view)

	sup.mu.Lock()
	gs := sup.grpcServer
	sup.mu.Unlock()

	sup.transition(view)

	sup.mu.Lock()
	gs2 := sup.grpcServer
	sup.mu.Unlock()

	require.Same(t, gs, gs2)
}

func TestSupervisorQuarantineRenamesDataDir(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	require.NoError(t, sup.quarantine())

	_, err := os.Stat(sup.dataDir)
	require.True(t, os.IsNotExist(err))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(sup.dataDir), "broken-*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSupervisorHandleBranchErrorQuarantinesOnlyOnBranchedData(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	sup.handleBranchError(replerr.New(replerr.KindTransientCommunication, "op", os.ErrDeadlineExceeded))
	_, err := os.Stat(sup.dataDir)
	require.NoError(t, err)

	sup.handleBranchError(replerr.New(replerr.KindBranchedData, "op", os.ErrInvalid))
	_, err = os.Stat(sup.dataDir)
	require.True(t, os.IsNotExist(err))
}

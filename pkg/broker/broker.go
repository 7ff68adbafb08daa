// Package broker implements Heartwood's replication broker: an
// externalized coordination service, wrapping hashicorp/raft purely
// for membership and primary election and epoch agreement — never
// for the graph transaction log itself, which lives in pkg/walog.
package broker

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/log"
	"github.com/heartwoodb/heartwood/pkg/metrics"
)

// Config configures a Broker's raft participation.
type Config struct {
	MachineID string
	BindAddr  string
	DataDir   string
}

// Broker wraps a raft.Raft whose FSM only ever agrees on an epoch
// counter and a cluster store identity (SPEC_FULL.md §4.5). Primary
// election, membership, and view-change notification all fall out of
// raft's own leader election — Heartwood layers no separate election
// protocol on top of it.
type Broker struct {
	machineID string
	raft      *raft.Raft
	fsm       *brokerFSM
	events    *events.Broker

	lastObservedLeader raft.ServerAddress
}

// New creates a Broker bound to cfg, ready for Bootstrap or Join.
func New(cfg Config, eventBroker *events.Broker) (*Broker, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("broker: create data dir: %w", err)
	}
	return &Broker{
		machineID: cfg.MachineID,
		fsm:       newBrokerFSM(),
		events:    eventBroker,
	}, nil
}

// Bootstrap initializes a brand-new single-member coordination group
// with this machine as the sole voter, mirroring the teacher's
// manager.Bootstrap raft setup (tuned heartbeat/election timeouts for
// fast failover on a LAN/edge deployment).
func (b *Broker) Bootstrap(cfg Config) error {
	r, transport, err := b.buildRaft(cfg)
	if err != nil {
		return err
	}
	b.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(cfg.MachineID), Address: transport.LocalAddr()},
		},
	}
	future := b.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("broker: bootstrap cluster: %w", err)
	}

	go b.watchLeadership()
	return nil
}

// Join starts raft for this machine and expects the caller to have
// already had an existing primary AddVoter it (done out of band by
// calling AddVoter on the primary's own engine, since neither the
// coordination service nor pkg/primaryrpc has an RPC for that).
func (b *Broker) Join(cfg Config) error {
	r, _, err := b.buildRaft(cfg)
	if err != nil {
		return err
	}
	b.raft = r
	go b.watchLeadership()
	return nil
}

func (b *Broker) buildRaft(cfg Config) (*raft.Raft, *raft.NetworkTransport, error) {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.MachineID)

	// Tuned for LAN/edge failover rather than raft's WAN-conservative
	// defaults, same rationale as the teacher's manager.Bootstrap.
	raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	raftConfig.ElectionTimeout = 500 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "broker-raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "broker-raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, b.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create raft: %w", err)
	}
	return r, transport, nil
}

// AddVoter adds machineID at address to the coordination group. Only
// the current primary may call this successfully.
func (b *Broker) AddVoter(machineID, address string) error {
	if !b.IAmPrimary() {
		return fmt.Errorf("broker: only the primary can add voters")
	}
	future := b.raft.AddVoter(raft.ServerID(machineID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("broker: add voter %s: %w", machineID, err)
	}
	return nil
}

// RemoveServer removes machineID from the coordination group.
func (b *Broker) RemoveServer(machineID string) error {
	if !b.IAmPrimary() {
		return fmt.Errorf("broker: only the primary can remove servers")
	}
	future := b.raft.RemoveServer(raft.ServerID(machineID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("broker: remove server %s: %w", machineID, err)
	}
	return nil
}

// IAmPrimary reports whether this machine currently holds raft
// leadership, which is Heartwood's definition of "is primary".
func (b *Broker) IAmPrimary() bool {
	if b.raft == nil {
		return false
	}
	return b.raft.State() == raft.Leader
}

// CreateCluster proposes a store identity through raft. The first
// agree_store_id command the FSM applies is authoritative; subsequent
// calls (e.g. from a node that lost a race to bootstrap) get the
// already-agreed value back instead (distilled spec's "store
// identity" invariant).
func (b *Broker) CreateCluster(storeID string) (string, error) {
	if !b.IAmPrimary() {
		return "", fmt.Errorf("broker: only the primary can propose a store identity")
	}
	data, err := json.Marshal(storeID)
	if err != nil {
		return "", fmt.Errorf("broker: marshal store id: %w", err)
	}
	cmd := fsmCommand{Kind: cmdAgreeStoreID, Data: data}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("broker: marshal fsm command: %w", err)
	}
	future := b.raft.Apply(payload, 5*time.Second)
	if err := future.Error(); err != nil {
		return "", fmt.Errorf("broker: apply agree_store_id: %w", err)
	}
	agreed, _ := future.Response().(string)
	return agreed, nil
}

// bumpEpoch proposes incrementing the agreed epoch counter. Called
// internally on every observed leadership change.
func (b *Broker) bumpEpoch() error {
	cmd := fsmCommand{Kind: cmdBumpEpoch}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("broker: marshal bump_epoch: %w", err)
	}
	future := b.raft.Apply(payload, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("broker: apply bump_epoch: %w", err)
	}
	return nil
}

// ForceReelect steps down the current leader, or waits for a new one
// to emerge if this machine is not the leader, giving operators a way
// to force a primary handoff for maintenance.
func (b *Broker) ForceReelect() error {
	if b.IAmPrimary() {
		future := b.raft.LeadershipTransfer()
		if err := future.Error(); err != nil {
			return fmt.Errorf("broker: leadership transfer: %w", err)
		}
		return nil
	}
	select {
	case <-b.raft.LeaderCh():
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("broker: timed out waiting for new leader")
	}
}

// watchLeadership observes raft.LeaderCh() and bumps the agreed epoch
// on every change, the teacher's raft.LeaderCh() idiom repurposed to
// drive epoch agreement instead of taking over cluster-state duties
// directly.
func (b *Broker) watchLeadership() {
	logger := log.WithMachineID(b.machineID)
	for isLeader := range b.raft.LeaderCh() {
		metrics.IsPrimary.Set(boolToFloat(isLeader))
		if !isLeader {
			b.publishEvent(events.EventRoleTransition, "became follower")
			continue
		}
		if err := b.bumpEpoch(); err != nil {
			logger.Error().Err(err).Msg("failed to bump epoch after leadership change")
			continue
		}
		b.publishEvent(events.EventPrimaryElected, "became primary")
	}
}

func (b *Broker) publishEvent(t events.EventType, message string) {
	if b.events == nil {
		return
	}
	b.events.Publish(&events.Event{Type: t, Message: message})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Shutdown gracefully leaves the coordination group.
func (b *Broker) Shutdown() error {
	if b.raft == nil {
		return nil
	}
	future := b.raft.Shutdown()
	if err := future.Error(); err != nil {
		return fmt.Errorf("broker: shutdown: %w", err)
	}
	return nil
}

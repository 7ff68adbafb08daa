package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/heartwoodb/heartwood/pkg/broker"
	"github.com/heartwoodb/heartwood/pkg/config"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/lifecycle"
	"github.com/heartwoodb/heartwood/pkg/log"
	"github.com/heartwoodb/heartwood/pkg/storage"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/txn"
	"github.com/heartwoodb/heartwood/pkg/walog"
)

// Engine is the embeddable handle onto one Heartwood store: the
// on-disk record files, the logical log, the data-source registry,
// the two-phase commit coordinator, and — when cfg names a
// coordination group — the replication broker and role-transition
// supervisor that start and stop the primary/follower halves of the
// system as leadership changes.
type Engine struct {
	cfg *config.Config

	st          *store.Store
	log_        *walog.Writer
	tokens      *storage.BoltTokenStore
	graph       *datasource.GraphSource
	registry    *datasource.Registry
	coordinator *txn.Coordinator

	brokerCfg  broker.Config
	brk        *broker.Broker
	events     *events.Broker
	supervisor *lifecycle.Supervisor
}

// New opens (or initializes) the store at cfg.DataDir and wires every
// component together, mirroring the teacher's manager.NewManager
// construction order: store, then token/secondary state, then event
// broker, then the coordination layer last so it has something to
// coordinate over.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	st, err := store.Open(cfg.DataDir, cfg.UseMemoryMappedBuffers)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	logWriter, err := walog.NewWriter(cfg.DataDir, cfg.KeepLogicalLogs)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("engine: open logical log: %w", err)
	}

	tokens, err := storage.NewBoltTokenStore(cfg.DataDir)
	if err != nil {
		_ = logWriter.Close()
		_ = st.Close()
		return nil, fmt.Errorf("engine: open token store: %w", err)
	}

	graphSrc, err := datasource.NewGraphSource(st, logWriter, tokens)
	if err != nil {
		_ = tokens.Close()
		_ = logWriter.Close()
		_ = st.Close()
		return nil, fmt.Errorf("engine: init graph source: %w", err)
	}

	registry := datasource.NewRegistry()
	registry.Register(graphSrc)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	if _, err := recoverGraphLog(logWriter, registry, eventBroker); err != nil {
		eventBroker.Stop()
		_ = tokens.Close()
		_ = logWriter.Close()
		_ = st.Close()
		return nil, fmt.Errorf("engine: recover log: %w", err)
	}

	machineID := strconv.FormatUint(cfg.MachineID, 10)
	brokerCfg := broker.Config{
		MachineID: machineID,
		BindAddr:  cfg.HAServer,
		DataDir:   filepath.Join(cfg.DataDir, "coordination"),
	}
	brk, err := broker.New(brokerCfg, eventBroker)
	if err != nil {
		eventBroker.Stop()
		_ = tokens.Close()
		_ = logWriter.Close()
		_ = st.Close()
		return nil, fmt.Errorf("engine: init broker: %w", err)
	}

	coordinator := txn.NewCoordinator()

	pullInterval := time.Duration(cfg.PullIntervalSeconds) * time.Second
	sup := lifecycle.New(lifecycle.Config{
		MachineID:    machineID,
		DataDir:      cfg.DataDir,
		CertDir:      filepath.Dir(cfg.TLSCertFile),
		BindAddr:     cfg.HAServer,
		PullInterval: pullInterval,
	}, brk, registry, st, logWriter, coordinator, eventBroker)

	e := &Engine{
		cfg:         cfg,
		st:          st,
		log_:        logWriter,
		tokens:      tokens,
		graph:       graphSrc,
		registry:    registry,
		coordinator: coordinator,
		brokerCfg:   brokerCfg,
		brk:         brk,
		events:      eventBroker,
		supervisor:  sup,
	}

	return e, nil
}

// Bootstrap initializes a brand-new, single-member coordination group
// with this machine as its sole voter. Only valid when
// cfg.AllowInitCluster is set. The supervisor only starts watching
// for role changes once raft itself exists — b.raft is nil until
// Bootstrap or Join runs, and ViewChanges reads from it directly.
func (e *Engine) Bootstrap() error {
	if !e.cfg.AllowInitCluster {
		return fmt.Errorf("engine: bootstrap: allow_init_cluster is false")
	}
	if err := e.brk.Bootstrap(e.brokerCfg); err != nil {
		return err
	}
	go e.supervisor.Run()
	return nil
}

// Join starts this machine's raft participation against an already
// bootstrapped coordination group; the caller is responsible for
// having this machine added as a voter on the existing leader first
// (see Engine.AddVoter).
func (e *Engine) Join() error {
	if err := e.brk.Join(e.brokerCfg); err != nil {
		return err
	}
	go e.supervisor.Run()
	return nil
}

// AddVoter adds machineID (reachable at address) to the coordination
// group. Only the current primary can do this.
func (e *Engine) AddVoter(machineID, address string) error {
	return e.brk.AddVoter(machineID, address)
}

// IsPrimary reports whether this machine currently serves as primary.
func (e *Engine) IsPrimary() bool {
	return e.supervisor.IsPrimary()
}

// ClusterView returns the coordination group's current view: epoch,
// primary, and membership.
func (e *Engine) ClusterView() (broker.View, error) {
	return e.brk.CurrentView()
}

// Events returns the event broker every structural change (role
// transitions, commits, quarantines) is published to.
func (e *Engine) Events() *events.Broker {
	return e.events
}

// Shutdown stops the supervisor and every component it opened, in
// reverse construction order.
func (e *Engine) Shutdown() error {
	e.supervisor.Stop()
	if err := e.brk.Shutdown(); err != nil {
		log.Errorf("engine: broker shutdown", err)
	}
	e.events.Stop()
	if err := e.tokens.Close(); err != nil {
		log.Errorf("engine: token store close", err)
	}
	if err := e.log_.Close(); err != nil {
		log.Errorf("engine: logical log close", err)
	}
	return e.st.Close()
}

// BeginTx starts a new transaction. ctx bounds any lock waits the
// returned Tx performs.
func (e *Engine) BeginTx(ctx context.Context) *Tx {
	return &Tx{Tx: e.coordinator.Begin(ctx), eng: e, ctx: ctx}
}

func (e *Engine) enlistGraph(tx *txn.Tx) {
	tx.Enlist(e.graph)
}

func (e *Engine) lockForWrite(ctx context.Context, tx *txn.Tx, recordID uint64) error {
	return e.coordinator.Lock(ctx, tx, recordID, true)
}

func (e *Engine) lockForRead(ctx context.Context, tx *txn.Tx, recordID uint64) error {
	return e.coordinator.Lock(ctx, tx, recordID, false)
}

// commitTx runs the same Prepare/log/Commit sequence
// pkg/primaryrpc.Server.Commit drives for a remote follower's
// commands, but locally: there is no network hop when the caller is
// embedding the engine directly in the same process as the primary.
func (e *Engine) commitTx(tx *txn.Tx) (uint64, uint64, error) {
	hasGraph := false
	for _, s := range tx.EnlistedNames() {
		if s == datasource.GraphSourceName {
			hasGraph = true
		}
	}

	if hasGraph {
		for _, cmd := range tx.CommandsFor(datasource.GraphSourceName) {
			if err := e.log_.Append(tx.ID(), cmd); err != nil {
				return 0, 0, fmt.Errorf("engine: append log: %w", err)
			}
		}
		if err := e.log_.Prepare(tx.ID()); err != nil {
			return 0, 0, fmt.Errorf("engine: prepare log: %w", err)
		}
	}

	if err := e.coordinator.Prepare(tx); err != nil {
		if hasGraph {
			if rerr := e.log_.Rollback(tx.ID()); rerr != nil {
				log.Errorf("engine: log rollback failed", rerr)
			}
		}
		return 0, 0, err
	}

	view, err := e.brk.CurrentView()
	if err != nil {
		return 0, 0, fmt.Errorf("engine: current view: %w", err)
	}
	globalTxID := e.graph.LastCommittedTxID() + 1

	if hasGraph {
		if err := e.log_.Commit(tx.ID(), globalTxID, view.Epoch, time.Now().UnixNano()); err != nil {
			return 0, 0, fmt.Errorf("engine: log commit: %w", err)
		}
	}

	if err := e.coordinator.Commit(tx, globalTxID); err != nil {
		return 0, 0, err
	}

	if e.events != nil {
		e.events.Publish(&events.Event{Type: events.EventTxCommitted, Message: fmt.Sprintf("tx %d committed as global tx %d", tx.ID(), globalTxID)})
	}

	return globalTxID, view.Epoch, nil
}

func (e *Engine) rollbackTx(tx *txn.Tx) error {
	if err := e.log_.Rollback(tx.ID()); err != nil {
		log.Errorf("engine: log rollback failed", err)
	}
	return e.coordinator.Rollback(tx)
}

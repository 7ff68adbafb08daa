// Package lifecycle implements the role-transition supervisor: it
// watches the replication broker's view changes and starts or stops
// the primary/follower halves of the engine accordingly, exactly the
// four-way branch SPEC_FULL.md §4.8 describes.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heartwoodb/heartwood/pkg/broker"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/log"
	"github.com/heartwoodb/heartwood/pkg/primaryrpc"
	"github.com/heartwoodb/heartwood/pkg/replerr"
	"github.com/heartwoodb/heartwood/pkg/replica"
	"github.com/heartwoodb/heartwood/pkg/rpc"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/txn"
	"github.com/heartwoodb/heartwood/pkg/walog"
	"google.golang.org/grpc"
)

// WatchdogTimeout bounds how long a single role transition may take
// before the supervisor gives up and aborts the process — a stuck
// transition (e.g. a hung gRPC shutdown) would otherwise leave the
// machine serving neither role.
const WatchdogTimeout = 30 * time.Second

// Supervisor owns the lifecycle of the primary- and follower-side
// components, starting exactly one side at a time as the broker's
// view of who is primary changes.
type Supervisor struct {
	machineID string
	dataDir   string
	certDir   string
	bindAddr  string

	pullInterval time.Duration

	brk         *broker.Broker
	registry    *datasource.Registry
	st          *store.Store
	log_        *walog.Writer
	coordinator *txn.Coordinator
	events      *events.Broker

	mu          sync.Mutex
	isPrimary   bool
	epoch       uint64
	initialized bool

	grpcServer *grpc.Server
	primServer *primaryrpc.Server

	replicaClient *replica.Client

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config configures a Supervisor.
type Config struct {
	MachineID    string
	DataDir      string
	CertDir      string
	BindAddr     string
	PullInterval time.Duration
}

// New builds a Supervisor bound to the already-open engine components
// it starts and stops as primary/follower roles change.
func New(cfg Config, brk *broker.Broker, registry *datasource.Registry, st *store.Store, logWriter *walog.Writer, coordinator *txn.Coordinator, eventBroker *events.Broker) *Supervisor {
	pullInterval := cfg.PullInterval
	if pullInterval <= 0 {
		pullInterval = 5 * time.Second
	}
	return &Supervisor{
		machineID:    cfg.MachineID,
		dataDir:      cfg.DataDir,
		certDir:      cfg.CertDir,
		bindAddr:     cfg.BindAddr,
		pullInterval: pullInterval,
		brk:          brk,
		registry:     registry,
		st:           st,
		log_:         logWriter,
		coordinator:  coordinator,
		events:       eventBroker,
		stopCh:       make(chan struct{}),
	}
}

// Run subscribes to the broker's view changes and drives role
// transitions until Stop is called. Intended to run in its own
// goroutine for the lifetime of the engine.
func (s *Supervisor) Run() {
	changes := s.brk.ViewChanges()
	for {
		select {
		case view, ok := <-changes:
			if !ok {
				return
			}
			s.handleViewChange(view)
		case <-s.stopCh:
			return
		}
	}
}

// Stop tears down whichever side is currently running.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPrimaryLocked()
	s.stopFollowerLocked()
}

// IsPrimary reports whether this machine currently runs the primary
// side of the engine.
func (s *Supervisor) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPrimary
}

func (s *Supervisor) handleViewChange(view broker.View) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.transition(view)
	}()

	select {
	case <-done:
	case <-time.After(WatchdogTimeout):
		log.Fatal(fmt.Sprintf("lifecycle: role transition to epoch %d did not finish within %s, aborting", view.Epoch, WatchdogTimeout))
	}
}

func (s *Supervisor) transition(view broker.View) {
	nowPrimary := view.PrimaryID == s.machineID

	s.mu.Lock()
	wasPrimary, wasInitialized, prevEpoch := s.isPrimary, s.initialized, s.epoch
	s.isPrimary = nowPrimary
	s.epoch = view.Epoch
	s.initialized = true
	s.mu.Unlock()

	switch {
	case !wasInitialized || wasPrimary != nowPrimary:
		if nowPrimary {
			s.becamePrimary(view)
		} else {
			s.becameFollower(view)
		}
	case view.Epoch != prevEpoch:
		s.sameRoleNewEpoch(view)
	default:
		// unchanged: no-op
	}
}

func (s *Supervisor) becamePrimary(view broker.View) {
	log.Info(fmt.Sprintf("lifecycle: becoming primary at epoch %d", view.Epoch))

	s.mu.Lock()
	s.stopFollowerLocked()
	s.mu.Unlock()

	srv := primaryrpc.NewServer(s.coordinator, s.registry, s.st, s.log_, s.brk, s.events)

	opts, err := rpc.ServerOptions(s.certDir)
	if err != nil {
		s.fatal("lifecycle: build server TLS options", err)
		return
	}
	grpcServer := grpc.NewServer(opts...)
	rpc.RegisterPrimaryServiceServer(grpcServer, srv)

	lis, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		s.fatal("lifecycle: listen for primary RPC", err)
		return
	}

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("lifecycle: primary RPC server stopped", err)
		}
	}()

	s.mu.Lock()
	s.grpcServer = grpcServer
	s.primServer = srv
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(&events.Event{Type: events.EventPrimaryElected, Message: fmt.Sprintf("machine %s elected primary at epoch %d", s.machineID, view.Epoch)})
	}
}

func (s *Supervisor) becameFollower(view broker.View) {
	log.Info(fmt.Sprintf("lifecycle: becoming follower at epoch %d", view.Epoch))

	s.mu.Lock()
	s.stopPrimaryLocked()
	s.mu.Unlock()

	if err := s.checkBranchSafety(view); err != nil {
		s.handleBranchError(err)
		return
	}

	client := replica.NewClient(s.machineID, s.certDir, s.brk, s.registry)
	client.StartPuller(s.pullInterval)

	s.mu.Lock()
	s.replicaClient = client
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(&events.Event{Type: events.EventFollowerDemoted, Message: fmt.Sprintf("machine %s following epoch %d primary", s.machineID, view.Epoch)})
	}
}

// sameRoleNewEpoch resets any cached remote state and, for a follower,
// re-runs the branch-safety check — the new epoch might belong to a
// different primary than before even though this machine's own role
// didn't change.
func (s *Supervisor) sameRoleNewEpoch(view broker.View) {
	log.Info(fmt.Sprintf("lifecycle: same role, new epoch %d", view.Epoch))

	s.mu.Lock()
	isPrimary := s.isPrimary
	oldClient := s.replicaClient
	s.mu.Unlock()

	if isPrimary {
		return
	}

	if err := s.checkBranchSafety(view); err != nil {
		s.handleBranchError(err)
		return
	}

	if oldClient != nil {
		_ = oldClient.Close()
	}
	client := replica.NewClient(s.machineID, s.certDir, s.brk, s.registry)
	client.StartPuller(s.pullInterval)

	s.mu.Lock()
	s.replicaClient = client
	s.mu.Unlock()
}

// checkBranchSafety implements distilled spec §7's branch detection:
// for every registered source, ask the new primary what epoch it
// committed this follower's own last-known transaction under, and
// compare that against what this follower's own log says. A mismatch
// means this follower's history diverged from the new primary's and
// must be quarantined, never partially rolled back. The comparison is
// made at the follower's own last tx id, not at the lower of the two
// nodes' last ids; a failed lookup on the primary (including one for a
// transaction the primary has no record of) is returned as a transient
// communication error, not as branched data.
func (s *Supervisor) checkBranchSafety(view broker.View) error {
	client := replica.NewClient(s.machineID, s.certDir, s.brk, s.registry)
	defer client.Close()

	for _, src := range s.registry.All() {
		localLast := src.LastCommittedTxID()
		if localLast == 0 {
			continue
		}

		paths, err := walog.SegmentPaths(s.log_.Dir())
		if err != nil {
			return replerr.New(replerr.KindRecoveryInconsistency, "checkBranchSafety.segments", err)
		}
		localCommit, ok, err := walog.FindCommit(paths, localLast)
		if err != nil {
			return replerr.New(replerr.KindRecoveryInconsistency, "checkBranchSafety.local", err)
		}
		if !ok {
			// Local log doesn't carry this checkpoint's commit record
			// (e.g. rotated past the horizon without archiving); nothing
			// to cross-check, trust the checkpoint.
			continue
		}

		remoteEpoch, err := client.MasterEpochFor(context.Background(), src.Name(), localLast)
		if err != nil {
			return replerr.New(replerr.KindTransientCommunication, "checkBranchSafety.remote", err)
		}
		if remoteEpoch != localCommit.PrimaryEpoch {
			return replerr.New(replerr.KindBranchedData, "checkBranchSafety",
				fmt.Errorf("resource %s: tx %d committed under epoch %d locally, %d on new primary", src.Name(), localLast, localCommit.PrimaryEpoch, remoteEpoch))
		}
	}
	return nil
}

// handleBranchError quarantines the store directory on branched data,
// logs and otherwise surfaces anything else — a transient
// communication failure during the safety check just means this
// machine stays demoted until the next view change retries it.
func (s *Supervisor) handleBranchError(err error) {
	re, ok := err.(*replerr.ReplicationError)
	if !ok || re.Kind != replerr.KindBranchedData {
		log.Errorf("lifecycle: branch-safety check failed, will retry on next view change", err)
		return
	}

	if qerr := s.quarantine(); qerr != nil {
		s.fatal("lifecycle: quarantine failed after branch detected", qerr)
		return
	}
	if s.events != nil {
		s.events.Publish(&events.Event{Type: events.EventBranchDetected, Message: err.Error()})
	}
}

// quarantine renames the store directory to a sibling broken-<unixnano>
// directory beside it, never attempting a partial rollback of diverged
// history (distilled spec §7's explicit non-goal). Nothing here fetches
// a fresh copy of the store afterwards.
func (s *Supervisor) quarantine() error {
	broken := filepath.Join(filepath.Dir(s.dataDir), fmt.Sprintf("broken-%d", time.Now().UnixNano()))
	if err := os.Rename(s.dataDir, broken); err != nil {
		return fmt.Errorf("lifecycle: quarantine store dir: %w", err)
	}
	if s.events != nil {
		s.events.Publish(&events.Event{Type: events.EventStoreQuarantined, Message: fmt.Sprintf("store quarantined to %s", broken)})
	}
	return nil
}

func (s *Supervisor) stopPrimaryLocked() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
		s.primServer = nil
	}
}

func (s *Supervisor) stopFollowerLocked() {
	if s.replicaClient != nil {
		_ = s.replicaClient.Close()
		s.replicaClient = nil
	}
}

func (s *Supervisor) fatal(op string, err error) {
	log.Errorf(op, err)
	if s.events != nil {
		s.events.Publish(&events.Event{Type: events.EventPrimaryLost, Message: fmt.Sprintf("%s: %v", op, err)})
	}
}

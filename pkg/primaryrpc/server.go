// Package primaryrpc implements the gRPC service a machine runs only
// while it is primary: the six (seven, counting the split
// AcquireLocks/ReleaseLocks pair) operations distilled spec §4.6
// describes, served against pkg/rpc's hand-rolled ServiceDesc.
package primaryrpc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heartwoodb/heartwood/pkg/broker"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/log"
	"github.com/heartwoodb/heartwood/pkg/rpc"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/txn"
	"github.com/heartwoodb/heartwood/pkg/walog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// txKey identifies a transaction in flight against this primary: a
// follower can have several transactions open at once, so the tx_local
// id alone (which only has to be unique within one follower) is not
// enough.
type txKey struct {
	followerID string
	txLocalID  uint64
}

// Server implements rpc.PrimaryServiceServer. It is only ever wired
// into a live grpc.Server while pkg/lifecycle believes this machine is
// primary; pkg/lifecycle tears it down on every demotion.
type Server struct {
	rpc.UnimplementedPrimaryServiceServer

	coordinator *txn.Coordinator
	registry    *datasource.Registry
	st          *store.Store
	log_        *walog.Writer
	broker      *broker.Broker
	events      *events.Broker

	mu  sync.Mutex
	txs map[txKey]*txn.Tx
}

// NewServer binds a primaryrpc.Server to the already-open engine
// components it serves requests against.
func NewServer(coordinator *txn.Coordinator, registry *datasource.Registry, st *store.Store, logWriter *walog.Writer, b *broker.Broker, eventBroker *events.Broker) *Server {
	return &Server{
		coordinator: coordinator,
		registry:    registry,
		st:          st,
		log_:        logWriter,
		broker:      b,
		events:      eventBroker,
		txs:         make(map[txKey]*txn.Tx),
	}
}

func (s *Server) ensurePrimary() error {
	if !s.broker.IAmPrimary() {
		return status.Error(codes.FailedPrecondition, "primaryrpc: this machine is not primary")
	}
	return nil
}

// checkFollowerCursors implements the branch-safety check distilled
// spec §4.6 requires before accepting a write: every resource cursor
// the follower reports must match that source's own committed
// history, or the follower has diverged and must be quarantined and
// refetched (pkg/lifecycle's job) rather than allowed to write.
func (s *Server) checkFollowerCursors(fc rpc.FollowerContext) error {
	for _, cursor := range fc.Cursors {
		src, ok := s.registry.Get(cursor.Resource)
		if !ok {
			continue
		}
		if cursor.LastTxID != src.LastCommittedTxID() {
			return status.Errorf(codes.FailedPrecondition,
				"primaryrpc: follower %s diverges on %s: follower has %d, primary has %d",
				fc.FollowerID, cursor.Resource, cursor.LastTxID, src.LastCommittedTxID())
		}
	}
	return nil
}

func (s *Server) getOrBeginTx(ctx context.Context, fc rpc.FollowerContext, txLocalID uint64) *txn.Tx {
	key := txKey{followerID: fc.FollowerID, txLocalID: txLocalID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[key]; ok {
		return tx
	}
	tx := s.coordinator.Begin(ctx)
	s.txs[key] = tx
	return tx
}

func (s *Server) dropTx(fc rpc.FollowerContext, txLocalID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, txKey{followerID: fc.FollowerID, txLocalID: txLocalID})
}

// AllocateIDs hands out a contiguous block of fresh ids from the named
// store file, so two followers writing concurrently can never collide
// on generated ids.
func (s *Server) AllocateIDs(ctx context.Context, req *rpc.AllocateIDsRequest) (*rpc.AllocateIDsResponse, error) {
	if err := s.ensurePrimary(); err != nil {
		return nil, err
	}
	if req.Count <= 0 {
		return nil, status.Error(codes.InvalidArgument, "primaryrpc: count must be positive")
	}
	start, err := s.st.AllocateIDRange(req.Store, req.Count)
	if err != nil {
		return nil, fmt.Errorf("primaryrpc: allocate ids: %w", err)
	}
	return &rpc.AllocateIDsResponse{StartID: start, Count: req.Count}, nil
}

// AcquireLocks grants or blocks on each requested record lock in turn,
// enlisting or creating the follower's server-side Tx handle on first
// use.
func (s *Server) AcquireLocks(ctx context.Context, req *rpc.AcquireLocksRequest) (*rpc.AcquireLocksResponse, error) {
	if err := s.ensurePrimary(); err != nil {
		return nil, err
	}

	tx := s.getOrBeginTx(ctx, req.Context, req.TxLocalID)
	for _, l := range req.Locks {
		if err := s.coordinator.Lock(ctx, tx, l.RecordID, l.Write); err != nil {
			return &rpc.AcquireLocksResponse{Granted: false, Reason: err.Error()}, nil
		}
	}
	return &rpc.AcquireLocksResponse{Granted: true}, nil
}

// ReleaseLocks aborts the follower's in-flight transaction, releasing
// every lock it held without committing anything.
func (s *Server) ReleaseLocks(ctx context.Context, req *rpc.ReleaseLocksRequest) (*rpc.ReleaseLocksResponse, error) {
	if err := s.ensurePrimary(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	tx, ok := s.txs[txKey{followerID: req.Context.FollowerID, txLocalID: req.TxLocalID}]
	s.mu.Unlock()
	if !ok {
		return &rpc.ReleaseLocksResponse{}, nil
	}

	if err := s.log_.Rollback(tx.ID()); err != nil {
		log.Errorf("primaryrpc: log rollback failed", err)
	}
	_ = s.coordinator.Rollback(tx)
	s.dropTx(req.Context, req.TxLocalID)
	return &rpc.ReleaseLocksResponse{}, nil
}

// Commit durably commits a follower's transaction: every enlisted
// resource's buffered commands are appended to the logical log (for
// the graph resource) and run through pkg/txn.Coordinator's
// prepare/commit, graph store always ordered first.
func (s *Server) Commit(ctx context.Context, req *rpc.CommitRequest) (*rpc.CommitResponse, error) {
	if err := s.ensurePrimary(); err != nil {
		return nil, err
	}
	if err := s.checkFollowerCursors(req.Context); err != nil {
		return nil, err
	}

	tx := s.getOrBeginTx(ctx, req.Context, req.TxLocalID)
	defer s.dropTx(req.Context, req.TxLocalID)

	for _, rc := range req.Resources {
		src, ok := s.registry.Get(rc.Resource)
		if !ok {
			_ = s.coordinator.Rollback(tx)
			return nil, status.Errorf(codes.InvalidArgument, "primaryrpc: unknown resource %q", rc.Resource)
		}
		tx.Enlist(src)
		for _, cmd := range rc.Commands {
			tx.Buffer(rc.Resource, datasource.Command(cmd))
			if rc.Resource == datasource.GraphSourceName {
				if err := s.log_.Append(tx.ID(), cmd); err != nil {
					_ = s.coordinator.Rollback(tx)
					return nil, fmt.Errorf("primaryrpc: append log entry: %w", err)
				}
			}
		}
	}

	if hasGraph(req.Resources) {
		if err := s.log_.Prepare(tx.ID()); err != nil {
			_ = s.coordinator.Rollback(tx)
			return nil, fmt.Errorf("primaryrpc: log prepare: %w", err)
		}
	}

	if err := s.coordinator.Prepare(tx); err != nil {
		if hasGraph(req.Resources) {
			_ = s.log_.Rollback(tx.ID())
		}
		return nil, fmt.Errorf("primaryrpc: prepare: %w", err)
	}

	view, err := s.broker.CurrentView()
	if err != nil {
		_ = s.coordinator.Rollback(tx)
		return nil, fmt.Errorf("primaryrpc: read cluster view: %w", err)
	}
	globalTxID := s.nextGlobalTxID()

	if hasGraph(req.Resources) {
		if err := s.log_.Commit(tx.ID(), globalTxID, view.Epoch, time.Now().UnixNano()); err != nil {
			_ = s.coordinator.Rollback(tx)
			return nil, fmt.Errorf("primaryrpc: log commit: %w", err)
		}
	}

	if err := s.coordinator.Commit(tx, globalTxID); err != nil {
		return nil, fmt.Errorf("primaryrpc: commit: %w", err)
	}

	if s.events != nil {
		s.events.Publish(&events.Event{
			Type:    events.EventTxCommitted,
			Message: fmt.Sprintf("committed tx %d from follower %s", globalTxID, req.Context.FollowerID),
		})
	}

	return &rpc.CommitResponse{GlobalTxID: globalTxID, PrimaryEpoch: view.Epoch}, nil
}

// nextGlobalTxID assigns the next id in the graph source's committed
// sequence — the anchor counter every other enlisted source's commands
// are numbered against too, keeping recovery ordering unambiguous
// (DESIGN.md's Open Question decision #2).
func (s *Server) nextGlobalTxID() uint64 {
	graph, ok := s.registry.Get(datasource.GraphSourceName)
	if !ok {
		return 1
	}
	return graph.LastCommittedTxID() + 1
}

func hasGraph(resources []rpc.ResourceCommands) bool {
	for _, r := range resources {
		if r.Resource == datasource.GraphSourceName {
			return true
		}
	}
	return false
}

// copyChunkSize caps a single CopyStore file chunk, so a store file of
// any size streams as a bounded sequence of gRPC messages rather than
// one unbounded payload.
const copyChunkSize = 1 << 20

// PullUpdates streams every committed graph-resource transaction
// strictly newer than the follower's reported graph cursor; other
// resources in the follower context are not streamed. It is
// built directly against the logical log rather than through the
// Source interface, since GraphSource.Extract intentionally declines
// to serve this (pkg/datasource/graphsource.go).
func (s *Server) PullUpdates(req *rpc.PullUpdatesRequest, stream rpc.PrimaryService_PullUpdatesServer) error {
	if err := s.ensurePrimary(); err != nil {
		return err
	}

	paths, err := walog.SegmentPaths(s.log_.Dir())
	if err != nil {
		return fmt.Errorf("primaryrpc: list segments: %w", err)
	}
	txs, err := walog.Scan(paths)
	if err != nil {
		return fmt.Errorf("primaryrpc: scan log: %w", err)
	}

	since := req.Context.LastTxID(datasource.GraphSourceName)
	for _, tx := range txs {
		if tx.Commit.GlobalTxID <= since {
			continue
		}
		resp := &rpc.PullUpdatesResponse{
			Resource:     datasource.GraphSourceName,
			GlobalTxID:   tx.Commit.GlobalTxID,
			PrimaryEpoch: tx.Commit.PrimaryEpoch,
			Commands:     tx.Commands,
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return nil
}

// CopyStore streams a full copy of a resource's on-disk files followed
// by the accumulated logical-log tail, for a follower whose store must
// be rebuilt from scratch; pkg/lifecycle's quarantine does not call it.
// Only the graph resource has store files to copy this way; other
// registered sources are expected to rebuild from PullUpdates alone.
func (s *Server) CopyStore(req *rpc.CopyStoreRequest, stream rpc.PrimaryService_CopyStoreServer) error {
	if err := s.ensurePrimary(); err != nil {
		return err
	}
	if req.Resource != datasource.GraphSourceName {
		return status.Errorf(codes.InvalidArgument, "primaryrpc: no file-based copy for resource %q", req.Resource)
	}

	for _, name := range s.st.FileNames() {
		if err := s.sendFile(stream, name); err != nil {
			return err
		}
	}

	paths, err := walog.SegmentPaths(s.log_.Dir())
	if err != nil {
		return fmt.Errorf("primaryrpc: list segments: %w", err)
	}
	for _, path := range paths {
		if err := s.sendLogTail(stream, path); err != nil {
			return err
		}
	}

	return stream.Send(&rpc.CopyStoreResponse{Kind: rpc.CopyStoreChunkDone})
}

func (s *Server) sendFile(stream rpc.PrimaryService_CopyStoreServer, name string) error {
	f, err := os.Open(filepath.Join(s.st.Dir(), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("primaryrpc: open %s: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, copyChunkSize)
	var offset int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := stream.Send(&rpc.CopyStoreResponse{
				Kind: rpc.CopyStoreChunkFile, FileName: name, Offset: offset, Data: chunk,
			}); err != nil {
				return err
			}
			offset += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("primaryrpc: read %s: %w", name, readErr)
		}
	}
}

func (s *Server) sendLogTail(stream rpc.PrimaryService_CopyStoreServer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("primaryrpc: open %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	buf := make([]byte, copyChunkSize)
	var offset int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := stream.Send(&rpc.CopyStoreResponse{
				Kind: rpc.CopyStoreChunkLogTail, FileName: name, Offset: offset, Data: chunk,
			}); err != nil {
				return err
			}
			offset += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("primaryrpc: read %s: %w", path, readErr)
		}
	}
}

// MasterEpochFor reports which primary epoch committed a given global
// transaction id, looked up from the logical log's own COMMIT record
// rather than any in-memory table, so it survives a restart.
func (s *Server) MasterEpochFor(ctx context.Context, req *rpc.MasterEpochForRequest) (*rpc.MasterEpochForResponse, error) {
	paths, err := walog.SegmentPaths(s.log_.Dir())
	if err != nil {
		return nil, fmt.Errorf("primaryrpc: list segments: %w", err)
	}
	commit, ok, err := walog.FindCommit(paths, req.TxID)
	if err != nil {
		return nil, fmt.Errorf("primaryrpc: scan log: %w", err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "primaryrpc: no committed tx %d for resource %s", req.TxID, req.Resource)
	}
	return &rpc.MasterEpochForResponse{Epoch: commit.PrimaryEpoch}, nil
}

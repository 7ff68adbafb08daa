// Package replica implements the follower side of Heartwood's
// replication protocol: turning local writes into Commit RPCs against
// whichever machine is currently primary, and a background Puller
// that keeps every registered data source caught up between writes.
package replica

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/heartwoodb/heartwood/pkg/broker"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/log"
	"github.com/heartwoodb/heartwood/pkg/replerr"
	"github.com/heartwoodb/heartwood/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client is a follower's handle to the current primary: it dials lazily,
// re-dials on any transient failure, and forces a fresh election via the
// broker when the primary stops answering entirely.
type Client struct {
	followerID string
	certDir    string
	broker     *broker.Broker
	registry   *datasource.Registry

	mu      sync.Mutex
	conn    *grpc.ClientConn
	rpc     rpc.PrimaryServiceClient
	primary string // address of the rpc connection currently held, "" if none

	nextTxLocalID uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient creates a follower replication client. Whenever it needs
// a connection, the client looks up the current primary's address in
// the broker's view (not cached across elections).
func NewClient(followerID, certDir string, b *broker.Broker, registry *datasource.Registry) *Client {
	return &Client{
		followerID: followerID,
		certDir:    certDir,
		broker:     b,
		registry:   registry,
		stopCh:     make(chan struct{}),
	}
}

// Close releases the cached connection, if any, and stops any running
// Puller.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.rpc = nil
		return err
	}
	return nil
}

// connection returns the cached RPC client if still pointed at the
// broker's current primary, dialing a fresh one otherwise.
func (c *Client) connection() (rpc.PrimaryServiceClient, error) {
	view, err := c.broker.CurrentView()
	if err != nil {
		return nil, replerr.New(replerr.KindPrimaryLost, "replica.connection", err)
	}
	addr, ok := view.Addresses[view.PrimaryID]
	if !ok || addr == "" {
		return nil, replerr.New(replerr.KindPrimaryLost, "replica.connection", fmt.Errorf("no address known for primary %s", view.PrimaryID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.primary == addr {
		return c.rpc, nil
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rpc = nil
	}

	opts, err := rpc.DialOptions(c.certDir)
	if err != nil {
		return nil, fmt.Errorf("replica: build dial options: %w", err)
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, replerr.New(replerr.KindTransientCommunication, "replica.connection", err)
	}

	c.conn = conn
	c.primary = addr
	c.rpc = rpc.NewPrimaryServiceClient(conn)
	return c.rpc, nil
}

// dropConnection discards the cached connection so the next call
// re-resolves the primary's address from the broker's view, and kicks
// off a forced re-election — the primary may simply be gone.
func (c *Client) dropConnection() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rpc = nil
		c.primary = ""
	}
	c.mu.Unlock()

	if c.broker == nil {
		return
	}
	if err := c.broker.ForceReelect(); err != nil {
		log.Errorf("replica: force reelect failed", err)
	}
}

// classify turns a raw RPC failure into a ReplicationError, dropping
// the cached connection on anything that looks like the primary is
// unreachable rather than merely rejecting the request.
func (c *Client) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*replerr.ReplicationError); ok {
		return re
	}

	st, ok := status.FromError(err)
	switch {
	case ok && (st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded):
		c.dropConnection()
		return replerr.New(replerr.KindTransientCommunication, op, err)
	case ok && st.Code() == codes.FailedPrecondition:
		// Either "not primary" (stale view, retry) or branch-safety
		// rejection surfaced by the primary's Commit handler.
		c.dropConnection()
		return replerr.New(replerr.KindBranchedData, op, err)
	case !ok:
		c.dropConnection()
		return replerr.New(replerr.KindTransientCommunication, op, err)
	default:
		return fmt.Errorf("replica: %s: %w", op, err)
	}
}

// followerContext snapshots every registered source's current cursor,
// the shape every RPC call reports itself by.
func (c *Client) followerContext() rpc.FollowerContext {
	cursors := make([]rpc.ResourceCursor, 0, len(c.registry.All()))
	for _, src := range c.registry.All() {
		cursors = append(cursors, rpc.ResourceCursor{Resource: src.Name(), LastTxID: src.LastCommittedTxID()})
	}
	return rpc.FollowerContext{FollowerID: c.followerID, Cursors: cursors}
}

// AllocateIDs asks the primary for a contiguous id block.
func (c *Client) AllocateIDs(ctx context.Context, store string, count int) (uint64, error) {
	client, err := c.connection()
	if err != nil {
		return 0, err
	}
	resp, err := client.AllocateIDs(ctx, &rpc.AllocateIDsRequest{
		Context: c.followerContext(), Store: store, Count: count,
	})
	if err != nil {
		return 0, c.classify("AllocateIDs", err)
	}
	return resp.StartID, nil
}

// AcquireLocks requests the given record locks under txLocalID,
// blocking on the primary's own lock manager until granted or
// refused.
func (c *Client) AcquireLocks(ctx context.Context, txLocalID uint64, locks []rpc.LockRequest) error {
	client, err := c.connection()
	if err != nil {
		return err
	}
	resp, err := client.AcquireLocks(ctx, &rpc.AcquireLocksRequest{
		Context: c.followerContext(), TxLocalID: txLocalID, Locks: locks,
	})
	if err != nil {
		return c.classify("AcquireLocks", err)
	}
	if !resp.Granted {
		return fmt.Errorf("replica: locks refused: %s", resp.Reason)
	}
	return nil
}

// ReleaseLocks aborts txLocalID on the primary, releasing any locks
// it held without committing anything.
func (c *Client) ReleaseLocks(ctx context.Context, txLocalID uint64) error {
	client, err := c.connection()
	if err != nil {
		return err
	}
	_, err = client.ReleaseLocks(ctx, &rpc.ReleaseLocksRequest{Context: c.followerContext(), TxLocalID: txLocalID})
	if err != nil {
		return c.classify("ReleaseLocks", err)
	}
	return nil
}

// NextTxLocalID returns a fresh, client-local transaction id, unique
// only within this follower (the primary tags it with the follower id
// to disambiguate across followers).
func (c *Client) NextTxLocalID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTxLocalID++
	return c.nextTxLocalID
}

// Commit sends every enlisted resource's buffered commands to the
// primary in one call and applies the returned, globally-ordered
// result back through the local Registry so this follower's own
// history advances in lockstep with the primary's — matching
// distilled spec §5(c)'s guarantee that applies never interleave.
func (c *Client) Commit(ctx context.Context, txLocalID uint64, resources []rpc.ResourceCommands) (*rpc.CommitResponse, error) {
	client, err := c.connection()
	if err != nil {
		return nil, err
	}
	resp, err := client.Commit(ctx, &rpc.CommitRequest{
		Context: c.followerContext(), TxLocalID: txLocalID, Resources: resources,
	})
	if err != nil {
		return nil, c.classify("Commit", err)
	}

	for _, rc := range resources {
		src, ok := c.registry.Get(rc.Resource)
		if !ok {
			continue
		}
		cmds := make([]datasource.Command, len(rc.Commands))
		for i, cmd := range rc.Commands {
			cmds[i] = datasource.Command(cmd)
		}
		if err := src.ApplyCommitted(resp.GlobalTxID, cmds); err != nil {
			return resp, replerr.New(replerr.KindRecoveryInconsistency, "Commit.apply", err)
		}
	}
	return resp, nil
}

// MasterEpochFor asks the primary which epoch committed txID on
// resource, used by pkg/lifecycle's branch-safety check.
func (c *Client) MasterEpochFor(ctx context.Context, resource string, txID uint64) (uint64, error) {
	client, err := c.connection()
	if err != nil {
		return 0, err
	}
	resp, err := client.MasterEpochFor(ctx, &rpc.MasterEpochForRequest{
		Context: c.followerContext(), Resource: resource, TxID: txID,
	})
	if err != nil {
		return 0, c.classify("MasterEpochFor", err)
	}
	return resp.Epoch, nil
}

// Pull fetches every committed transaction the follower is missing
// and applies it, in stream order, to the matching registered source.
// Called directly by StartPuller's ticker, and safe to call on demand
// (e.g. right after a role transition) too.
func (c *Client) Pull(ctx context.Context) error {
	client, err := c.connection()
	if err != nil {
		return err
	}
	stream, err := client.PullUpdates(ctx, &rpc.PullUpdatesRequest{Context: c.followerContext()})
	if err != nil {
		return c.classify("PullUpdates", err)
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return c.classify("PullUpdates.Recv", err)
		}
		src, ok := c.registry.Get(resp.Resource)
		if !ok {
			continue
		}
		cmds := make([]datasource.Command, len(resp.Commands))
		for i, cmd := range resp.Commands {
			cmds[i] = datasource.Command(cmd)
		}
		if err := src.ApplyCommitted(resp.GlobalTxID, cmds); err != nil {
			return replerr.New(replerr.KindRecoveryInconsistency, "Pull.apply", err)
		}
	}
}

// StartPuller runs Pull on interval until Close is called, logging
// (never panicking on) transient failures so a flaky primary doesn't
// take down the follower process.
func (c *Client) StartPuller(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := c.Pull(ctx); err != nil {
					log.Errorf("replica: pull failed", err)
				}
				cancel()
			case <-c.stopCh:
				return
			}
		}
	}()
}

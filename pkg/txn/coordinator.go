// Package txn implements Heartwood's transaction coordinator: two-phase
// commit across every enlisted data source, plus wait-for-graph
// deadlock detection over per-record locks.
package txn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/metrics"
)

// Tx is a handle to one in-flight transaction. Callers thread it
// explicitly through every call that needs to buffer a mutation or
// enlist a source — Go has no goroutine-local storage, so unlike the
// teacher's *Manager threading through RPC handlers, this is threaded
// the same way: as an explicit parameter.
type Tx struct {
	id        uint64
	mu        sync.Mutex
	enlisted  map[string]datasource.Source
	commands  map[string][]datasource.Command
	startedAt time.Time
	prepared  bool
}

// ID returns the coordinator-local transaction id.
func (t *Tx) ID() uint64 { return t.id }

// Enlist joins a source to this transaction at most once.
func (t *Tx) Enlist(s datasource.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.enlisted[s.Name()]; ok {
		return
	}
	t.enlisted[s.Name()] = s
}

// Buffer appends a command to be applied against the named source
// once the transaction commits.
func (t *Tx) Buffer(sourceName string, cmd datasource.Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands[sourceName] = append(t.commands[sourceName], cmd)
}

// EnlistedNames returns the names of every source enlisted so far,
// letting a caller outside pkg/txn (pkg/engine, driving a local
// commit without going through pkg/primaryrpc) decide whether the
// graph source needs a logical-log entry without reaching into Tx's
// unexported state.
func (t *Tx) EnlistedNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.enlisted))
	for name := range t.enlisted {
		names = append(names, name)
	}
	return names
}

// CommandsFor returns the commands buffered against sourceName so far.
func (t *Tx) CommandsFor(sourceName string) []datasource.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commands[sourceName]
}

// Coordinator drives Begin/Prepare/Commit/Rollback across whatever
// sources a Tx enlists, always ordering the graph store first per
// DESIGN.md's Open Question decision #2.
type Coordinator struct {
	locks   *LockManager
	nextID  uint64
	mu      sync.Mutex
	active  map[uint64]*Tx
}

// NewCoordinator returns a Coordinator backed by a fresh LockManager.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		locks:  NewLockManager(),
		active: make(map[uint64]*Tx),
	}
}

// Begin allocates a new Tx bound to ctx for the duration of whatever
// blocking lock waits it performs.
func (c *Coordinator) Begin(ctx context.Context) *Tx {
	id := atomic.AddUint64(&c.nextID, 1)
	tx := &Tx{
		id:        id,
		enlisted:  make(map[string]datasource.Source),
		commands:  make(map[string][]datasource.Command),
		startedAt: time.Now(),
	}
	c.mu.Lock()
	c.active[id] = tx
	c.mu.Unlock()
	return tx
}

// Prepare calls Prepare on every enlisted source, aborting the whole
// transaction (rolling it back) on the first failure.
func (c *Coordinator) Prepare(tx *Tx) error {
	tx.mu.Lock()
	sources := orderedSources(tx)
	tx.mu.Unlock()

	for _, s := range sources {
		if err := s.Prepare(); err != nil {
			_ = c.Rollback(tx)
			return fmt.Errorf("txn: prepare failed on source %s: %w", s.Name(), err)
		}
	}

	tx.mu.Lock()
	tx.prepared = true
	tx.mu.Unlock()
	return nil
}

// Commit applies the buffered command stream to every enlisted source
// in a fixed order: the graph store always first, so a crash between
// two sources' commits can always be recovered by rebuilding a
// secondary index from the graph store's durable state.
func (c *Coordinator) Commit(tx *Tx, globalTxID uint64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TxCommitDuration)

	tx.mu.Lock()
	sources := orderedSources(tx)
	commands := tx.commands
	tx.mu.Unlock()

	for _, s := range sources {
		cmds := commands[s.Name()]
		if err := s.ApplyCommitted(globalTxID, cmds); err != nil {
			metrics.TxAbortsTotal.WithLabelValues("apply_failed").Inc()
			return fmt.Errorf("txn: commit failed on source %s: %w", s.Name(), err)
		}
	}

	c.finish(tx)
	for _, s := range sources {
		metrics.TxCommitsTotal.WithLabelValues(s.Name()).Inc()
	}
	return nil
}

// Rollback discards buffered commands. It writes a log rollback
// record only indirectly, through whichever source already called
// Prepare (the graph source's logical log writer records a ROLLBACK
// entry when its caller invokes walog.Writer.Rollback, driven by
// pkg/engine once Coordinator.Rollback returns).
func (c *Coordinator) Rollback(tx *Tx) error {
	c.finish(tx)
	metrics.TxAbortsTotal.WithLabelValues("rollback").Inc()
	return nil
}

func (c *Coordinator) finish(tx *Tx) {
	c.locks.ReleaseAll(tx.id)
	c.mu.Lock()
	delete(c.active, tx.id)
	c.mu.Unlock()
}

// orderedSources returns tx's enlisted sources with the graph store
// first; the others follow in map iteration order, which is not
// defined.
func orderedSources(tx *Tx) []datasource.Source {
	var graph datasource.Source
	var rest []datasource.Source
	for name, s := range tx.enlisted {
		if name == datasource.GraphSourceName {
			graph = s
			continue
		}
		rest = append(rest, s)
	}
	if graph == nil {
		return rest
	}
	return append([]datasource.Source{graph}, rest...)
}

// Lock acquires a read or write lock on recordID for tx, blocking
// until granted, ctx is done, or a deadlock is detected and this
// transaction loses the tie-break (youngest aborts).
func (c *Coordinator) Lock(ctx context.Context, tx *Tx, recordID uint64, write bool) error {
	return c.locks.Acquire(ctx, tx.id, tx.startedAt, recordID, write)
}

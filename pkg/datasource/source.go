// Package datasource implements Heartwood's pluggable data-source
// registry: the graph store plus any secondary indexes enlisted in a
// transaction, each committed and recovered through the same
// Source contract.
package datasource

import "fmt"

// Command is one opaque mutation buffered under a transaction and
// written to the logical log as a single entry's payload. Only the
// Source that produced it knows how to decode and apply it.
type Command []byte

// CommittedTx is one transaction's command stream plus the global id
// and primary epoch it was committed under, the shape Extract yields
// to a Puller and ApplyCommitted consumes on the follower side.
type CommittedTx struct {
	GlobalTxID   uint64
	PrimaryEpoch uint64
	Commands     []Command
}

// Source is implemented by every participant in a transaction: the
// graph store itself (pkg/datasource/graphsource.go) and any
// secondary index a deployment registers alongside it.
type Source interface {
	Name() string

	// LastCommittedTxID returns the highest global transaction id this
	// source has durably applied.
	LastCommittedTxID() uint64

	// Prepare durably buffers whatever this source needs to commit
	// without yet making it visible, returning an error to abort the
	// whole transaction.
	Prepare() error

	// ApplyCommitted replays a command stream as transaction txID.
	// It must reject any txID greater than LastCommittedTxID()+1
	// (the "gap rejection" rule), forcing the
	// caller to re-request starting at last+1 rather than silently
	// skipping history.
	ApplyCommitted(txID uint64, commands []Command) error

	// Extract streams every committed transaction strictly greater
	// than fromTxID, in commit order, closing the channel when caught
	// up to the source's current state at the time Extract was
	// called.
	Extract(fromTxID uint64) (<-chan CommittedTx, error)

	// MasterEpochFor returns the primary epoch under which txID was
	// committed, used for branch-safety comparison (distilled spec
	// §7).
	MasterEpochFor(txID uint64) (uint64, error)

	// SetLastCommitted forcibly advances the source's checkpoint,
	// used by recovery once Scan has established the true highest
	// durable transaction.
	SetLastCommitted(txID uint64)
}

// ErrGap is returned by ApplyCommitted when txID skips ahead of what
// the source has already applied.
type ErrGap struct {
	Source  string
	Want    uint64
	Got     uint64
}

func (e *ErrGap) Error() string {
	return fmt.Sprintf("datasource: %s: gap in committed stream: want %d, got %d", e.Source, e.Want, e.Got)
}

// Registry holds every enlisted Source by name and is the only thing
// pkg/txn.Coordinator and pkg/replica.Client need to apply or extract
// committed history across all of them uniformly.
type Registry struct {
	sources map[string]Source
	order   []string // enlistment order, preserved for iteration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source under its own Name(). Registering the same
// name twice replaces the previous source.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get looks up a source by name.
func (r *Registry) Get(name string) (Source, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// All returns every registered source in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Names returns every registered source's name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

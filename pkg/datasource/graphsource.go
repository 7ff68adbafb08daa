package datasource

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/heartwoodb/heartwood/pkg/storage"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/walog"
)

// graph source op codes, the command vocabulary GraphSource encodes
// to and decodes from a Command's opaque bytes.
const (
	opPutNode byte = iota + 1
	opDeleteNode
	opPutRelationship
	opDeleteRelationship
	opPutProperty
	opDeleteProperty
)

// GraphSourceName identifies the graph store's own Source in a
// Registry; the transaction coordinator always prepares and commits
// this source first (see DESIGN.md's Open Question decision #2).
const GraphSourceName = "graph"

// GraphSource is the data source wrapping the graph store engine and
// its logical log — the primary, always-present participant in every
// transaction.
type GraphSource struct {
	mu        sync.Mutex
	st        *store.Store
	log       *walog.Writer
	checkpoints storage.TokenStore
	lastCommitted uint64
}

// NewGraphSource binds a GraphSource to an already-open store, log
// writer, and token store (used only for its checkpoint bucket).
func NewGraphSource(st *store.Store, log *walog.Writer, checkpoints storage.TokenStore) (*GraphSource, error) {
	g := &GraphSource{st: st, log: log, checkpoints: checkpoints}
	last, ok, err := checkpoints.GetSourceCheckpoint(GraphSourceName)
	if err != nil {
		return nil, fmt.Errorf("datasource: load graph checkpoint: %w", err)
	}
	if ok {
		g.lastCommitted = last
	}
	return g, nil
}

func (g *GraphSource) Name() string { return GraphSourceName }

func (g *GraphSource) LastCommittedTxID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCommitted
}

func (g *GraphSource) SetLastCommitted(txID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCommitted = txID
}

// Prepare is a no-op for the graph source: every command is already
// durable in the logical log by the time Coordinator.Prepare runs,
// since Writer.Prepare forces the log segment, not the store files.
func (g *GraphSource) Prepare() error { return nil }

// ApplyCommitted replays a command stream through the store. It is
// idempotent: a txID already applied (txID <= LastCommittedTxID()) is
// a no-op success, since a crash between Writer.Done and the
// checkpoint advancing can hand the same committed transaction to
// ApplyCommitted twice during recovery. Only a txID that skips ahead
// of the next expected one is rejected as a gap.
func (g *GraphSource) ApplyCommitted(txID uint64, commands []Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if txID <= g.lastCommitted {
		return nil
	}

	want := g.lastCommitted + 1
	if txID != want {
		return &ErrGap{Source: GraphSourceName, Want: want, Got: txID}
	}

	for _, cmd := range commands {
		if err := applyCommand(g.st, cmd); err != nil {
			return fmt.Errorf("datasource: apply command in tx %d: %w", txID, err)
		}
	}

	g.lastCommitted = txID
	if err := g.checkpoints.PutSourceCheckpoint(GraphSourceName, txID); err != nil {
		return fmt.Errorf("datasource: persist checkpoint: %w", err)
	}
	return nil
}

// Extract is unsupported directly on GraphSource: walog.Scan over the
// logical log segments (plus any zstd archive) is the graph source's
// extraction path, driven by pkg/primaryrpc's PullUpdates handler
// rather than this method, since only the RPC layer knows which
// segment files are still resident.
func (g *GraphSource) Extract(fromTxID uint64) (<-chan CommittedTx, error) {
	return nil, fmt.Errorf("datasource: graph source extraction is served by primaryrpc.PullUpdates, not Extract")
}

func (g *GraphSource) MasterEpochFor(txID uint64) (uint64, error) {
	return 0, fmt.Errorf("datasource: graph source epoch lookup is served by primaryrpc.MasterEpochFor from the logical log, not MasterEpochFor")
}

// applyCommand decodes and replays one opaque Command against the
// store.
func applyCommand(st *store.Store, cmd Command) error {
	if len(cmd) < 1 {
		return fmt.Errorf("datasource: empty command")
	}
	op := cmd[0]
	body := cmd[1:]

	switch op {
	case opPutNode:
		if len(body) != 8+store.NodeRecordSize {
			return fmt.Errorf("datasource: malformed put-node command")
		}
		id := binary.BigEndian.Uint64(body[0:8])
		_, err := st.PutNode(decodeNodeFromWire(id, body[8:]))
		return err

	case opDeleteNode:
		if len(body) != 8 {
			return fmt.Errorf("datasource: malformed delete-node command")
		}
		return st.DeleteNode(binary.BigEndian.Uint64(body[0:8]))

	case opPutRelationship:
		if len(body) != 8+store.RelationshipRecordSize {
			return fmt.Errorf("datasource: malformed put-relationship command")
		}
		id := binary.BigEndian.Uint64(body[0:8])
		_, err := st.PutRelationship(decodeRelFromWire(id, body[8:]))
		return err

	case opDeleteRelationship:
		if len(body) != 8 {
			return fmt.Errorf("datasource: malformed delete-relationship command")
		}
		return st.DeleteRelationship(binary.BigEndian.Uint64(body[0:8]))

	case opPutProperty:
		if len(body) != 8+store.PropertyRecordSize {
			return fmt.Errorf("datasource: malformed put-property command")
		}
		id := binary.BigEndian.Uint64(body[0:8])
		_, err := st.PutProperty(decodePropFromWire(id, body[8:]))
		return err

	case opDeleteProperty:
		if len(body) != 8 {
			return fmt.Errorf("datasource: malformed delete-property command")
		}
		return st.DeleteProperty(binary.BigEndian.Uint64(body[0:8]))

	default:
		return fmt.Errorf("datasource: unknown command opcode %d", op)
	}
}

// EncodePutNode builds a Command for writing a node record, for use
// by pkg/engine when it buffers mutations under a transaction.
func EncodePutNode(id uint64, r store.NodeRecord) Command {
	buf := make([]byte, 1+8+store.NodeRecordSize)
	buf[0] = opPutNode
	binary.BigEndian.PutUint64(buf[1:9], id)
	copy(buf[9:], encodeNodeForWire(r))
	return buf
}

// EncodeDeleteNode builds a Command for deleting a node record.
func EncodeDeleteNode(id uint64) Command {
	buf := make([]byte, 1+8)
	buf[0] = opDeleteNode
	binary.BigEndian.PutUint64(buf[1:9], id)
	return buf
}

// EncodePutRelationship builds a Command for writing a relationship
// record.
func EncodePutRelationship(id uint64, r store.RelationshipRecord) Command {
	buf := make([]byte, 1+8+store.RelationshipRecordSize)
	buf[0] = opPutRelationship
	binary.BigEndian.PutUint64(buf[1:9], id)
	copy(buf[9:], encodeRelForWire(r))
	return buf
}

// EncodeDeleteRelationship builds a Command for deleting a
// relationship record.
func EncodeDeleteRelationship(id uint64) Command {
	buf := make([]byte, 1+8)
	buf[0] = opDeleteRelationship
	binary.BigEndian.PutUint64(buf[1:9], id)
	return buf
}

// EncodePutProperty builds a Command for writing a property record.
func EncodePutProperty(id uint64, r store.PropertyRecord) Command {
	buf := make([]byte, 1+8+store.PropertyRecordSize)
	buf[0] = opPutProperty
	binary.BigEndian.PutUint64(buf[1:9], id)
	copy(buf[9:], encodePropForWire(r))
	return buf
}

// EncodeDeleteProperty builds a Command for deleting a property
// record.
func EncodeDeleteProperty(id uint64) Command {
	buf := make([]byte, 1+8)
	buf[0] = opDeleteProperty
	binary.BigEndian.PutUint64(buf[1:9], id)
	return buf
}

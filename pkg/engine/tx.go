package engine

import (
	"context"

	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/txn"
)

// Tx is a handle to one in-flight transaction at the record level:
// every Read/Write/Allocate/Release call buffers against the
// underlying *txn.Tx, and Commit/Rollback drive it through the
// engine's coordinator and logical log exactly once.
type Tx struct {
	*txn.Tx
	eng *Engine
	ctx context.Context
}

// ReadNode returns the current on-disk node record for id. Reads are
// not buffered or locked against concurrent writers within the same
// transaction; callers that need read-your-writes isolation should
// track their own buffered mutations.
func (t *Tx) ReadNode(id uint64) (store.NodeRecord, error) {
	return t.eng.st.GetNode(id)
}

// WriteNode locks id for write and buffers a PutNode command.
func (t *Tx) WriteNode(id uint64, r store.NodeRecord) error {
	if err := t.eng.lockForWrite(t.ctx, t.Tx, id); err != nil {
		return err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodePutNode(id, r))
	return nil
}

// AllocateNode reserves a fresh node id and buffers its initial
// record, returning the allocated id.
func (t *Tx) AllocateNode(r store.NodeRecord) (uint64, error) {
	id, err := t.eng.st.AllocateIDRange(store.StoreNameNode, 1)
	if err != nil {
		return 0, err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodePutNode(id, r))
	return id, nil
}

// ReleaseNode locks id for write and buffers a DeleteNode command.
func (t *Tx) ReleaseNode(id uint64) error {
	if err := t.eng.lockForWrite(t.ctx, t.Tx, id); err != nil {
		return err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodeDeleteNode(id))
	return nil
}

// ReadRelationship returns the current on-disk relationship record.
func (t *Tx) ReadRelationship(id uint64) (store.RelationshipRecord, error) {
	return t.eng.st.GetRelationship(id)
}

// WriteRelationship locks id for write and buffers a PutRelationship
// command.
func (t *Tx) WriteRelationship(id uint64, r store.RelationshipRecord) error {
	if err := t.eng.lockForWrite(t.ctx, t.Tx, id); err != nil {
		return err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodePutRelationship(id, r))
	return nil
}

// AllocateRelationship reserves a fresh relationship id and buffers
// its initial record.
func (t *Tx) AllocateRelationship(r store.RelationshipRecord) (uint64, error) {
	id, err := t.eng.st.AllocateIDRange(store.StoreNameRelationship, 1)
	if err != nil {
		return 0, err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodePutRelationship(id, r))
	return id, nil
}

// ReleaseRelationship locks id for write and buffers a
// DeleteRelationship command.
func (t *Tx) ReleaseRelationship(id uint64) error {
	if err := t.eng.lockForWrite(t.ctx, t.Tx, id); err != nil {
		return err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodeDeleteRelationship(id))
	return nil
}

// ReadProperty returns the current on-disk property record.
func (t *Tx) ReadProperty(id uint64) (store.PropertyRecord, error) {
	return t.eng.st.GetProperty(id)
}

// WriteProperty locks id for write and buffers a PutProperty command.
func (t *Tx) WriteProperty(id uint64, r store.PropertyRecord) error {
	if err := t.eng.lockForWrite(t.ctx, t.Tx, id); err != nil {
		return err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodePutProperty(id, r))
	return nil
}

// AllocateProperty reserves a fresh property id and buffers its
// initial record.
func (t *Tx) AllocateProperty(r store.PropertyRecord) (uint64, error) {
	id, err := t.eng.st.AllocateIDRange(store.StoreNameProperty, 1)
	if err != nil {
		return 0, err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodePutProperty(id, r))
	return id, nil
}

// ReleaseProperty locks id for write and buffers a DeleteProperty
// command.
func (t *Tx) ReleaseProperty(id uint64) error {
	if err := t.eng.lockForWrite(t.ctx, t.Tx, id); err != nil {
		return err
	}
	t.eng.enlistGraph(t.Tx)
	t.Buffer(datasource.GraphSourceName, datasource.EncodeDeleteProperty(id))
	return nil
}

// InternString writes value to the shared string table and returns
// its first block id, for use as a property's out-of-line value. Type
// tokens and string/array blocks aren't transaction-buffered: they
// are content-addressed auxiliary tables replicated by CopyStore's
// full-file transfer rather than the logical log, the same role the
// teacher's token tables play against its raft log.
func (t *Tx) InternString(value string) (uint64, error) {
	return t.eng.st.PutString(value)
}

// InternStringArray writes values to the shared string-array table
// and returns its first block id.
func (t *Tx) InternStringArray(values []string) (uint64, error) {
	return t.eng.st.PutStringArray(values)
}

// ResolveRelationshipType returns the type token for nameBlock,
// creating one if this is the first relationship of that name.
func (t *Tx) ResolveRelationshipType(nameBlock uint32) (uint64, error) {
	return t.eng.st.FindOrCreateRelationshipType(nameBlock)
}

// Commit prepares and commits every buffered mutation, returning the
// global transaction id and primary epoch it was committed under.
func (t *Tx) Commit() (uint64, uint64, error) {
	return t.eng.commitTx(t.Tx)
}

// Rollback discards every buffered mutation and releases this
// transaction's locks.
func (t *Tx) Rollback() error {
	return t.eng.rollbackTx(t.Tx)
}

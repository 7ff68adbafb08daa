// Package store implements Heartwood's on-disk store engine: four
// fixed-record files (nodes, relationships, properties, relationship
// types) accessed through a pluggable buffer manager, matching
// distilled spec §6's neostore layout.
package store

import (
	"fmt"
	"path/filepath"
)

const (
	fileNeostore          = "neostore"
	fileNodeStore         = "neostore.nodestore.db"
	fileRelationshipStore = "neostore.relationshipstore.db"
	filePropertyStore     = "neostore.propertystore.db"
	filePropertyStrings   = "neostore.propertystore.db.strings"
	filePropertyArrays    = "neostore.propertystore.db.arrays"
	fileRelTypeStore      = "neostore.relationshiptypestore.db"
)

// Store is the embeddable store engine: the four fixed-record stores
// plus their id allocators, all stamped with a single store identity.
type Store struct {
	dir     string
	storeID [16]byte

	neostore *RecordFile

	nodes    *RecordFile
	nodeIDs  *IDAllocator

	rels   *RecordFile
	relIDs *IDAllocator

	props   *RecordFile
	propIDs *IDAllocator
	strings *DynamicStore
	arrays  *DynamicStore

	relTypes   *RecordFile
	relTypeIDs *IDAllocator
}

// Open opens (creating if absent) the store engine rooted at dir. A
// brand-new store is stamped with a fresh random store identity;
// an existing store's identity is read back from neostore's header
// and propagated as the expected identity for every sibling file, so
// a mismatched file (e.g. one copied in from a branched follower)
// is rejected at open time rather than silently corrupting the graph.
func Open(dir string, useMmap bool) (*Store, error) {
	neoPath := filepath.Join(dir, fileNeostore)
	neo, err := openRecordFile(neoPath, 1, magicNeostore, newStoreID(), false)
	if err != nil {
		return nil, err
	}
	sid := neo.StoreID()

	s := &Store{dir: dir, storeID: sid, neostore: neo}

	if s.nodes, err = openRecordFile(filepath.Join(dir, fileNodeStore), NodeRecordSize, magicNodeStore, sid, useMmap); err != nil {
		return nil, err
	}
	if s.nodeIDs, err = NewIDAllocator(s.nodes, filepath.Join(dir, fileNodeStore+".id")); err != nil {
		return nil, err
	}

	if s.rels, err = openRecordFile(filepath.Join(dir, fileRelationshipStore), RelationshipRecordSize, magicRelationshipStore, sid, useMmap); err != nil {
		return nil, err
	}
	if s.relIDs, err = NewIDAllocator(s.rels, filepath.Join(dir, fileRelationshipStore+".id")); err != nil {
		return nil, err
	}

	if s.props, err = openRecordFile(filepath.Join(dir, filePropertyStore), PropertyRecordSize, magicPropertyStore, sid, useMmap); err != nil {
		return nil, err
	}
	if s.propIDs, err = NewIDAllocator(s.props, filepath.Join(dir, filePropertyStore+".id")); err != nil {
		return nil, err
	}
	if s.strings, err = openDynamicStore(filepath.Join(dir, filePropertyStrings), sid); err != nil {
		return nil, err
	}
	if s.arrays, err = openDynamicStore(filepath.Join(dir, filePropertyArrays), sid); err != nil {
		return nil, err
	}

	if s.relTypes, err = openRecordFile(filepath.Join(dir, fileRelTypeStore), RelationshipTypeRecordSize, magicRelationshipTypeStore, sid, false); err != nil {
		return nil, err
	}
	if s.relTypeIDs, err = NewIDAllocator(s.relTypes, filepath.Join(dir, fileRelTypeStore+".id")); err != nil {
		return nil, err
	}

	return s, nil
}

// StoreID returns this store's identity, the one every sibling file's
// header is checked against at Open.
func (s *Store) StoreID() [16]byte { return s.storeID }

// Dir returns the directory the store's files live in, so callers
// (pkg/primaryrpc's CopyStore handler) can enumerate them without
// duplicating the file-naming scheme.
func (s *Store) Dir() string { return s.dir }

// FileNames lists every store file's base name, in the fixed order a
// CopyStore stream sends them in: neostore first, then each
// fixed-record store alongside its id-allocator file.
func (s *Store) FileNames() []string {
	return []string{
		fileNeostore,
		fileNodeStore, fileNodeStore + ".id",
		fileRelationshipStore, fileRelationshipStore + ".id",
		filePropertyStore, filePropertyStore + ".id",
		filePropertyStrings,
		filePropertyArrays,
		fileRelTypeStore, fileRelTypeStore + ".id",
	}
}

// GetNode reads a node record by id.
func (s *Store) GetNode(id uint64) (NodeRecord, error) {
	buf, err := s.nodes.ReadAt(id)
	if err != nil {
		return NodeRecord{}, err
	}
	return decodeNodeRecord(id, buf), nil
}

// PutNode writes a node record, allocating a fresh id first if r.ID
// is unset (callers pass NoID to request a new node).
func (s *Store) PutNode(r NodeRecord) (uint64, error) {
	id := r.ID
	if id == NoID {
		var err error
		id, err = s.nodeIDs.Allocate()
		if err != nil {
			return 0, err
		}
	}
	if err := s.nodes.WriteAt(id, encodeNodeRecord(r)); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteNode marks a node record unused and returns its id to the
// allocator's free list. Callers must only call this after the
// deletion's logical log record is durable.
func (s *Store) DeleteNode(id uint64) error {
	if err := s.nodes.WriteAt(id, encodeNodeRecord(NodeRecord{InUse: false})); err != nil {
		return err
	}
	s.nodeIDs.Free(id)
	return nil
}

// GetRelationship reads a relationship record by id.
func (s *Store) GetRelationship(id uint64) (RelationshipRecord, error) {
	buf, err := s.rels.ReadAt(id)
	if err != nil {
		return RelationshipRecord{}, err
	}
	return decodeRelationshipRecord(id, buf), nil
}

// PutRelationship writes a relationship record, allocating a fresh id
// first if r.ID is unset.
func (s *Store) PutRelationship(r RelationshipRecord) (uint64, error) {
	id := r.ID
	if id == NoID {
		var err error
		id, err = s.relIDs.Allocate()
		if err != nil {
			return 0, err
		}
	}
	if err := s.rels.WriteAt(id, encodeRelationshipRecord(r)); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteRelationship marks a relationship record unused and frees its
// id.
func (s *Store) DeleteRelationship(id uint64) error {
	if err := s.rels.WriteAt(id, encodeRelationshipRecord(RelationshipRecord{InUse: false})); err != nil {
		return err
	}
	s.relIDs.Free(id)
	return nil
}

// GetProperty reads a property record by id.
func (s *Store) GetProperty(id uint64) (PropertyRecord, error) {
	buf, err := s.props.ReadAt(id)
	if err != nil {
		return PropertyRecord{}, err
	}
	return decodePropertyRecord(id, buf), nil
}

// PutProperty writes a property record, allocating a fresh id first
// if r.ID is unset.
func (s *Store) PutProperty(r PropertyRecord) (uint64, error) {
	id := r.ID
	if id == NoID {
		var err error
		id, err = s.propIDs.Allocate()
		if err != nil {
			return 0, err
		}
	}
	if err := s.props.WriteAt(id, encodePropertyRecord(r)); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteProperty marks a property record unused and frees its id.
func (s *Store) DeleteProperty(id uint64) error {
	if err := s.props.WriteAt(id, encodePropertyRecord(PropertyRecord{InUse: false})); err != nil {
		return err
	}
	s.propIDs.Free(id)
	return nil
}

// PutString stores a long string value in the dynamic .strings store
// and returns the id of its first block.
func (s *Store) PutString(value string) (uint64, error) {
	return s.strings.Put([]byte(value))
}

// GetString reassembles a long string value from its first block id.
func (s *Store) GetString(firstBlock uint64) (string, error) {
	data, err := s.strings.Get(firstBlock)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PutStringArray stores a string-array value (joined with a NUL
// separator within a single dynamic record chain) and returns the id
// of its first block.
func (s *Store) PutStringArray(values []string) (uint64, error) {
	var buf []byte
	for i, v := range values {
		if i > 0 {
			buf = append(buf, 0)
		}
		buf = append(buf, v...)
	}
	return s.arrays.Put(buf)
}

// GetStringArray reassembles a string-array value.
func (s *Store) GetStringArray(firstBlock uint64) ([]string, error) {
	data, err := s.arrays.Get(firstBlock)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out []string
	start := 0
	for i, b := range data {
		if b == 0 {
			out = append(out, string(data[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(data[start:]))
	return out, nil
}

// FindOrCreateRelationshipType allocates a fresh relationship-type
// record for nameBlock and returns its id. It does not look for an
// existing record with the same nameBlock: every call allocates a new
// one. The name itself is not stored in the fixed record — callers
// (pkg/datasource) keep the name<->id mapping in the token store
// (pkg/storage) and only the id is persisted here.
func (s *Store) FindOrCreateRelationshipType(nameBlock uint32) (uint64, error) {
	id, err := s.relTypeIDs.Allocate()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, RelationshipTypeRecordSize)
	buf[0] = 1
	buf[1] = byte(nameBlock >> 24)
	buf[2] = byte(nameBlock >> 16)
	buf[3] = byte(nameBlock >> 8)
	buf[4] = byte(nameBlock)
	if err := s.relTypes.WriteAt(id, buf); err != nil {
		return 0, err
	}
	return id, nil
}

// Store file names, exported so pkg/primaryrpc can name which
// allocator an AllocateIDs RPC targets without reaching into package
// internals.
const (
	StoreNameNode         = fileNodeStore
	StoreNameRelationship = fileRelationshipStore
	StoreNameProperty     = filePropertyStore
	StoreNameRelType      = fileRelTypeStore
)

// AllocateIDRange hands out count contiguous fresh ids from the named
// store file, for a primary to answer a follower's AllocateIDs RPC.
func (s *Store) AllocateIDRange(storeName string, count int) (uint64, error) {
	var alloc *IDAllocator
	switch storeName {
	case StoreNameNode:
		alloc = s.nodeIDs
	case StoreNameRelationship:
		alloc = s.relIDs
	case StoreNameProperty:
		alloc = s.propIDs
	case StoreNameRelType:
		alloc = s.relTypeIDs
	default:
		return 0, fmt.Errorf("store: unknown store name %q", storeName)
	}
	return alloc.AllocateRange(count)
}

// Flush writes back and syncs the node, relationship, property and
// relationship-type files (durableLSN is passed down but holds no
// page back) and persists those four allocators' free lists. The
// neostore file and the string/array dynamic stores are not flushed
// here.
func (s *Store) Flush(durableLSN uint64) error {
	for _, rf := range []*RecordFile{s.nodes, s.rels, s.props, s.relTypes} {
		if err := rf.Flush(durableLSN); err != nil {
			return err
		}
	}
	for _, a := range []*IDAllocator{s.nodeIDs, s.relIDs, s.propIDs, s.relTypeIDs} {
		if err := a.Persist(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and releases every underlying file.
func (s *Store) Close() error {
	if err := s.Flush(^uint64(0)); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	for _, rf := range []*RecordFile{s.neostore, s.nodes, s.rels, s.props, s.relTypes} {
		if err := rf.Close(); err != nil {
			return err
		}
	}
	if err := s.strings.Close(); err != nil {
		return err
	}
	return s.arrays.Close()
}

package store

import "encoding/binary"

// Record kinds, each backed by its own fixed-record file.
const (
	magicNodeStore             uint32 = 0x4e4f4445 // "NODE"
	magicRelationshipStore     uint32 = 0x52454c41 // "RELA"
	magicPropertyStore         uint32 = 0x50524f50 // "PROP"
	magicRelationshipTypeStore uint32 = 0x52545950 // "RTYP"
	magicNeostore              uint32 = 0x4e454f53 // "NEOS"

	storeVersion uint16 = 1
)

// headerSize is the fixed prefix every store file carries:
// {magic uint32, version uint16, store_id [16]byte}.
const headerSize = 4 + 2 + 16

// NodeRecordSize is the on-disk width of one node record:
// {in_use byte, next_rel_id uint64, next_prop_id uint64}.
const NodeRecordSize = 1 + 8 + 8

// RelationshipRecordSize is the on-disk width of one relationship
// record: {in_use byte, first_node uint64, second_node uint64,
// rel_type uint32, first_prev uint64, first_next uint64,
// second_prev uint64, second_next uint64, next_prop uint64}.
const RelationshipRecordSize = 1 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8

// PropertyRecordSize is the on-disk width of one property record:
// {in_use byte, key_token uint32, type byte, value [8]byte, next_prop uint64}.
const PropertyRecordSize = 1 + 4 + 1 + 8 + 8

// RelationshipTypeRecordSize is the width of one relationship-type
// token record: {in_use byte, name_block uint32}.
const RelationshipTypeRecordSize = 1 + 4

// PropertyType tags the value encoding stored inline in a property
// record, matching distilled spec §3's property-value variants.
type PropertyType byte

const (
	PropertyTypeBool PropertyType = iota + 1
	PropertyTypeInt64
	PropertyTypeFloat64
	PropertyTypeShortString // fits inline in the 8-byte value slot
	PropertyTypeString      // spills to the .strings dynamic store
	PropertyTypeStringArray // spills to the .arrays dynamic store
)

// NodeRecord is the decoded form of one fixed-width node record.
type NodeRecord struct {
	ID        uint64
	InUse     bool
	NextRelID uint64 // sentinel NoID if the node has no relationships
	NextPropID uint64
}

// NoID marks an absent pointer in a record chain.
const NoID uint64 = ^uint64(0)

func encodeNodeRecord(r NodeRecord) []byte {
	buf := make([]byte, NodeRecordSize)
	if r.InUse {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[1:9], r.NextRelID)
	binary.LittleEndian.PutUint64(buf[9:17], r.NextPropID)
	return buf
}

func decodeNodeRecord(id uint64, buf []byte) NodeRecord {
	return NodeRecord{
		ID:         id,
		InUse:      buf[0] != 0,
		NextRelID:  binary.LittleEndian.Uint64(buf[1:9]),
		NextPropID: binary.LittleEndian.Uint64(buf[9:17]),
	}
}

// RelationshipRecord is the decoded form of one fixed-width
// relationship record, including the doubly-linked chain pointers for
// both endpoint nodes (distilled spec §3's relationship chain).
type RelationshipRecord struct {
	ID          uint64
	InUse       bool
	FirstNode   uint64
	SecondNode  uint64
	Type        uint32
	FirstPrevRel uint64
	FirstNextRel uint64
	SecondPrevRel uint64
	SecondNextRel uint64
	NextPropID  uint64
}

func encodeRelationshipRecord(r RelationshipRecord) []byte {
	buf := make([]byte, RelationshipRecordSize)
	if r.InUse {
		buf[0] = 1
	}
	o := 1
	binary.LittleEndian.PutUint64(buf[o:o+8], r.FirstNode)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], r.SecondNode)
	o += 8
	binary.LittleEndian.PutUint32(buf[o:o+4], r.Type)
	o += 4
	binary.LittleEndian.PutUint64(buf[o:o+8], r.FirstPrevRel)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], r.FirstNextRel)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], r.SecondPrevRel)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], r.SecondNextRel)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], r.NextPropID)
	return buf
}

func decodeRelationshipRecord(id uint64, buf []byte) RelationshipRecord {
	o := 1
	r := RelationshipRecord{ID: id, InUse: buf[0] != 0}
	r.FirstNode = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	r.SecondNode = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	r.Type = binary.LittleEndian.Uint32(buf[o : o+4])
	o += 4
	r.FirstPrevRel = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	r.FirstNextRel = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	r.SecondPrevRel = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	r.SecondNextRel = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	r.NextPropID = binary.LittleEndian.Uint64(buf[o : o+8])
	return r
}

// PropertyRecord is the decoded form of one fixed-width property
// record. Short scalars (bool/int64/float64/short string) are stored
// inline in Value; String and StringArray spill to the dynamic
// .strings/.arrays sibling stores and Value holds the first dynamic
// record id instead.
type PropertyRecord struct {
	ID         uint64
	InUse      bool
	KeyToken   uint32
	Type       PropertyType
	Value      [8]byte
	NextPropID uint64
}

func encodePropertyRecord(r PropertyRecord) []byte {
	buf := make([]byte, PropertyRecordSize)
	if r.InUse {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], r.KeyToken)
	buf[5] = byte(r.Type)
	copy(buf[6:14], r.Value[:])
	binary.LittleEndian.PutUint64(buf[14:22], r.NextPropID)
	return buf
}

func decodePropertyRecord(id uint64, buf []byte) PropertyRecord {
	r := PropertyRecord{
		ID:       id,
		InUse:    buf[0] != 0,
		KeyToken: binary.LittleEndian.Uint32(buf[1:5]),
		Type:     PropertyType(buf[5]),
	}
	copy(r.Value[:], buf[6:14])
	r.NextPropID = binary.LittleEndian.Uint64(buf[14:22])
	return r
}

package datasource

import (
	"encoding/binary"

	"github.com/heartwoodb/heartwood/pkg/store"
)

// The encode/decode pairs below serialize store record structs for
// the command wire format; they mirror the field layout of
// pkg/store's own on-disk encoding but operate on the exported struct
// fields directly since pkg/store does not export its record codecs.

func encodeNodeForWire(r store.NodeRecord) []byte {
	buf := make([]byte, store.NodeRecordSize)
	if r.InUse {
		buf[0] = 1
	}
	binary.BigEndian.PutUint64(buf[1:9], r.NextRelID)
	binary.BigEndian.PutUint64(buf[9:17], r.NextPropID)
	return buf
}

func decodeNodeFromWire(id uint64, buf []byte) store.NodeRecord {
	return store.NodeRecord{
		ID:         id,
		InUse:      buf[0] != 0,
		NextRelID:  binary.BigEndian.Uint64(buf[1:9]),
		NextPropID: binary.BigEndian.Uint64(buf[9:17]),
	}
}

func encodeRelForWire(r store.RelationshipRecord) []byte {
	buf := make([]byte, store.RelationshipRecordSize)
	if r.InUse {
		buf[0] = 1
	}
	o := 1
	binary.BigEndian.PutUint64(buf[o:o+8], r.FirstNode)
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], r.SecondNode)
	o += 8
	binary.BigEndian.PutUint32(buf[o:o+4], r.Type)
	o += 4
	binary.BigEndian.PutUint64(buf[o:o+8], r.FirstPrevRel)
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], r.FirstNextRel)
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], r.SecondPrevRel)
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], r.SecondNextRel)
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], r.NextPropID)
	return buf
}

func decodeRelFromWire(id uint64, buf []byte) store.RelationshipRecord {
	o := 1
	r := store.RelationshipRecord{ID: id, InUse: buf[0] != 0}
	r.FirstNode = binary.BigEndian.Uint64(buf[o : o+8])
	o += 8
	r.SecondNode = binary.BigEndian.Uint64(buf[o : o+8])
	o += 8
	r.Type = binary.BigEndian.Uint32(buf[o : o+4])
	o += 4
	r.FirstPrevRel = binary.BigEndian.Uint64(buf[o : o+8])
	o += 8
	r.FirstNextRel = binary.BigEndian.Uint64(buf[o : o+8])
	o += 8
	r.SecondPrevRel = binary.BigEndian.Uint64(buf[o : o+8])
	o += 8
	r.SecondNextRel = binary.BigEndian.Uint64(buf[o : o+8])
	o += 8
	r.NextPropID = binary.BigEndian.Uint64(buf[o : o+8])
	return r
}

func encodePropForWire(r store.PropertyRecord) []byte {
	buf := make([]byte, store.PropertyRecordSize)
	if r.InUse {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], r.KeyToken)
	buf[5] = byte(r.Type)
	copy(buf[6:14], r.Value[:])
	binary.BigEndian.PutUint64(buf[14:22], r.NextPropID)
	return buf
}

func decodePropFromWire(id uint64, buf []byte) store.PropertyRecord {
	r := store.PropertyRecord{
		ID:       id,
		InUse:    buf[0] != 0,
		KeyToken: binary.BigEndian.Uint32(buf[1:5]),
		Type:     store.PropertyType(buf[5]),
	}
	copy(r.Value[:], buf[6:14])
	r.NextPropID = binary.BigEndian.Uint64(buf[14:22])
	return r
}

// Package walog implements Heartwood's logical log: the append-only
// record of committed graph mutations that followers replay and the
// store engine recovers from, per distilled spec §6.
package walog

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// TypeTag identifies the kind of payload carried by one log entry.
type TypeTag byte

const (
	TypeCommand TypeTag = iota + 1 // a single record mutation, buffered under a tx
	TypePrepare                    // marks a tx durable but not yet committed
	TypeCommit                     // {global_tx_id, primary_epoch, timestamp}
	TypeRollback
)

// entryHeaderSize is {type_tag byte, tx_local_id uint64, payload_len
// uint32, checksum uint64}.
const entryHeaderSize = 1 + 8 + 4 + 8

// Entry is one decoded logical log record.
type Entry struct {
	Type      TypeTag
	TxLocalID uint64
	Payload   []byte
}

// CommitPayload is the decoded form of a TypeCommit entry's payload.
type CommitPayload struct {
	GlobalTxID   uint64
	PrimaryEpoch uint64
	TimestampUnixNano int64
}

func encodeCommitPayload(p CommitPayload) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], p.GlobalTxID)
	binary.BigEndian.PutUint64(buf[8:16], p.PrimaryEpoch)
	binary.BigEndian.PutUint64(buf[16:24], uint64(p.TimestampUnixNano))
	return buf
}

func decodeCommitPayload(buf []byte) (CommitPayload, error) {
	if len(buf) != 24 {
		return CommitPayload{}, fmt.Errorf("walog: malformed commit payload (len %d)", len(buf))
	}
	return CommitPayload{
		GlobalTxID:        binary.BigEndian.Uint64(buf[0:8]),
		PrimaryEpoch:      binary.BigEndian.Uint64(buf[8:16]),
		TimestampUnixNano: int64(binary.BigEndian.Uint64(buf[16:24])),
	}, nil
}

// encodeEntry serializes an entry with its checksum, ready to append.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryHeaderSize+len(e.Payload))
	buf[0] = byte(e.Type)
	binary.BigEndian.PutUint64(buf[1:9], e.TxLocalID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(e.Payload)))
	sum := xxhash.Sum64(e.Payload)
	binary.BigEndian.PutUint64(buf[13:21], sum)
	copy(buf[21:], e.Payload)
	return buf
}

// decodeEntryHeader parses the fixed header portion, returning the
// declared payload length and checksum for the caller to verify once
// it has read that many payload bytes.
func decodeEntryHeader(buf []byte) (tag TypeTag, txLocalID uint64, payloadLen uint32, checksum uint64, err error) {
	if len(buf) != entryHeaderSize {
		return 0, 0, 0, 0, fmt.Errorf("walog: short entry header (%d bytes)", len(buf))
	}
	tag = TypeTag(buf[0])
	txLocalID = binary.BigEndian.Uint64(buf[1:9])
	payloadLen = binary.BigEndian.Uint32(buf[9:13])
	checksum = binary.BigEndian.Uint64(buf[13:21])
	return tag, txLocalID, payloadLen, checksum, nil
}

func verifyChecksum(payload []byte, want uint64) bool {
	return xxhash.Sum64(payload) == want
}

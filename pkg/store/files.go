package store

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// RecordFile is the generic fixed-width-record accessor shared by
// NodeStore, RelationshipStore, PropertyStore, and
// RelationshipTypeStore. It owns one on-disk file, a BufferManager
// for the page cache, and knows nothing about the meaning of the
// bytes it stores.
type RecordFile struct {
	path       string
	recordSize int
	magic      uint32
	storeID    [16]byte
	buf        BufferManager
	highWater  uint64 // one past the highest record id ever allocated in this file
}

// openRecordFile opens (creating if absent) a fixed-record file,
// writing or validating its header, and wiring up the configured
// BufferManager backend.
func openRecordFile(path string, recordSize int, magic uint32, storeID [16]byte, mmap bool) (*RecordFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}

	rf := &RecordFile{path: path, recordSize: recordSize, magic: magic}

	if info.Size() == 0 {
		rf.storeID = storeID
		hdr := make([]byte, headerSize)
		binary.LittleEndian.PutUint32(hdr[0:4], magic)
		binary.LittleEndian.PutUint16(hdr[4:6], storeVersion)
		copy(hdr[6:22], storeID[:])
		if _, err := f.WriteAt(hdr, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: write header %s: %w", path, err)
		}
	} else {
		hdr := make([]byte, headerSize)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: read header %s: %w", path, err)
		}
		gotMagic := binary.LittleEndian.Uint32(hdr[0:4])
		if gotMagic != magic {
			f.Close()
			return nil, fmt.Errorf("store: %s has wrong magic %x, expected %x", path, gotMagic, magic)
		}
		copy(rf.storeID[:], hdr[6:22])
		if magic != magicNeostore && rf.storeID != storeID {
			f.Close()
			return nil, fmt.Errorf("store: %s has store id %x, expected %x", path, rf.storeID, storeID)
		}
		rf.highWater = uint64(info.Size()-headerSize) / uint64(recordSize)
	}

	var backend BufferManager
	if mmap {
		backend, err = newMmapBuffer(f, recordSize)
	} else {
		backend = newPwriteBuffer(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	rf.buf = backend

	return rf, nil
}

// StoreID returns the store-identity UUID stamped into this file's
// header, used to detect branched data per distilled spec §7.
func (rf *RecordFile) StoreID() [16]byte { return rf.storeID }

// ReadAt reads the raw bytes of record id.
func (rf *RecordFile) ReadAt(id uint64) ([]byte, error) {
	if id >= rf.highWater {
		return nil, fmt.Errorf("store: record %d out of range (high water %d)", id, rf.highWater)
	}
	return rf.buf.ReadAt(recordOffset(id, rf.recordSize), rf.recordSize)
}

// WriteAt writes the raw bytes of record id, growing the file if
// necessary.
func (rf *RecordFile) WriteAt(id uint64, data []byte) error {
	if len(data) != rf.recordSize {
		return fmt.Errorf("store: record size mismatch: got %d want %d", len(data), rf.recordSize)
	}
	if id >= rf.highWater {
		if err := rf.growTo(id + 1); err != nil {
			return err
		}
	}
	return rf.buf.WriteAt(recordOffset(id, rf.recordSize), data)
}

// Grow extends the file by one record and returns that record's id,
// used by the allocator when it needs a fresh id beyond the current
// high water mark without an immediate write.
func (rf *RecordFile) Grow() (uint64, error) {
	id := rf.highWater
	if err := rf.growTo(id + 1); err != nil {
		return 0, err
	}
	return id, nil
}

// GrowBy extends the file by count records and returns the id of the
// first new record, the id range [start, start+count) all belonging
// to the caller. Used to hand out a contiguous block of ids to a
// remote caller (pkg/primaryrpc's AllocateIDs) in one round trip.
func (rf *RecordFile) GrowBy(count int) (uint64, error) {
	start := rf.highWater
	if err := rf.growTo(start + uint64(count)); err != nil {
		return 0, err
	}
	return start, nil
}

func (rf *RecordFile) growTo(n uint64) error {
	if n <= rf.highWater {
		return nil
	}
	size := headerSize + int64(n)*int64(rf.recordSize)
	if err := rf.buf.Truncate(size); err != nil {
		return fmt.Errorf("store: grow %s: %w", rf.path, err)
	}
	rf.highWater = n
	return nil
}

// HighWater returns one past the highest record id the file has been
// grown to hold, whether or not that record was ever written.
func (rf *RecordFile) HighWater() uint64 { return rf.highWater }

// Flush passes durableLSN to the buffer backend, which writes back
// and syncs every pending write regardless of it.
func (rf *RecordFile) Flush(durableLSN uint64) error {
	return rf.buf.Flush(durableLSN)
}

// Close releases the underlying file and buffer backend.
func (rf *RecordFile) Close() error {
	return rf.buf.Close()
}

func recordOffset(id uint64, recordSize int) int64 {
	return headerSize + int64(id)*int64(recordSize)
}

// newStoreID generates a fresh random store identity, stamped into
// every file created by a brand-new store (distilled spec §7's
// "store identity" invariant).
func newStoreID() [16]byte {
	var id [16]byte
	copy(id[:], uuid.New()[:])
	return id
}

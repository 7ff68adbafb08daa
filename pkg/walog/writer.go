package walog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/heartwoodb/heartwood/pkg/metrics"
)

// RotateThreshold is the default size at which Append swaps to the
// other alternating log file.
const RotateThreshold = 64 * 1024 * 1024

// activeFileName returns the path of one of the two alternating
// logical log segments.
func activeFileName(dir string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("nioneo_logical.log.%d", slot))
}

// Writer appends entries to the currently active alternating segment,
// rotating between nioneo_logical.log.0 and .1 once the active
// segment passes RotateThreshold bytes.
type Writer struct {
	mu   sync.Mutex
	dir  string
	slot int
	f    *os.File
	size int64

	keepArchive bool
	lsn         uint64 // monotonically increasing log sequence number
}

// NewWriter opens (or creates) the active alternating segment for
// dir, resuming from whichever of the two files was written to most
// recently.
func NewWriter(dir string, keepArchive bool) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("walog: mkdir %s: %w", dir, err)
	}

	slot := 0
	var latestMod int64 = -1
	for i := 0; i < 2; i++ {
		info, err := os.Stat(activeFileName(dir, i))
		if err != nil {
			continue
		}
		if info.ModTime().UnixNano() > latestMod {
			latestMod = info.ModTime().UnixNano()
			slot = i
		}
	}

	f, err := os.OpenFile(activeFileName(dir, slot), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("walog: open segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("walog: stat segment: %w", err)
	}

	return &Writer{dir: dir, slot: slot, f: f, size: info.Size(), keepArchive: keepArchive}, nil
}

// Append buffers one command entry for the given transaction. It does
// not force to disk — callers rely on Prepare for durability.
func (w *Writer) Append(txLocalID uint64, payload []byte) error {
	return w.write(Entry{Type: TypeCommand, TxLocalID: txLocalID, Payload: payload})
}

// Prepare forces every buffered entry for the transaction to durable
// storage via File.Sync, marking it safe to begin the commit
// protocol's second phase.
func (w *Writer) Prepare(txLocalID uint64) error {
	if err := w.write(Entry{Type: TypePrepare, TxLocalID: txLocalID}); err != nil {
		return err
	}
	return w.sync()
}

// Commit writes the COMMIT entry carrying the globally agreed
// transaction id and the primary epoch it was committed under, then
// forces it durable. Once Commit returns, the transaction is
// recoverable even if the process crashes before Done.
func (w *Writer) Commit(txLocalID, globalTxID, primaryEpoch uint64, timestampUnixNano int64) error {
	payload := encodeCommitPayload(CommitPayload{
		GlobalTxID:        globalTxID,
		PrimaryEpoch:      primaryEpoch,
		TimestampUnixNano: timestampUnixNano,
	})
	if err := w.write(Entry{Type: TypeCommit, TxLocalID: txLocalID, Payload: payload}); err != nil {
		return err
	}
	return w.sync()
}

// Rollback writes a ROLLBACK entry, used when Prepare already ran but
// the coordinator aborts before Commit.
func (w *Writer) Rollback(txLocalID uint64) error {
	return w.write(Entry{Type: TypeRollback, TxLocalID: txLocalID})
}

// Done is called once the store has applied every command of a
// committed transaction. It is not itself logged — recovery only
// needs to know a transaction committed, not whether its apply step
// finished, since apply is always replayed to idempotent completion.
func (w *Writer) Done(_ uint64) {}

// Dir returns the directory this writer's segments live in, so callers
// (pkg/primaryrpc's MasterEpochFor and CopyStore handlers) can locate
// the full segment set without duplicating the naming scheme.
func (w *Writer) Dir() string { return w.dir }

// DurableLSN returns the log sequence number of the last entry
// written. The counter advances on every write, not on every sync, so
// the entries it covers are not necessarily fsynced yet.
func (w *Writer) DurableLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

func (w *Writer) write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := encodeEntry(e)
	n, err := w.f.Write(buf)
	if err != nil {
		return fmt.Errorf("walog: append: %w", err)
	}
	w.size += int64(n)
	w.lsn++
	metrics.LogAppendsTotal.Inc()

	if w.size >= RotateThreshold {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LogForceDuration)
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("walog: sync: %w", err)
	}
	return nil
}

// rotateLocked swaps to the other alternating segment, archiving the
// one just filled if keepArchive is set. Caller must hold w.mu.
func (w *Writer) rotateLocked() error {
	old := w.f
	oldPath := activeFileName(w.dir, w.slot)

	nextSlot := 1 - w.slot
	nextPath := activeFileName(w.dir, nextSlot)
	nf, err := os.OpenFile(nextPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("walog: rotate open %s: %w", nextPath, err)
	}

	if err := old.Sync(); err != nil {
		nf.Close()
		return fmt.Errorf("walog: rotate sync %s: %w", oldPath, err)
	}
	old.Close()

	w.f = nf
	w.slot = nextSlot
	w.size = 0
	metrics.LogRotationsTotal.Inc()

	if w.keepArchive {
		if err := archiveSegment(oldPath, w.dir); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and releases the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heartwoodb/heartwood/pkg/metrics"
)

// lockHolder tracks one transaction's grant on a record.
type lockHolder struct {
	txID  uint64
	write bool
}

// LockManager grants per-record read/write locks and detects
// deadlocks by rebuilding a wait-for adjacency map on every block,
// running a DFS cycle search from the newly blocked transaction
// (distilled spec §4.3).
type LockManager struct {
	mu       sync.Mutex
	holders  map[uint64][]lockHolder   // recordID -> current holders
	waitFor  map[uint64]map[uint64]bool // txID -> set of txIDs it is waiting on
	startedAt map[uint64]time.Time
	cond     *sync.Cond
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	lm := &LockManager{
		holders:   make(map[uint64][]lockHolder),
		waitFor:   make(map[uint64]map[uint64]bool),
		startedAt: make(map[uint64]time.Time),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

// Acquire blocks until txID holds the requested lock on recordID, ctx
// is canceled, or this transaction is chosen as the victim of a
// detected deadlock (the youngest transaction in the cycle).
func (lm *LockManager) Acquire(ctx context.Context, txID uint64, startedAt time.Time, recordID uint64, write bool) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.startedAt[txID] = startedAt

	for {
		if lm.canGrantLocked(txID, recordID, write) {
			lm.holders[recordID] = append(lm.holders[recordID], lockHolder{txID: txID, write: write})
			delete(lm.waitFor, txID)
			return nil
		}

		lm.waitFor[txID] = lm.blockedOnLocked(txID, recordID, write)

		if victim, cycle := lm.detectDeadlockLocked(txID); cycle {
			if victim == txID {
				metrics.DeadlocksDetectedTotal.Inc()
				delete(lm.waitFor, txID)
				return fmt.Errorf("txn: transaction %d aborted: deadlock detected", txID)
			}
			// Another (younger) transaction is the victim. Keep this
			// transaction's wait-for edges and wake the blocked waiters:
			// the victim's own Acquire loop then finds the same cycle
			// and aborts itself, while this one keeps waiting.
			lm.cond.Broadcast()
		}

		if ctx.Err() != nil {
			delete(lm.waitFor, txID)
			return ctx.Err()
		}

		// A canceled ctx must be able to wake a blocked Acquire even
		// though sync.Cond has no native context support; a watcher
		// goroutine broadcasts on cancellation so the Wait below
		// re-checks ctx.Err() on its next loop iteration.
		done := make(chan struct{})
		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				lm.mu.Lock()
				lm.cond.Broadcast()
				lm.mu.Unlock()
			case <-stopWatch:
			}
			close(done)
		}()

		lm.cond.Wait()
		close(stopWatch)
		<-done
	}
}

func (lm *LockManager) canGrantLocked(txID, recordID uint64, write bool) bool {
	holders := lm.holders[recordID]
	for _, h := range holders {
		if h.txID == txID {
			continue
		}
		if write || h.write {
			return false
		}
	}
	return true
}

func (lm *LockManager) blockedOnLocked(txID, recordID uint64, write bool) map[uint64]bool {
	out := make(map[uint64]bool)
	for _, h := range lm.holders[recordID] {
		if h.txID == txID {
			continue
		}
		if write || h.write {
			out[h.txID] = true
		}
	}
	return out
}

// detectDeadlockLocked runs a DFS from txID over the wait-for graph.
// If a cycle is found, the youngest transaction in the cycle (latest
// startedAt) is returned as the victim.
func (lm *LockManager) detectDeadlockLocked(txID uint64) (victim uint64, found bool) {
	visited := make(map[uint64]bool)
	var stack []uint64

	var dfs func(node uint64) bool
	dfs = func(node uint64) bool {
		visited[node] = true
		stack = append(stack, node)
		for next := range lm.waitFor[node] {
			if next == txID && len(stack) > 0 {
				found = true
				victim = youngestInLocked(append(stack, next), lm.startedAt)
				return true
			}
			if !visited[next] {
				if dfs(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		return false
	}

	dfs(txID)
	return victim, found
}

func youngestInLocked(cycle []uint64, startedAt map[uint64]time.Time) uint64 {
	youngest := cycle[0]
	youngestTime := startedAt[youngest]
	for _, id := range cycle[1:] {
		if t, ok := startedAt[id]; ok && t.After(youngestTime) {
			youngest = id
			youngestTime = t
		}
	}
	return youngest
}

// ReleaseAll releases every lock held by txID and wakes any goroutine
// blocked in Acquire to re-check whether it can now proceed.
func (lm *LockManager) ReleaseAll(txID uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for recordID, holders := range lm.holders {
		filtered := holders[:0]
		for _, h := range holders {
			if h.txID != txID {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) == 0 {
			delete(lm.holders, recordID)
		} else {
			lm.holders[recordID] = filtered
		}
	}
	delete(lm.waitFor, txID)
	delete(lm.startedAt, txID)
	lm.cond.Broadcast()
}

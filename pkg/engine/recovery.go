package engine

import (
	"fmt"

	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/events"
	"github.com/heartwoodb/heartwood/pkg/walog"
)

// recoverGraphLog scans every retained logical log segment (active and
// archived) forward and replays whatever the graph source's own
// checkpoint hasn't already applied. This covers both distilled spec
// §4.2's boot-time recovery ("replay COMMANDs in order if a COMMIT is
// present") and §7's crash-mid-apply case: a process that died after
// Writer.Done durably recorded a commit but before the checkpoint
// advanced resumes exactly where it left off, since ApplyCommitted is
// idempotent against anything at or below its own checkpoint.
//
// Built directly against walog.Scan/SegmentPaths rather than through
// the Source interface, the same way pkg/primaryrpc.PullUpdates is —
// GraphSource.Extract declines to serve this for the same reason.
func recoverGraphLog(log_ *walog.Writer, registry *datasource.Registry, eventBroker *events.Broker) (int, error) {
	src, ok := registry.Get(datasource.GraphSourceName)
	if !ok {
		return 0, nil
	}

	paths, err := walog.SegmentPaths(log_.Dir())
	if err != nil {
		return 0, fmt.Errorf("engine: list log segments: %w", err)
	}
	txs, err := walog.Scan(paths)
	if err != nil {
		return 0, fmt.Errorf("engine: scan log: %w", err)
	}

	since := src.LastCommittedTxID()
	replayed := 0
	for _, tx := range txs {
		if tx.Commit.GlobalTxID <= since {
			continue
		}
		cmds := make([]datasource.Command, len(tx.Commands))
		for i, c := range tx.Commands {
			cmds[i] = datasource.Command(c)
		}
		if err := src.ApplyCommitted(tx.Commit.GlobalTxID, cmds); err != nil {
			return replayed, fmt.Errorf("engine: replay tx %d: %w", tx.Commit.GlobalTxID, err)
		}
		replayed++
	}

	if eventBroker != nil {
		eventBroker.Publish(&events.Event{
			Type:    events.EventRecoveryCompleted,
			Message: fmt.Sprintf("replayed %d transaction(s) from logical log", replayed),
		})
	}
	return replayed, nil
}

package txn

import "github.com/heartwoodb/heartwood/pkg/datasource"

// BufferedCommands returns a copy of tx's buffered command stream for
// each enlisted source, keyed by source name (a map, so it carries no
// order; Coordinator.Commit decides the order), the shape
// pkg/walog.Writer.Append and pkg/primaryrpc's Commit handler need to
// log and apply.
func (t *Tx) BufferedCommands() map[string][]datasource.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]datasource.Command, len(t.commands))
	for name, cmds := range t.commands {
		cp := make([]datasource.Command, len(cmds))
		copy(cp, cmds)
		out[name] = cp
	}
	return out
}

// EnlistedSourceNames returns the names of every source tx has
// enlisted, with the graph store first; the order of the other names
// is not defined.
func (t *Tx) EnlistedSourceNames() []string {
	t.mu.Lock()
	sources := orderedSources(t)
	t.mu.Unlock()
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	return names
}

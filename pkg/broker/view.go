package broker

import (
	"fmt"

	"github.com/heartwoodb/heartwood/pkg/metrics"
)

// View is the coordination group's agreed state as of the moment
// CurrentView was called: the epoch, the current primary, and the
// full member set with addresses.
type View struct {
	Epoch     uint64
	PrimaryID string
	StoreID   string
	Members   []string
	Addresses map[string]string
}

// CurrentView reads {Epoch, PrimaryID, Members, Addresses} from the
// FSM's in-memory state plus raft.GetConfiguration().
func (b *Broker) CurrentView() (View, error) {
	if b.raft == nil {
		return View{}, fmt.Errorf("broker: raft not started")
	}

	epoch, storeID := b.fsm.snapshotState()

	future := b.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return View{}, fmt.Errorf("broker: get configuration: %w", err)
	}
	config := future.Configuration()

	members := make([]string, 0, len(config.Servers))
	addresses := make(map[string]string, len(config.Servers))
	for _, srv := range config.Servers {
		members = append(members, string(srv.ID))
		addresses[string(srv.ID)] = string(srv.Address)
	}

	metrics.MembersTotal.Set(float64(len(members)))
	metrics.ClusterEpoch.Set(float64(epoch))

	_, leaderID := b.raft.LeaderWithID()

	return View{
		Epoch:     epoch,
		PrimaryID: string(leaderID),
		StoreID:   storeID,
		Members:   members,
		Addresses: addresses,
	}, nil
}

// ViewChanges returns a channel that receives a fresh View every time
// raft reports a leadership change, the channel pkg/lifecycle
// subscribes to instead of polling (mirroring the teacher's
// raft.LeaderCh() idiom at one more layer of abstraction).
func (b *Broker) ViewChanges() <-chan View {
	out := make(chan View, 1)
	go func() {
		for range b.raft.LeaderCh() {
			view, err := b.CurrentView()
			if err != nil {
				continue
			}
			select {
			case out <- view:
			default:
				// Drop if the consumer is behind; it will pick up the
				// latest view on its next CurrentView call anyway.
			}
		}
		close(out)
	}()
	return out
}

// BrokerStats satisfies pkg/metrics.StatsSource, letting
// pkg/metrics.Collector poll the broker directly instead of the
// teacher's *manager.Manager coupling.
func (b *Broker) BrokerStats() metrics.BrokerStats {
	view, err := b.CurrentView()
	if err != nil {
		return metrics.BrokerStats{}
	}
	return metrics.BrokerStats{
		IsPrimary:   b.IAmPrimary(),
		Epoch:       view.Epoch,
		MemberCount: len(view.Members),
	}
}

package metrics

import (
	"time"
)

// BrokerStats is the subset of replication broker state the collector polls.
// pkg/broker implements this; kept narrow so metrics stays free of an
// import cycle on the broker package.
type BrokerStats struct {
	IsPrimary   bool
	Epoch       uint64
	MemberCount int
}

// StatsSource is polled on each collection tick. Implemented by
// *broker.Broker in production; fakeable in tests.
type StatsSource interface {
	BrokerStats() BrokerStats
}

// Collector periodically samples broker and engine state into gauges.
// Counters and histograms (commits, aborts, lock waits, log appends) are
// updated inline by the components that observe them and are not polled
// here.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source == nil {
		return
	}
	stats := c.source.BrokerStats()

	if stats.IsPrimary {
		IsPrimary.Set(1)
	} else {
		IsPrimary.Set(0)
	}
	ClusterEpoch.Set(float64(stats.Epoch))
	MembersTotal.Set(float64(stats.MemberCount))
}

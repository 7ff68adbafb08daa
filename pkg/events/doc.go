// Package events provides an in-memory, non-blocking pub/sub broker used to
// fan out lifecycle and replication notifications (primary elections, role
// transitions, branch quarantines, commits, deadlocks, log rotations) to
// interested observers — metrics collectors, CLI watchers, tests — without
// coupling the Lifecycle Supervisor or the Transaction Coordinator to any
// particular consumer. Publish never blocks on a slow subscriber: a full
// subscriber buffer drops the event rather than stalling the publisher.
package events

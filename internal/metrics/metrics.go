// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
type Recorder interface {
	// Gate metrics
	IncGateAllowed()
	IncGateRejected(reason string) // reason: "missing_credential", "invalid_key", "insufficient_credits", "storage_error"
	ObserveChargeDuration(duration time.Duration)

	// Item management metrics
	IncItemCreated()
	IncItemUpdated()
	IncItemDeleted()

	// Recharge metrics
	IncRechargeAttempt(status string) // status: "granted", "already_recharged", "not_found", "error"

	// Usage pipeline metrics
	IncUsageEventPublished(status string) // status: "success" or "dropped"
	IncUsageEventProcessed(status string) // status: "success", "failed", "skipped"
	ObserveUsageBatchSize(size int)
	SetUsageQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}

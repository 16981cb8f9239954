package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncGateAllowed is a no-op.
func (n *NoopRecorder) IncGateAllowed() {}

// IncGateRejected is a no-op.
func (n *NoopRecorder) IncGateRejected(reason string) {}

// ObserveChargeDuration is a no-op.
func (n *NoopRecorder) ObserveChargeDuration(duration time.Duration) {}

// IncItemCreated is a no-op.
func (n *NoopRecorder) IncItemCreated() {}

// IncItemUpdated is a no-op.
func (n *NoopRecorder) IncItemUpdated() {}

// IncItemDeleted is a no-op.
func (n *NoopRecorder) IncItemDeleted() {}

// IncRechargeAttempt is a no-op.
func (n *NoopRecorder) IncRechargeAttempt(status string) {}

// IncUsageEventPublished is a no-op.
func (n *NoopRecorder) IncUsageEventPublished(status string) {}

// IncUsageEventProcessed is a no-op.
func (n *NoopRecorder) IncUsageEventProcessed(status string) {}

// ObserveUsageBatchSize is a no-op.
func (n *NoopRecorder) ObserveUsageBatchSize(size int) {}

// SetUsageQueueDepth is a no-op.
func (n *NoopRecorder) SetUsageQueueDepth(depth int64) {}

package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	GateAllowed          uint64
	GateRejected         map[string]uint64
	ChargeDurationCount  uint64
	ChargeDurationTotal  int64 // nanoseconds
	ItemsCreated         uint64
	ItemsUpdated         uint64
	ItemsDeleted         uint64
	RechargeAttempts     map[string]uint64
	UsageEventsPublished map[string]uint64
	UsageEventsProcessed map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	gateAllowed         uint64
	chargeDurationCount uint64
	chargeDurationTotal int64
	itemsCreated        uint64
	itemsUpdated        uint64
	itemsDeleted        uint64

	mu                   sync.Mutex
	gateRejected         map[string]uint64
	rechargeAttempts     map[string]uint64
	usageEventsPublished map[string]uint64
	usageEventsProcessed map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		gateRejected:         make(map[string]uint64),
		rechargeAttempts:     make(map[string]uint64),
		usageEventsPublished: make(map[string]uint64),
		usageEventsProcessed: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		GateAllowed:          atomic.LoadUint64(&m.gateAllowed),
		GateRejected:         copyCounts(m.gateRejected),
		ChargeDurationCount:  atomic.LoadUint64(&m.chargeDurationCount),
		ChargeDurationTotal:  atomic.LoadInt64(&m.chargeDurationTotal),
		ItemsCreated:         atomic.LoadUint64(&m.itemsCreated),
		ItemsUpdated:         atomic.LoadUint64(&m.itemsUpdated),
		ItemsDeleted:         atomic.LoadUint64(&m.itemsDeleted),
		RechargeAttempts:     copyCounts(m.rechargeAttempts),
		UsageEventsPublished: copyCounts(m.usageEventsPublished),
		UsageEventsProcessed: copyCounts(m.usageEventsProcessed),
	}
}

// IncGateAllowed increments the admitted request counter.
func (m *InMemoryRecorder) IncGateAllowed() {
	atomic.AddUint64(&m.gateAllowed, 1)
}

// IncGateRejected increments the rejection counter for a reason.
func (m *InMemoryRecorder) IncGateRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateRejected[reason]++
}

// ObserveChargeDuration records a charge round-trip duration.
func (m *InMemoryRecorder) ObserveChargeDuration(duration time.Duration) {
	atomic.AddUint64(&m.chargeDurationCount, 1)
	atomic.AddInt64(&m.chargeDurationTotal, duration.Nanoseconds())
}

// IncItemCreated increments the item created counter.
func (m *InMemoryRecorder) IncItemCreated() {
	atomic.AddUint64(&m.itemsCreated, 1)
}

// IncItemUpdated increments the item updated counter.
func (m *InMemoryRecorder) IncItemUpdated() {
	atomic.AddUint64(&m.itemsUpdated, 1)
}

// IncItemDeleted increments the item deleted counter.
func (m *InMemoryRecorder) IncItemDeleted() {
	atomic.AddUint64(&m.itemsDeleted, 1)
}

// IncRechargeAttempt increments the recharge attempt counter for a status.
func (m *InMemoryRecorder) IncRechargeAttempt(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rechargeAttempts[status]++
}

// IncUsageEventPublished increments the usage publish counter for a status.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageEventsPublished[status]++
}

// IncUsageEventProcessed increments the usage processed counter for a status.
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageEventsProcessed[status]++
}

// ObserveUsageBatchSize is recorded only by the Prometheus implementation.
func (m *InMemoryRecorder) ObserveUsageBatchSize(size int) {}

// SetUsageQueueDepth is recorded only by the Prometheus implementation.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) {}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

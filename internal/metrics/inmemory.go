package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ReminderRuns          uint64
	ReminderRunTotalNs    int64
	ReminderEligibleTotal uint64
	RemindersSent         uint64
	RemindersFailed       uint64
	ExperimentsCreated    uint64
	CheckInsRecorded      uint64
	ReviewCacheHits       uint64
	ReviewCacheMisses     uint64
	InvitesAccepted       uint64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	reminderRuns          uint64
	reminderRunTotalNs    int64
	reminderEligibleTotal uint64
	remindersSent         uint64
	remindersFailed       uint64
	experimentsCreated    uint64
	checkInsRecorded      uint64
	reviewCacheHits       uint64
	reviewCacheMisses     uint64
	invitesAccepted       uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		ReminderRuns:          atomic.LoadUint64(&m.reminderRuns),
		ReminderRunTotalNs:    atomic.LoadInt64(&m.reminderRunTotalNs),
		ReminderEligibleTotal: atomic.LoadUint64(&m.reminderEligibleTotal),
		RemindersSent:         atomic.LoadUint64(&m.remindersSent),
		RemindersFailed:       atomic.LoadUint64(&m.remindersFailed),
		ExperimentsCreated:    atomic.LoadUint64(&m.experimentsCreated),
		CheckInsRecorded:      atomic.LoadUint64(&m.checkInsRecorded),
		ReviewCacheHits:       atomic.LoadUint64(&m.reviewCacheHits),
		ReviewCacheMisses:     atomic.LoadUint64(&m.reviewCacheMisses),
		InvitesAccepted:       atomic.LoadUint64(&m.invitesAccepted),
	}
}

// ObserveReminderRun records one scheduler run.
func (m *InMemoryRecorder) ObserveReminderRun(duration time.Duration, eligible int) {
	atomic.AddUint64(&m.reminderRuns, 1)
	atomic.AddInt64(&m.reminderRunTotalNs, duration.Nanoseconds())
	if eligible > 0 {
		atomic.AddUint64(&m.reminderEligibleTotal, uint64(eligible))
	}
}

// IncReminderSent increments the sent reminder counter.
func (m *InMemoryRecorder) IncReminderSent() {
	atomic.AddUint64(&m.remindersSent, 1)
}

// IncReminderFailed increments the failed reminder counter.
func (m *InMemoryRecorder) IncReminderFailed() {
	atomic.AddUint64(&m.remindersFailed, 1)
}

// IncExperimentCreated increments the experiment created counter.
func (m *InMemoryRecorder) IncExperimentCreated() {
	atomic.AddUint64(&m.experimentsCreated, 1)
}

// IncCheckInRecorded increments the check-in counter.
func (m *InMemoryRecorder) IncCheckInRecorded() {
	atomic.AddUint64(&m.checkInsRecorded, 1)
}

// IncReviewCacheHit increments the review cache hit counter.
func (m *InMemoryRecorder) IncReviewCacheHit() {
	atomic.AddUint64(&m.reviewCacheHits, 1)
}

// IncReviewCacheMiss increments the review cache miss counter.
func (m *InMemoryRecorder) IncReviewCacheMiss() {
	atomic.AddUint64(&m.reviewCacheMisses, 1)
}

// IncInviteAccepted increments the accepted invite counter.
func (m *InMemoryRecorder) IncInviteAccepted() {
	atomic.AddUint64(&m.invitesAccepted, 1)
}

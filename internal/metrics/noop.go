package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// ObserveReminderRun is a no-op.
func (n *NoopRecorder) ObserveReminderRun(duration time.Duration, eligible int) {}

// IncReminderSent is a no-op.
func (n *NoopRecorder) IncReminderSent() {}

// IncReminderFailed is a no-op.
func (n *NoopRecorder) IncReminderFailed() {}

// IncExperimentCreated is a no-op.
func (n *NoopRecorder) IncExperimentCreated() {}

// IncCheckInRecorded is a no-op.
func (n *NoopRecorder) IncCheckInRecorded() {}

// IncReviewCacheHit is a no-op.
func (n *NoopRecorder) IncReviewCacheHit() {}

// IncReviewCacheMiss is a no-op.
func (n *NoopRecorder) IncReviewCacheMiss() {}

// IncInviteAccepted is a no-op.
func (n *NoopRecorder) IncInviteAccepted() {}

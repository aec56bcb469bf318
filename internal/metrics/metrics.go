// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Reminder scheduler metrics
	ObserveReminderRun(duration time.Duration, eligible int)
	IncReminderSent()
	IncReminderFailed()

	// Experiment metrics
	IncExperimentCreated()
	IncCheckInRecorded()

	// Review metrics
	IncReviewCacheHit()
	IncReviewCacheMiss()

	// Organisation metrics
	IncInviteAccepted()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}

package model

import "time"

// ExperimentReminder holds per-experiment reminder suppression state.
// PausedAt suppresses indefinitely, SnoozedUntil until the instant passes.
type ExperimentReminder struct {
	ExperimentID string     `json:"experiment_id"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsPaused returns true if reminders are paused.
func (r *ExperimentReminder) IsPaused() bool {
	return r != nil && r.PausedAt != nil
}

// IsSnoozed returns true if a snooze is still in effect at now.
func (r *ExperimentReminder) IsSnoozed(now time.Time) bool {
	return r != nil && r.SnoozedUntil != nil && r.SnoozedUntil.After(now)
}

// ReminderCandidate is an active experiment joined with the facts the
// reminder scheduler needs: latest check-in, owner address and suppression state.
type ReminderCandidate struct {
	ExperimentID string
	Title        string
	OwnerID      string
	OwnerEmail   string // empty when the owner has no address on file
	StartedAt    time.Time
	LastCheckIn  *time.Time
	PausedAt     *time.Time
	SnoozedUntil *time.Time
}

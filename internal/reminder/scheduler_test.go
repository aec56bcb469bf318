package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/selah/selah/internal/mail"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/model"
)

type stubStore struct {
	candidates []model.ReminderCandidate
	err        error
}

func (s *stubStore) ListReminderCandidates(ctx context.Context) ([]model.ReminderCandidate, error) {
	return s.candidates, s.err
}

type recordingSender struct {
	mu      sync.Mutex
	sent    []mail.Message
	failFor map[string]error
}

func (r *recordingSender) Send(ctx context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[msg.To]; err != nil {
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type stubLocker struct {
	held       bool
	err        error
	acquiredAt string
	released   bool
}

func (l *stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.acquiredAt = key
	return "tok", true, nil
}

func (l *stubLocker) Release(ctx context.Context, key, token string) error {
	l.released = true
	return nil
}

func ptr(t time.Time) *time.Time { return &t }

var now = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func newTestScheduler(store Store, sender mail.Sender, locker Locker, rec metrics.Recorder) *Scheduler {
	return NewScheduler(Config{
		Store:   store,
		Sender:  sender,
		Signer:  NewLinkSigner("secret", 0),
		Locker:  locker,
		BaseURL: "https://selah.test/",
		Metrics: rec,
		Now:     func() time.Time { return now },
	})
}

func TestNeedsReminder(t *testing.T) {
	todayStart := model.StartOfUTCDay(now)

	tests := []struct {
		name string
		c    model.ReminderCandidate
		want bool
	}{
		{"never checked in", model.ReminderCandidate{}, true},
		{"checked in yesterday", model.ReminderCandidate{LastCheckIn: ptr(todayStart.Add(-time.Nanosecond))}, true},
		{"checked in at today start", model.ReminderCandidate{LastCheckIn: ptr(todayStart)}, false},
		{"checked in later today", model.ReminderCandidate{LastCheckIn: ptr(now)}, false},
		{"paused", model.ReminderCandidate{PausedAt: ptr(now.Add(-48 * time.Hour))}, false},
		{"snoozed into future", model.ReminderCandidate{SnoozedUntil: ptr(now.Add(time.Hour))}, false},
		{"snooze expired", model.ReminderCandidate{SnoozedUntil: ptr(now.Add(-time.Hour))}, true},
		{"snooze ends exactly now", model.ReminderCandidate{SnoozedUntil: ptr(now)}, true},
		{"paused with expired snooze", model.ReminderCandidate{PausedAt: ptr(now), SnoozedUntil: ptr(now.Add(-time.Hour))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsReminder(tt.c, now); got != tt.want {
				t.Errorf("NeedsReminder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_Run(t *testing.T) {
	todayStart := model.StartOfUTCDay(now)
	store := &stubStore{candidates: []model.ReminderCandidate{
		{ExperimentID: "e1", Title: "Sleep", OwnerEmail: "a@example.com", StartedAt: now.Add(-72 * time.Hour)},
		{ExperimentID: "e2", Title: "Walk", OwnerEmail: "b@example.com", LastCheckIn: ptr(todayStart.Add(time.Hour))},
		{ExperimentID: "e3", Title: "Read", OwnerEmail: ""},
		{ExperimentID: "e4", Title: "Pray", OwnerEmail: "fail@example.com"},
		{ExperimentID: "e5", Title: "Fast", OwnerEmail: "c@example.com", PausedAt: ptr(now)},
	}}
	sender := &recordingSender{failFor: map[string]error{"fail@example.com": errors.New("provider down")}}
	rec := metrics.NewInMemory()

	summary, err := newTestScheduler(store, sender, nil, rec).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.TotalEligible != 3 {
		t.Errorf("TotalEligible = %d, want 3", summary.TotalEligible)
	}
	if summary.RemindersSent != 1 {
		t.Errorf("RemindersSent = %d, want 1", summary.RemindersSent)
	}
	if len(summary.Errors) != 2 {
		t.Fatalf("Errors = %v, want 2 entries", summary.Errors)
	}
	if !strings.Contains(summary.Errors[0], "e3") || !strings.Contains(summary.Errors[0], "missing owner email") {
		t.Errorf("Errors[0] = %q, want missing email for e3", summary.Errors[0])
	}
	if !strings.Contains(summary.Errors[1], "e4") || !strings.Contains(summary.Errors[1], "provider down") {
		t.Errorf("Errors[1] = %q, want delivery failure for e4", summary.Errors[1])
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "a@example.com" {
		t.Errorf("To = %q, want a@example.com", msg.To)
	}
	if !strings.Contains(msg.Body, "https://selah.test/experiments/e1/check-in") {
		t.Errorf("body missing check-in link: %s", msg.Body)
	}
	if !strings.Contains(msg.Body, "https://selah.test/reminders/pause?token=e1.") {
		t.Errorf("body missing pause link: %s", msg.Body)
	}

	snap := rec.Snapshot()
	if snap.RemindersSent != 1 || snap.RemindersFailed != 2 || snap.ReminderRuns != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestScheduler_RunIsIdempotentWithinDay(t *testing.T) {
	store := &stubStore{candidates: []model.ReminderCandidate{
		{ExperimentID: "e1", Title: "Sleep", OwnerEmail: "a@example.com"},
	}}
	sender := &recordingSender{}
	s := newTestScheduler(store, sender, nil, nil)

	first, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.RemindersSent != 1 {
		t.Fatalf("first RemindersSent = %d, want 1", first.RemindersSent)
	}

	// Owner checks in; the next run the same day skips them.
	store.candidates[0].LastCheckIn = ptr(now)
	second, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.TotalEligible != 0 || second.RemindersSent != 0 {
		t.Errorf("second run = %+v, want nothing eligible", second)
	}
}

func TestScheduler_RunEmpty(t *testing.T) {
	summary, err := newTestScheduler(&stubStore{}, &recordingSender{}, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Errors == nil {
		t.Error("Errors should be an empty slice, not nil")
	}
	if summary.TotalEligible != 0 || summary.RemindersSent != 0 {
		t.Errorf("summary = %+v, want zeros", summary)
	}
}

func TestScheduler_RunStoreError(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	if _, err := newTestScheduler(store, &recordingSender{}, nil, nil).Run(context.Background()); err == nil {
		t.Fatal("Run() expected error")
	}
}

func TestScheduler_RunLock(t *testing.T) {
	store := &stubStore{candidates: []model.ReminderCandidate{
		{ExperimentID: "e1", Title: "Sleep", OwnerEmail: "a@example.com"},
	}}

	t.Run("held", func(t *testing.T) {
		sender := &recordingSender{}
		_, err := newTestScheduler(store, sender, &stubLocker{held: true}, nil).Run(context.Background())
		if !errors.Is(err, ErrRunInProgress) {
			t.Fatalf("Run() error = %v, want ErrRunInProgress", err)
		}
		if len(sender.sent) != 0 {
			t.Error("no reminders should be sent while another run holds the lock")
		}
	})

	t.Run("acquired and released", func(t *testing.T) {
		locker := &stubLocker{}
		if _, err := newTestScheduler(store, &recordingSender{}, locker, nil).Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if locker.acquiredAt != "lock:reminders:2024-03-10" {
			t.Errorf("lock key = %q", locker.acquiredAt)
		}
		if !locker.released {
			t.Error("lock was not released")
		}
	})

	t.Run("locker error proceeds", func(t *testing.T) {
		sender := &recordingSender{}
		summary, err := newTestScheduler(store, sender, &stubLocker{err: errors.New("redis down")}, nil).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary.RemindersSent != 1 {
			t.Errorf("RemindersSent = %d, want 1", summary.RemindersSent)
		}
	})
}

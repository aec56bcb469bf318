// Package reminder sends daily check-in reminders for active experiments.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/selah/selah/internal/mail"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/model"
)

// ErrRunInProgress is returned when another scheduler run holds the lock.
var ErrRunInProgress = errors.New("reminder run already in progress")

const (
	// DefaultLockTTL bounds how long a crashed run can block the next one.
	DefaultLockTTL = 10 * time.Minute

	lockKeyPrefix = "lock:reminders:"
)

// Store loads the experiments that may need a reminder.
type Store interface {
	ListReminderCandidates(ctx context.Context) ([]model.ReminderCandidate, error)
}

// Locker provides a best-effort exclusive lock across scheduler runs.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Summary is the outcome of one scheduler run.
type Summary struct {
	RemindersSent int      `json:"remindersSent"`
	TotalEligible int      `json:"totalEligible"`
	Errors        []string `json:"errors"`
}

// Config holds scheduler dependencies.
type Config struct {
	Store   Store
	Sender  mail.Sender
	Signer  *LinkSigner
	Locker  Locker // optional
	BaseURL string
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Scheduler finds experiments without a check-in today and emails their owners.
type Scheduler struct {
	store   Store
	sender  mail.Sender
	signer  *LinkSigner
	locker  Locker
	baseURL string
	lockTTL time.Duration
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewScheduler creates a scheduler from cfg.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		store:   cfg.Store,
		sender:  cfg.Sender,
		signer:  cfg.Signer,
		locker:  cfg.Locker,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		lockTTL: cfg.LockTTL,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "reminder.scheduler")
	if s.metrics == nil {
		s.metrics = metrics.NewNoop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NeedsReminder reports whether a candidate qualifies for a reminder at now:
// not paused, not snoozed, and no check-in since the start of the UTC day.
func NeedsReminder(c model.ReminderCandidate, now time.Time) bool {
	if c.PausedAt != nil {
		return false
	}
	if c.SnoozedUntil != nil && c.SnoozedUntil.After(now) {
		return false
	}
	if c.LastCheckIn == nil {
		return true
	}
	return c.LastCheckIn.Before(model.StartOfUTCDay(now))
}

// Run performs one pass. Per-experiment failures are collected in the
// summary; only a lock conflict or a candidate query failure aborts the run.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	start := s.now()
	summary := &Summary{Errors: []string{}}

	if s.locker != nil {
		key := lockKeyPrefix + start.UTC().Format("2006-01-02")
		token, ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
		switch {
		case err != nil:
			s.logger.Warn("reminder lock unavailable, continuing", "error", err)
		case !ok:
			return nil, ErrRunInProgress
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.logger.Warn("failed to release reminder lock", "error", err)
				}
			}()
		}
	}

	candidates, err := s.store.ListReminderCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}

	for _, c := range candidates {
		if !NeedsReminder(c, start) {
			continue
		}
		summary.TotalEligible++

		if err := s.remind(ctx, c); err != nil {
			s.metrics.IncReminderFailed()
			summary.Errors = append(summary.Errors, fmt.Sprintf("experiment %s: %v", c.ExperimentID, err))
			s.logger.Warn("reminder failed",
				"experiment_id", c.ExperimentID,
				"owner_id", c.OwnerID,
				"error", err,
			)
			continue
		}
		s.metrics.IncReminderSent()
		summary.RemindersSent++
	}

	duration := s.now().Sub(start)
	s.metrics.ObserveReminderRun(duration, summary.TotalEligible)
	s.logger.Info("reminder run finished",
		"candidates", len(candidates),
		"eligible", summary.TotalEligible,
		"sent", summary.RemindersSent,
		"failed", len(summary.Errors),
		"duration_ms", duration.Milliseconds(),
	)

	return summary, nil
}

func (s *Scheduler) remind(ctx context.Context, c model.ReminderCandidate) error {
	if strings.TrimSpace(c.OwnerEmail) == "" {
		return errors.New("missing owner email")
	}
	msg := s.message(c)
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (s *Scheduler) message(c model.ReminderCandidate) mail.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You haven't checked in on %q today.\n\n", c.Title)
	fmt.Fprintf(&b, "Check in: %s/experiments/%s/check-in\n", s.baseURL, url.PathEscape(c.ExperimentID))
	if s.signer != nil {
		token := s.signer.Sign(c.ExperimentID, s.now())
		fmt.Fprintf(&b, "\nPause reminders for this experiment: %s/reminders/pause?token=%s\n",
			s.baseURL, url.QueryEscape(token))
	}
	return mail.Message{
		To:      c.OwnerEmail,
		Subject: fmt.Sprintf("Reminder: check in on %s", c.Title),
		Body:    b.String(),
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/selah/selah/internal/model"
)

// FindReminder returns reminder state for an experiment, or nil if none
// has been recorded.
func (r *Repository) FindReminder(ctx context.Context, experimentID string) (*model.ExperimentReminder, error) {
	var rem model.ExperimentReminder
	err := r.pool.QueryRow(ctx, `
		SELECT experiment_id, paused_at, snoozed_until, updated_at
		FROM experiment_reminders
		WHERE experiment_id = $1
	`, experimentID).Scan(&rem.ExperimentID, &rem.PausedAt, &rem.SnoozedUntil, &rem.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return &rem, nil
}

// SetReminderPaused sets or clears (nil) the paused timestamp.
func (r *Repository) SetReminderPaused(ctx context.Context, experimentID string, pausedAt *time.Time) (*model.ExperimentReminder, error) {
	return r.upsertReminder(ctx, `
		INSERT INTO experiment_reminders (experiment_id, paused_at, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (experiment_id) DO UPDATE
		SET paused_at = EXCLUDED.paused_at, updated_at = NOW()
		RETURNING experiment_id, paused_at, snoozed_until, updated_at
	`, experimentID, pausedAt)
}

// SetReminderSnooze sets or clears (nil) the snooze deadline.
func (r *Repository) SetReminderSnooze(ctx context.Context, experimentID string, until *time.Time) (*model.ExperimentReminder, error) {
	return r.upsertReminder(ctx, `
		INSERT INTO experiment_reminders (experiment_id, snoozed_until, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (experiment_id) DO UPDATE
		SET snoozed_until = EXCLUDED.snoozed_until, updated_at = NOW()
		RETURNING experiment_id, paused_at, snoozed_until, updated_at
	`, experimentID, until)
}

func (r *Repository) upsertReminder(ctx context.Context, query, experimentID string, at *time.Time) (*model.ExperimentReminder, error) {
	var rem model.ExperimentReminder
	err := r.pool.QueryRow(ctx, query, experimentID, at).Scan(&rem.ExperimentID, &rem.PausedAt, &rem.SnoozedUntil, &rem.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}
	return &rem, nil
}

// ListReminderCandidates returns every active, started experiment joined
// with its latest check-in, owner email and reminder state.
func (r *Repository) ListReminderCandidates(ctx context.Context) ([]model.ReminderCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.title, e.owner_id, u.email, e.started_at,
		       last.day, rem.paused_at, rem.snoozed_until
		FROM experiments e
		JOIN users u ON u.id = e.owner_id
		LEFT JOIN LATERAL (
			SELECT MAX(c.day)::timestamp AT TIME ZONE 'UTC' AS day
			FROM experiment_check_ins c
			WHERE c.experiment_id = e.id
		) last ON TRUE
		LEFT JOIN experiment_reminders rem ON rem.experiment_id = e.id
		WHERE e.status = 'active' AND e.started_at IS NOT NULL
		ORDER BY e.started_at, e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]model.ReminderCandidate, 0)
	for rows.Next() {
		var c model.ReminderCandidate
		err := rows.Scan(
			&c.ExperimentID,
			&c.Title,
			&c.OwnerID,
			&c.OwnerEmail,
			&c.StartedAt,
			&c.LastCheckIn,
			&c.PausedAt,
			&c.SnoozedUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder candidates: %w", err)
	}
	return candidates, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/selah/selah/internal/model"
)

// UpsertCheckIn records the check-in for its UTC day. A second check-in on
// the same day replaces the note and every response. Returns the stored
// row and whether it was newly created.
func (r *Repository) UpsertCheckIn(ctx context.Context, c *model.ExperimentCheckIn) (*model.ExperimentCheckIn, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	day := model.StartOfUTCDay(c.Date)
	stored := *c
	stored.Date = day

	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO experiment_check_ins (id, experiment_id, day, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (experiment_id, day) DO UPDATE
		SET note = EXCLUDED.note, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0)
	`, c.ID, c.ExperimentID, day, c.Note, c.CreatedAt, c.UpdatedAt).Scan(&stored.ID, &stored.CreatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert check-in: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM experiment_field_responses WHERE check_in_id = $1`, stored.ID); err != nil {
		return nil, false, fmt.Errorf("failed to clear responses: %w", err)
	}

	if len(c.Responses) > 0 {
		batch := &pgx.Batch{}
		for _, resp := range c.Responses {
			batch.Queue(`
				INSERT INTO experiment_field_responses (check_in_id, field_id, value)
				VALUES ($1, $2, $3)
			`, stored.ID, resp.FieldID, []byte(resp.Value))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, false, fmt.Errorf("failed to insert responses: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit check-in: %w", err)
	}
	return &stored, inserted, nil
}

// ListCheckIns returns check-ins with their responses, oldest first. A
// positive limit keeps only the most recent limit days.
func (r *Repository) ListCheckIns(ctx context.Context, experimentID string, limit int) ([]model.ExperimentCheckIn, error) {
	query := `
		SELECT id, experiment_id, day, note, created_at, updated_at
		FROM experiment_check_ins
		WHERE experiment_id = $1
		ORDER BY day DESC
	`
	args := []any{experimentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var newestFirst []model.ExperimentCheckIn
	for rows.Next() {
		var c model.ExperimentCheckIn
		if err := rows.Scan(&c.ID, &c.ExperimentID, &c.Date, &c.Note, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		c.Date = model.StartOfUTCDay(c.Date)
		c.Responses = []model.ExperimentFieldResponse{}
		newestFirst = append(newestFirst, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-ins: %w", err)
	}

	checkIns := make([]model.ExperimentCheckIn, len(newestFirst))
	index := make(map[string]int, len(newestFirst))
	ids := make([]string, len(newestFirst))
	for i := range newestFirst {
		j := len(newestFirst) - 1 - i
		checkIns[j] = newestFirst[i]
		index[newestFirst[i].ID] = j
		ids[j] = newestFirst[i].ID
	}
	if len(ids) == 0 {
		return checkIns, nil
	}

	respRows, err := r.pool.Query(ctx, `
		SELECT r.check_in_id, r.field_id, r.value
		FROM experiment_field_responses r
		JOIN experiment_fields f ON f.id = r.field_id
		WHERE r.check_in_id = ANY($1)
		ORDER BY f.position, f.id
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer respRows.Close()

	for respRows.Next() {
		var checkInID string
		var resp model.ExperimentFieldResponse
		var value []byte
		if err := respRows.Scan(&checkInID, &resp.FieldID, &value); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		resp.Value = value
		i, ok := index[checkInID]
		if !ok {
			continue
		}
		checkIns[i].Responses = append(checkIns[i].Responses, resp)
	}
	if err := respRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating responses: %w", err)
	}

	return checkIns, nil
}

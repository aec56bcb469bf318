package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/selah/selah/internal/model"
)

// Common errors for experiment repository operations.
var (
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrStatusConflict is returned when a status transition loses a race
	// with another writer.
	ErrStatusConflict = errors.New("experiment status changed concurrently")
)

const experimentColumns = `id, owner_id, title, hypothesis, duration_days, frequency, status, started_at, completed_at, created_at, updated_at`

// CreateExperiment inserts a new experiment.
func (r *Repository) CreateExperiment(ctx context.Context, exp *model.Experiment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		exp.ID,
		exp.OwnerID,
		exp.Title,
		exp.Hypothesis,
		exp.DurationDays,
		exp.Frequency,
		exp.Status,
		exp.StartedAt,
		exp.CompletedAt,
		exp.CreatedAt,
		exp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

// FindExperiment returns the experiment or nil if none exists.
func (r *Repository) FindExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	exp, err := scanExperiment(r.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

// ListExperimentsByOwner returns the owner's experiments newest first,
// optionally filtered by status.
func (r *Repository) ListExperimentsByOwner(ctx context.Context, ownerID string, status model.ExperimentStatus) ([]*model.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	experiments := make([]*model.Experiment, 0)
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiments: %w", err)
	}
	return experiments, nil
}

// UpdateExperiment writes the mutable metadata fields.
func (r *Repository) UpdateExperiment(ctx context.Context, exp *model.Experiment) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE experiments
		SET title = $2, hypothesis = $3, duration_days = $4, frequency = $5, updated_at = $6
		WHERE id = $1
	`, exp.ID, exp.Title, exp.Hypothesis, exp.DurationDays, exp.Frequency, exp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrExperimentNotFound
	}
	return nil
}

// TransitionExperiment moves an experiment from one status to the next,
// stamping started_at or completed_at. The update only applies if the
// stored status still equals from.
func (r *Repository) TransitionExperiment(ctx context.Context, id string, from, to model.ExperimentStatus, at time.Time) (*model.Experiment, error) {
	exp, err := scanExperiment(r.pool.QueryRow(ctx, `
		UPDATE experiments
		SET status = $3,
		    started_at = CASE WHEN $3 = 'active' THEN $4 ELSE started_at END,
		    completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+experimentColumns,
		id, from, to, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("failed to transition experiment: %w", err)
	}
	return exp, nil
}

// DeleteExperiment removes an experiment and, by cascade, its fields,
// check-ins and reminder state.
func (r *Repository) DeleteExperiment(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM experiments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrExperimentNotFound
	}
	return nil
}

// ListFields returns an experiment's fields ordered by position.
func (r *Repository) ListFields(ctx context.Context, experimentID string) ([]model.ExperimentField, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, label, type, required, position, config
		FROM experiment_fields
		WHERE experiment_id = $1
		ORDER BY position, id
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	fields := make([]model.ExperimentField, 0)
	for rows.Next() {
		var f model.ExperimentField
		var config []byte
		if err := rows.Scan(&f.ID, &f.ExperimentID, &f.Label, &f.Type, &f.Required, &f.Position, &config); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		if err := json.Unmarshal(config, &f.Config); err != nil {
			return nil, fmt.Errorf("failed to decode field config: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fields: %w", err)
	}
	return fields, nil
}

// ReplaceFields swaps an experiment's field list in one transaction.
func (r *Repository) ReplaceFields(ctx context.Context, experimentID string, fields []model.ExperimentField) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM experiment_fields WHERE experiment_id = $1`, experimentID); err != nil {
		return fmt.Errorf("failed to clear fields: %w", err)
	}

	batch := &pgx.Batch{}
	for _, f := range fields {
		config, err := json.Marshal(f.Config)
		if err != nil {
			return fmt.Errorf("failed to encode field config: %w", err)
		}
		batch.Queue(`
			INSERT INTO experiment_fields (id, experiment_id, label, type, required, position, config)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, f.ID, experimentID, f.Label, f.Type, f.Required, f.Position, config)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert fields: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE experiments SET updated_at = NOW() WHERE id = $1`, experimentID); err != nil {
		return fmt.Errorf("failed to touch experiment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit fields: %w", err)
	}
	return nil
}

func scanExperiment(row pgx.Row) (*model.Experiment, error) {
	var exp model.Experiment
	err := row.Scan(
		&exp.ID,
		&exp.OwnerID,
		&exp.Title,
		&exp.Hypothesis,
		&exp.DurationDays,
		&exp.Frequency,
		&exp.Status,
		&exp.StartedAt,
		&exp.CompletedAt,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

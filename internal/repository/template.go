package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/selah/selah/internal/model"
)

const templateColumns = `id, organisation_id, title, hypothesis, duration_days, frequency, fields, created_by, created_at`

// CreateTemplate stores an organisation experiment template. Field
// definitions are kept as a JSONB document.
func (r *Repository) CreateTemplate(ctx context.Context, tpl *model.ExperimentTemplate) error {
	fields, err := json.Marshal(tpl.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode template fields: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO experiment_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		tpl.ID,
		tpl.OrganisationID,
		tpl.Title,
		tpl.Hypothesis,
		tpl.DurationDays,
		tpl.Frequency,
		fields,
		tpl.CreatedBy,
		tpl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// ListTemplates returns an organisation's templates newest first.
func (r *Repository) ListTemplates(ctx context.Context, orgID string) ([]*model.ExperimentTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM experiment_templates
		WHERE organisation_id = $1
		ORDER BY created_at DESC, id DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*model.ExperimentTemplate, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// FindTemplate returns a template belonging to orgID, or nil.
func (r *Repository) FindTemplate(ctx context.Context, orgID, id string) (*model.ExperimentTemplate, error) {
	tpl, err := scanTemplate(r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM experiment_templates
		WHERE organisation_id = $1 AND id = $2
	`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

func scanTemplate(row pgx.Row) (*model.ExperimentTemplate, error) {
	var tpl model.ExperimentTemplate
	var fields []byte
	err := row.Scan(
		&tpl.ID,
		&tpl.OrganisationID,
		&tpl.Title,
		&tpl.Hypothesis,
		&tpl.DurationDays,
		&tpl.Frequency,
		&fields,
		&tpl.CreatedBy,
		&tpl.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &tpl.Fields); err != nil {
		return nil, fmt.Errorf("decode template fields: %w", err)
	}
	if tpl.Fields == nil {
		tpl.Fields = []model.ExperimentField{}
	}
	return &tpl, nil
}

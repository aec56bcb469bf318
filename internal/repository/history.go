package repository

import (
	"context"

	"github.com/selah/selah/internal/review"
)

// LoadReviewHistory loads an experiment with its fields and full check-in
// history. The experiment is nil when it does not exist.
func (r *Repository) LoadReviewHistory(ctx context.Context, experimentID string) (*review.History, error) {
	exp, err := r.FindExperiment(ctx, experimentID)
	if err != nil || exp == nil {
		return nil, err
	}

	fields, err := r.ListFields(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	checkIns, err := r.ListCheckIns(ctx, experimentID, 0)
	if err != nil {
		return nil, err
	}

	return &review.History{Experiment: exp, Fields: fields, CheckIns: checkIns}, nil
}

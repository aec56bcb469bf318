package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/selah/selah/internal/cache"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/review"
)

// HistoryStore loads the inputs of a review.
// LoadReviewHistory returns nil, nil when the experiment does not exist.
type HistoryStore interface {
	LoadReviewHistory(ctx context.Context, experimentID string) (*review.History, error)
}

// ReviewCache stores encoded review payloads by kind.
// Get returns cache.ErrCacheMiss when nothing is stored.
type ReviewCache interface {
	Get(ctx context.Context, experimentID, kind string) ([]byte, error)
	Set(ctx context.Context, experimentID, kind string, payload []byte) error
	Invalidate(ctx context.Context, experimentID string) error
}

// ReviewService computes validated review payloads for experiment owners.
type ReviewService struct {
	history HistoryStore
	access  OwnerChecker
	cache   ReviewCache
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewReviewService creates a new ReviewService. reviewCache may be nil.
func NewReviewService(history HistoryStore, checker OwnerChecker, reviewCache ReviewCache, recorder metrics.Recorder, logger *slog.Logger) *ReviewService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{
		history: history,
		access:  checker,
		cache:   reviewCache,
		metrics: recorder,
		logger:  logger.With("component", "review"),
	}
}

// Summary returns the summary-by-field payload.
func (s *ReviewService) Summary(ctx context.Context, user *model.User, id string) (json.RawMessage, error) {
	return s.payload(ctx, user, id, cache.ReviewSummary, func(h review.History) (any, error) {
		r, err := review.BuildSummaryReport(h)
		if err != nil {
			return nil, err
		}
		return r, review.ValidateSummaryReport(r)
	})
}

// Trends returns the trend-by-field payload.
func (s *ReviewService) Trends(ctx context.Context, user *model.User, id string) (json.RawMessage, error) {
	return s.payload(ctx, user, id, cache.ReviewTrends, func(h review.History) (any, error) {
		r, err := review.BuildTrendReport(h)
		if err != nil {
			return nil, err
		}
		return r, review.ValidateTrendReport(r)
	})
}

// Result returns the combined review payload.
func (s *ReviewService) Result(ctx context.Context, user *model.User, id string) (json.RawMessage, error) {
	return s.payload(ctx, user, id, cache.ReviewResult, func(h review.History) (any, error) {
		r, err := review.BuildResult(h)
		if err != nil {
			return nil, err
		}
		return r, review.ValidateResult(r)
	})
}

// payload checks ownership before consulting the cache so a cached entry
// is never served to another user.
func (s *ReviewService) payload(ctx context.Context, user *model.User, id, kind string, build func(review.History) (any, error)) (json.RawMessage, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.cached(ctx, exp.ID, kind); ok {
		return cached, nil
	}

	h, err := s.history.LoadReviewHistory(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load review history: %w", err)
	}
	if h == nil {
		return nil, ErrNotFound
	}

	report, err := build(*h)
	if err != nil {
		if errors.Is(err, review.ErrInvalidPayload) {
			s.logger.Error("review payload rejected",
				"experiment_id", exp.ID,
				"kind", kind,
				"error", err,
			)
		}
		return nil, fmt.Errorf("failed to build %s review: %w", kind, err)
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s review: %w", kind, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, exp.ID, kind, encoded); err != nil {
			s.logger.Warn("review cache write failed", "experiment_id", exp.ID, "error", err)
		}
	}
	return encoded, nil
}

func (s *ReviewService) cached(ctx context.Context, experimentID, kind string) (json.RawMessage, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, experimentID, kind)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("review cache read failed", "experiment_id", experimentID, "error", err)
		}
		s.metrics.IncReviewCacheMiss()
		return nil, false
	}
	s.metrics.IncReviewCacheHit()
	return data, true
}

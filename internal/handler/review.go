package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/selah/selah/internal/model"
)

// Reviews produces validated review payloads. *service.ReviewService implements it.
type Reviews interface {
	Summary(ctx context.Context, user *model.User, id string) (json.RawMessage, error)
	Trends(ctx context.Context, user *model.User, id string) (json.RawMessage, error)
	Result(ctx context.Context, user *model.User, id string) (json.RawMessage, error)
}

// ReviewHandler serves read-only experiment reviews.
type ReviewHandler struct {
	svc  Reviews
	errs errorMapper
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(svc Reviews, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, errs: errorMapper{logger: logger}}
}

// Summary handles GET /api/v1/experiments/{id}/review/summary.
func (h *ReviewHandler) Summary(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.svc.Summary)
}

// Trends handles GET /api/v1/experiments/{id}/review/trends.
func (h *ReviewHandler) Trends(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.svc.Trends)
}

// Result handles GET /api/v1/experiments/{id}/review.
func (h *ReviewHandler) Result(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.svc.Result)
}

func (h *ReviewHandler) serve(w http.ResponseWriter, r *http.Request, fn func(context.Context, *model.User, string) (json.RawMessage, error)) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	payload, err := fn(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	writeRawJSON(w, http.StatusOK, payload)
}

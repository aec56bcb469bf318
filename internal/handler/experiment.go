package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/selah/selah/internal/handler/dto"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/service"
)

// Experiments is the experiment use case surface. *service.ExperimentService implements it.
type Experiments interface {
	Create(ctx context.Context, user *model.User, input service.ExperimentInput) (*model.Experiment, error)
	Get(ctx context.Context, user *model.User, id string) (*service.ExperimentDetail, error)
	List(ctx context.Context, user *model.User, status model.ExperimentStatus) ([]*model.Experiment, error)
	Update(ctx context.Context, user *model.User, id string, upd service.ExperimentUpdate) (*model.Experiment, error)
	Start(ctx context.Context, user *model.User, id string) (*model.Experiment, error)
	Complete(ctx context.Context, user *model.User, id string) (*model.Experiment, error)
	Delete(ctx context.Context, user *model.User, id string) error
	ReplaceFields(ctx context.Context, user *model.User, id string, inputs []service.FieldInput) ([]model.ExperimentField, error)
	RecordCheckIn(ctx context.Context, user *model.User, id string, input service.CheckInInput) (*service.CheckInResult, error)
	ListCheckIns(ctx context.Context, user *model.User, id string, limit int) ([]model.ExperimentCheckIn, error)
	PauseReminders(ctx context.Context, user *model.User, id string) (*model.ExperimentReminder, error)
	ResumeReminders(ctx context.Context, user *model.User, id string) (*model.ExperimentReminder, error)
	SnoozeReminders(ctx context.Context, user *model.User, id string, until time.Time) (*model.ExperimentReminder, error)
}

// ExperimentHandler handles HTTP requests for experiments, their fields,
// check-ins and reminder settings.
type ExperimentHandler struct {
	svc    Experiments
	logger *slog.Logger
	errs   errorMapper
	now    func() time.Time
}

// NewExperimentHandler creates a new ExperimentHandler.
func NewExperimentHandler(svc Experiments, logger *slog.Logger) *ExperimentHandler {
	return &ExperimentHandler{
		svc:    svc,
		logger: logger,
		errs:   errorMapper{logger: logger},
		now:    time.Now,
	}
}

// List handles GET /api/v1/experiments?status=active.
func (h *ExperimentHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	status := model.ExperimentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be draft, active or completed")
		return
	}

	experiments, err := h.svc.List(r.Context(), user, status)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if experiments == nil {
		experiments = []*model.Experiment{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: experiments})
}

// Create handles POST /api/v1/experiments.
func (h *ExperimentHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CreateExperimentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	exp, err := h.svc.Create(r.Context(), user, experimentInput(req))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("experiment_created",
		"experiment_id", exp.ID,
		"owner_id", user.ID,
	)
	writeJSON(w, http.StatusCreated, exp)
}

// Get handles GET /api/v1/experiments/{id}.
func (h *ExperimentHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.Get(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailResponse(detail))
}

// Update handles PATCH /api/v1/experiments/{id}.
func (h *ExperimentHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.UpdateExperimentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	exp, err := h.svc.Update(r.Context(), user, chi.URLParam(r, "id"), service.ExperimentUpdate{
		Title:        req.Title,
		Hypothesis:   req.Hypothesis,
		DurationDays: req.DurationDays,
		Frequency:    req.Frequency,
	})
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Delete handles DELETE /api/v1/experiments/{id}.
func (h *ExperimentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), user, id); err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("experiment_deleted", "experiment_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Start handles POST /api/v1/experiments/{id}/start.
func (h *ExperimentHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

// Complete handles POST /api/v1/experiments/{id}/complete.
func (h *ExperimentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *ExperimentHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, *model.User, string) (*model.Experiment, error)) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	exp, err := fn(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("experiment_status_changed",
		"experiment_id", exp.ID,
		"status", exp.Status,
	)
	writeJSON(w, http.StatusOK, exp)
}

// ReplaceFields handles PUT /api/v1/experiments/{id}/fields.
func (h *ExperimentHandler) ReplaceFields(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.ReplaceFieldsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields, err := h.svc.ReplaceFields(r.Context(), user, chi.URLParam(r, "id"), fieldInputs(req.Fields))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if fields == nil {
		fields = []model.ExperimentField{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: fields})
}

// RecordCheckIn handles POST /api/v1/experiments/{id}/check-ins.
// Returns 201 for a new day and 200 when the day's check-in was replaced.
func (h *ExperimentHandler) RecordCheckIn(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CheckInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD or RFC 3339")
		return
	}

	result, err := h.svc.RecordCheckIn(r.Context(), user, chi.URLParam(r, "id"), service.CheckInInput{
		Date:      date,
		Note:      req.Note,
		Responses: req.Responses,
	})
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dto.CheckInResponse{CheckIn: result.CheckIn, Created: result.Created})
}

// ListCheckIns handles GET /api/v1/experiments/{id}/check-ins?limit=N.
func (h *ExperimentHandler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	checkIns, err := h.svc.ListCheckIns(r.Context(), user, chi.URLParam(r, "id"), limit)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if checkIns == nil {
		checkIns = []model.ExperimentCheckIn{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: checkIns})
}

// PauseReminders handles POST /api/v1/experiments/{id}/reminder/pause.
func (h *ExperimentHandler) PauseReminders(w http.ResponseWriter, r *http.Request) {
	h.reminder(w, r, h.svc.PauseReminders)
}

// ResumeReminders handles POST /api/v1/experiments/{id}/reminder/resume.
func (h *ExperimentHandler) ResumeReminders(w http.ResponseWriter, r *http.Request) {
	h.reminder(w, r, h.svc.ResumeReminders)
}

// SnoozeReminders handles POST /api/v1/experiments/{id}/reminder/snooze.
// The body carries either an absolute "until" or a number of "hours".
func (h *ExperimentHandler) SnoozeReminders(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.SnoozeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var until time.Time
	switch {
	case req.Until != nil:
		until = *req.Until
	case req.Hours > 0:
		until = h.now().Add(time.Duration(req.Hours) * time.Hour)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_SNOOZE", "until or hours is required")
		return
	}

	rem, err := h.svc.SnoozeReminders(r.Context(), user, chi.URLParam(r, "id"), until)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *ExperimentHandler) reminder(w http.ResponseWriter, r *http.Request, fn func(context.Context, *model.User, string) (*model.ExperimentReminder, error)) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	rem, err := fn(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func experimentInput(req dto.CreateExperimentRequest) service.ExperimentInput {
	return service.ExperimentInput{
		Title:        req.Title,
		Hypothesis:   req.Hypothesis,
		DurationDays: req.DurationDays,
		Frequency:    req.Frequency,
	}
}

func fieldInputs(reqs []dto.FieldRequest) []service.FieldInput {
	inputs := make([]service.FieldInput, 0, len(reqs))
	for _, f := range reqs {
		inputs = append(inputs, service.FieldInput{
			Label:    f.Label,
			Type:     f.Type,
			Required: f.Required,
			Config:   f.Config,
		})
	}
	return inputs
}

func detailResponse(d *service.ExperimentDetail) dto.ExperimentDetailResponse {
	fields := d.Fields
	if fields == nil {
		fields = []model.ExperimentField{}
	}
	return dto.ExperimentDetailResponse{
		Experiment: d.Experiment,
		Fields:     fields,
		Reminder:   d.Reminder,
	}
}

// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/handler/dto"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/reminder"
	"github.com/selah/selah/internal/service"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Handler serves the endpoints that need no dependencies.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Hello reports the service name and version.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "Selah API",
		"version": Version,
	}
	writeJSON(w, http.StatusOK, response)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeRawJSON writes an already encoded and validated JSON body.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON decodes the request body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

// currentUser returns the session user. Routes are mounted behind
// middleware.Session, so a nil user is answered as unauthenticated.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return nil, false
	}
	return user, true
}

// errorMapper maps service errors to HTTP responses. Unknown errors are
// logged in full and answered with a generic message.
type errorMapper struct {
	logger *slog.Logger
}

func (m errorMapper) handle(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error: verr.Message,
			Code:  "VALIDATION_FAILED",
			Field: verr.Field,
		})
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
	case errors.Is(err, service.ErrNotOrganisation):
		writeError(w, http.StatusForbidden, "NOT_ORGANISATION_ACCOUNT", "Upgrade to an organisation account first")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", "Experiment cannot move to that status")
	case errors.Is(err, service.ErrNotActive):
		writeError(w, http.StatusConflict, "EXPERIMENT_NOT_ACTIVE", "Experiment is not active")
	case errors.Is(err, service.ErrFieldsLocked):
		writeError(w, http.StatusConflict, "FIELDS_LOCKED", "Fields can only change while the experiment is a draft")
	case errors.Is(err, service.ErrExperimentLocked):
		writeError(w, http.StatusConflict, "EXPERIMENT_LOCKED", "Completed experiments cannot be edited")
	case errors.Is(err, service.ErrNoFields):
		writeError(w, http.StatusConflict, "NO_FIELDS", "Add at least one field before starting")
	case errors.Is(err, service.ErrInviteInvalid):
		writeError(w, http.StatusBadRequest, "INVITE_INVALID", "Invitation is invalid or expired")
	case errors.Is(err, service.ErrMemberExists):
		writeError(w, http.StatusConflict, "MEMBER_EXISTS", "User is already a member")
	case errors.Is(err, service.ErrLastAdmin):
		writeError(w, http.StatusConflict, "LAST_ADMIN", "Organisation must keep at least one org admin")
	case errors.Is(err, reminder.ErrRunInProgress):
		writeError(w, http.StatusConflict, "RUN_IN_PROGRESS", "Reminder run already in progress")
	default:
		m.logger.Error("internal_error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// parseDay accepts "YYYY-MM-DD" or RFC 3339. Empty input is the zero time.
func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

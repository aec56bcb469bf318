package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/selah/selah/internal/handler/dto"
	"github.com/selah/selah/internal/model"
)

// UserAdmin lists users and changes their global role. *service.AdminService implements it.
type UserAdmin interface {
	ListUsers(ctx context.Context, user *model.User, limit, offset int) ([]*model.User, error)
	SetUserRole(ctx context.Context, user *model.User, targetID string, role model.UserRole) (*model.User, error)
}

// AdminHandler provides super admin endpoints.
type AdminHandler struct {
	svc  UserAdmin
	errs errorMapper
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(svc UserAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, errs: errorMapper{logger: logger}}
}

// ListUsers handles GET /api/v1/admin/users?limit=N&offset=M.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	users, err := h.svc.ListUsers(r.Context(), user, limit, offset)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: users})
}

// SetUserRole handles PATCH /api/v1/admin/users/{id}/role.
func (h *AdminHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.UserRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.svc.SetUserRole(r.Context(), user, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

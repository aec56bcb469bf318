package handler

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/reminder"
)

// ReminderRunner performs one reminder pass. *reminder.Scheduler implements it.
type ReminderRunner interface {
	Run(ctx context.Context) (*reminder.Summary, error)
}

// PauseLinkHandler resolves and applies signed pause links. *service.ExperimentService implements it.
type PauseLinkHandler interface {
	PauseLinkTarget(ctx context.Context, token string) (*model.Experiment, error)
	PauseByToken(ctx context.Context, token string) (*model.ExperimentReminder, error)
}

// ReminderHandler serves the cron trigger and the one-click pause link.
type ReminderHandler struct {
	runner ReminderRunner
	pauser PauseLinkHandler
	logger *slog.Logger
	errs   errorMapper
}

// NewReminderHandler creates a new ReminderHandler.
func NewReminderHandler(runner ReminderRunner, pauser PauseLinkHandler, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{
		runner: runner,
		pauser: pauser,
		logger: logger,
		errs:   errorMapper{logger: logger},
	}
}

// Run handles POST /api/cron/reminders. The route is guarded by
// middleware.CronSecret.
func (h *ReminderHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// pausePageCSP allows the confirmation form to post back to this origin.
const pausePageCSP = "default-src 'none'; form-action 'self'; frame-ancestors 'none'"

var pausePage = template.Must(template.New("pause").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Pause reminders</title></head>
<body>
{{if .Paused}}<p>Reminders for “{{.Title}}” are paused. Resume them from the experiment page.</p>
{{else}}<p>Stop daily check-in reminders for “{{.Title}}”?</p>
<form method="post" action="/reminders/pause">
<input type="hidden" name="token" value="{{.Token}}">
<button type="submit">Pause reminders</button>
</form>
{{end}}</body>
</html>
`))

type pausePageData struct {
	Title  string
	Token  string
	Paused bool
}

// ConfirmPause handles GET /reminders/pause?token=.... It only verifies the
// link, so mail scanners that prefetch it change nothing.
func (h *ReminderHandler) ConfirmPause(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TOKEN", "token is required")
		return
	}

	exp, err := h.pauser.PauseLinkTarget(r.Context(), token)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	if !wantsHTML(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"experiment_id": exp.ID,
			"title":         exp.Title,
			"paused":        false,
		})
		return
	}
	h.renderPausePage(w, pausePageData{Title: exp.Title, Token: token})
}

// Pause handles POST /reminders/pause with the token as a form field.
func (h *ReminderHandler) Pause(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TOKEN", "token is required")
		return
	}

	rem, err := h.pauser.PauseByToken(r.Context(), token)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("reminders_paused_by_link", "experiment_id", rem.ExperimentID)
	if !wantsHTML(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"paused":        true,
			"experiment_id": rem.ExperimentID,
		})
		return
	}

	title := ""
	if exp, err := h.pauser.PauseLinkTarget(r.Context(), token); err == nil {
		title = exp.Title
	}
	h.renderPausePage(w, pausePageData{Title: title, Paused: true})
}

func (h *ReminderHandler) renderPausePage(w http.ResponseWriter, data pausePageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", pausePageCSP)
	w.WriteHeader(http.StatusOK)
	if err := pausePage.Execute(w, data); err != nil {
		h.logger.Error("failed to render pause page", "error", err)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

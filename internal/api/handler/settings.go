package handler

import (
	"net/http"

	"github.com/ayodele-m/fiatramp/internal/api/middleware"
	"github.com/ayodele-m/fiatramp/internal/api/problem"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/service"
)

// SettingsHandler serves the admin settings endpoints.
type SettingsHandler struct {
	settings *service.SettingsService
}

func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	setting, err := h.settings.Get(r.Context())
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, setting)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var next models.Setting
	if err := decodeJSON(w, r, &next); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	updated, err := h.settings.Update(r.Context(), middleware.UserID(r.Context()), &next)
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

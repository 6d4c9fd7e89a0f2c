package handlers

import (
	"errors"
	"net/http"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// SettingsHandler serves per-user settings.
type SettingsHandler struct {
	tracker *tracker.Service
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(tr *tracker.Service) *SettingsHandler {
	return &SettingsHandler{tracker: tr}
}

// HandleGet returns the caller's settings.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.Settings(r.Context(), currentUserID(r))
	if err != nil {
		writeInternal(w, r, "load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsView(st))
}

// HandleUpdate applies a partial update. The threshold may be given in
// minutes or as days, hours and minutes; thresholdMinutes wins if both are set.
func (h *SettingsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThresholdMinutes *int              `json:"thresholdMinutes"`
		Threshold        *tracker.Duration `json:"threshold"`
		AutoRefresh      *bool             `json:"autoRefresh"`
		AutoRedraft      *bool             `json:"autoRedraft"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	params := models.SettingsUpdateParams{
		ThresholdMinutes: req.ThresholdMinutes,
		AutoRefresh:      req.AutoRefresh,
		AutoRedraft:      req.AutoRedraft,
	}
	if params.ThresholdMinutes == nil && req.Threshold != nil {
		minutes, err := tracker.ThresholdFromComponents(*req.Threshold)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.ThresholdMinutes = &minutes
	}

	st, err := h.tracker.UpdateSettings(r.Context(), currentUserID(r), params)
	if errors.Is(err, tracker.ErrInvalidThreshold) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeInternal(w, r, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsView(st))
}

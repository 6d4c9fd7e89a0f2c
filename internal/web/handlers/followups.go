package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// FollowupHandler serves the tracked email routes.
type FollowupHandler struct {
	tracker *tracker.Service
	now     func() time.Time
}

// NewFollowupHandler creates a new FollowupHandler.
func NewFollowupHandler(tr *tracker.Service) *FollowupHandler {
	return &FollowupHandler{tracker: tr, now: time.Now}
}

type pendingResponse struct {
	ThresholdMinutes int                `json:"thresholdMinutes"`
	Pending          []trackedEmailView `json:"pending"`
}

// HandleList returns every tracked email, or only pending ones with ?pending=true.
func (h *FollowupHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)

	var (
		emails []models.TrackedEmail
		err    error
	)
	if r.URL.Query().Get("pending") == "true" {
		emails, err = h.tracker.ComputePending(r.Context(), userID, nil)
	} else {
		emails, err = h.tracker.ListTracked(r.Context(), userID)
	}
	if err != nil {
		writeInternal(w, r, "list follow-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"followups": newTrackedEmailViews(emails, h.now())})
}

// HandleSync tracks a batch of sent emails supplied by the client. When the
// store fails partway the 500 response still carries the counts committed so
// far.
func (h *FollowupHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emails []models.EmailSummary `json:"emails"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.tracker.Sync(r.Context(), currentUserID(r), req.Emails)
	if err != nil {
		logInternal(r, "sync follow-ups", err)
		if result == nil {
			writeError(w, http.StatusInternalServerError, internalErrorMessage)
			return
		}
		writeJSON(w, http.StatusInternalServerError, struct {
			*tracker.SyncResult
			Error string `json:"error"`
		}{result, internalErrorMessage})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandlePending computes pending follow-ups given threads the client already
// knows were answered.
func (h *FollowupHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepliedThreadIDs []string `json:"repliedThreadIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := currentUserID(r)
	threshold, err := h.tracker.GetThreshold(r.Context(), userID)
	if err != nil {
		writeInternal(w, r, "load threshold", err)
		return
	}
	pending, err := h.tracker.ComputePending(r.Context(), userID, req.RepliedThreadIDs)
	if err != nil {
		writeInternal(w, r, "compute pending follow-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{ThresholdMinutes: threshold, Pending: newTrackedEmailViews(pending, h.now())})
}

// HandleGet returns one tracked email.
func (h *FollowupHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.tracker.Get(r.Context(), currentUserID(r), chi.URLParam(r, "threadID"))
	if errors.Is(err, tracker.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeInternal(w, r, "get follow-up", err)
		return
	}
	writeJSON(w, http.StatusOK, newTrackedEmailView(*e, h.now()))
}

// HandleDismiss stops reminding about a thread.
func (h *FollowupHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Dismiss(r.Context(), currentUserID(r), chi.URLParam(r, "threadID")); err != nil {
		writeInternal(w, r, "dismiss follow-up", err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleMarkReplied records that a thread was answered.
func (h *FollowupHandler) HandleMarkReplied(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.MarkReplied(r.Context(), currentUserID(r), chi.URLParam(r, "threadID")); err != nil {
		writeInternal(w, r, "mark follow-up replied", err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleSaveDraft stores a draft for a thread.
func (h *FollowupHandler) HandleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	d, err := h.tracker.SaveDraft(r.Context(), currentUserID(r), chi.URLParam(r, "threadID"), req.Content)
	if errors.Is(err, tracker.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeInternal(w, r, "save draft", err)
		return
	}
	writeJSON(w, http.StatusOK, draftView{Content: d.Content, GeneratedAt: d.GeneratedAt})
}

// HandleRemove stops tracking a thread.
func (h *FollowupHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Remove(r.Context(), currentUserID(r), chi.URLParam(r, "threadID")); err != nil {
		writeInternal(w, r, "remove follow-up", err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleClear stops tracking every thread.
func (h *FollowupHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Clear(r.Context(), currentUserID(r)); err != nil {
		writeInternal(w, r, "clear follow-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

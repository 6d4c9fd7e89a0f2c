package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/znz-systems/followup/internal/draft"
	"github.com/znz-systems/followup/internal/tracker"
)

// Drafter writes follow-up drafts.
type Drafter interface {
	Generate(ctx context.Context, r draft.Request) (*draft.Result, error)
	Stream(ctx context.Context, r draft.Request, fn func(chunk string) error) (string, error)
	Redraft(ctx context.Context, r draft.RedraftRequest) (*draft.Result, error)
}

// DraftHandler serves AI draft generation.
type DraftHandler struct {
	drafts  Drafter
	tracker *tracker.Service
	now     func() time.Time
}

// NewDraftHandler creates a new DraftHandler.
func NewDraftHandler(drafts Drafter, tr *tracker.Service) *DraftHandler {
	return &DraftHandler{drafts: drafts, tracker: tr, now: time.Now}
}

type generateRequest struct {
	draft.Request
	ThreadID string `json:"threadId"`
	Stream   bool   `json:"stream"`
}

func writeDraftError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, draft.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, draft.ErrInvalidEmail),
		errors.Is(err, draft.ErrInvalidUrgency),
		errors.Is(err, draft.ErrInvalidDays),
		errors.Is(err, draft.ErrInstructionsRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeInternal(w, r, action, err)
	}
}

// HandleGenerate writes a follow-up draft. With a threadId the original email
// is taken from the tracked thread when not supplied, and the result is saved
// as that thread's draft. With stream=true (body or query) the draft is sent
// as server-sent events.
func (h *DraftHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := currentUserID(r)

	if req.ThreadID != "" && strings.TrimSpace(req.Original.To) == "" {
		e, err := h.tracker.Get(r.Context(), userID, req.ThreadID)
		if err != nil {
			writeDraftError(w, r, "load tracked email", err)
			return
		}
		fromTracked := draft.FromTracked(*e, h.now())
		req.Original = fromTracked.Original
		if req.Options.DaysSinceOriginal == nil {
			req.Options.DaysSinceOriginal = fromTracked.Options.DaysSinceOriginal
		}
	}

	if req.Stream || r.URL.Query().Get("stream") == "true" {
		h.stream(w, r, userID, req)
		return
	}

	result, err := h.drafts.Generate(r.Context(), req.Request)
	if err != nil {
		writeDraftError(w, r, "generate draft", err)
		return
	}
	h.save(r.Context(), userID, req.ThreadID, result.Content)
	writeJSON(w, http.StatusOK, result)
}

func (h *DraftHandler) stream(w http.ResponseWriter, r *http.Request, userID int64, req generateRequest) {
	rc := http.NewResponseController(w)
	started := false
	send := func(v any) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		return rc.Flush()
	}

	full, err := h.drafts.Stream(r.Context(), req.Request, func(chunk string) error {
		return send(map[string]string{"content": chunk})
	})
	if err != nil {
		if !started {
			writeDraftError(w, r, "stream draft", err)
			return
		}
		slog.Warn("draft stream interrupted", "user_id", userID, "error", err)
		send(map[string]string{"error": "draft generation failed"})
		return
	}

	h.save(r.Context(), userID, req.ThreadID, full)
	if !started {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	rc.Flush()
}

func (h *DraftHandler) save(ctx context.Context, userID int64, threadID, content string) {
	if threadID == "" || content == "" {
		return
	}
	if _, err := h.tracker.SaveDraft(ctx, userID, threadID, content); err != nil {
		slog.Warn("failed to save generated draft", "user_id", userID, "thread_id", threadID, "error", err)
	}
}

// HandleRedraft rewrites a draft following the caller's instructions.
func (h *DraftHandler) HandleRedraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		draft.RedraftRequest
		ThreadID string `json:"threadId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.drafts.Redraft(r.Context(), req.RedraftRequest)
	if err != nil {
		writeDraftError(w, r, "redraft", err)
		return
	}
	h.save(r.Context(), currentUserID(r), req.ThreadID, result.Content)
	writeJSON(w, http.StatusOK, result)
}

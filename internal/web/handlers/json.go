package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
	"github.com/znz-systems/followup/internal/web/middleware"
)

const maxBodyBytes = 1 << 20

// jsonResponse is the envelope for simple acknowledgements and errors.
type jsonResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonResponse{Error: msg})
}

func writeInternal(w http.ResponseWriter, r *http.Request, action string, err error) {
	logInternal(r, action, err)
	writeError(w, http.StatusInternalServerError, internalErrorMessage)
}

const internalErrorMessage = "internal server error"

func logInternal(r *http.Request, action string, err error) {
	attrs := []any{"method", r.Method, "path", r.URL.Path, "error", err}
	if u := middleware.UserFromContext(r.Context()); u != nil {
		attrs = append(attrs, "user_id", u.ID)
	}
	slog.Error("failed to "+action, attrs...)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func currentUserID(r *http.Request) int64 {
	if u := middleware.UserFromContext(r.Context()); u != nil {
		return u.ID
	}
	return 0
}

type draftView struct {
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type trackedEmailView struct {
	ID        string          `json:"id"`
	MessageID string          `json:"messageId"`
	ThreadID  string          `json:"threadId"`
	To        string          `json:"to"`
	Recipient string          `json:"recipient"`
	From      string          `json:"from"`
	Subject   string          `json:"subject"`
	Snippet   string          `json:"snippet"`
	Body      string          `json:"body,omitempty"`
	SentAt    *time.Time      `json:"sentAt"`
	TrackedAt time.Time       `json:"trackedAt"`
	HasReply  bool            `json:"hasReply"`
	Dismissed bool            `json:"dismissed"`
	Elapsed   tracker.Elapsed `json:"elapsed"`
	Age       string          `json:"age"`
	Draft     *draftView      `json:"draft,omitempty"`
}

func newTrackedEmailView(e models.TrackedEmail, now time.Time) trackedEmailView {
	v := trackedEmailView{
		ID:        e.PublicID.String(),
		MessageID: e.MessageID,
		ThreadID:  e.ThreadID,
		To:        e.Recipient,
		Recipient: tracker.FormatRecipient(e.Recipient),
		From:      e.Sender,
		Subject:   e.Subject,
		Snippet:   e.Snippet,
		Body:      e.Body,
		TrackedAt: e.TrackedAt,
		HasReply:  e.HasReply,
		Dismissed: e.Dismissed,
		Elapsed:   tracker.TimeSince(e.EffectiveSentAt(), now),
		Age:       tracker.FormatTimeSince(e.EffectiveSentAt(), now),
	}
	if !e.SentAt.IsZero() {
		sent := e.SentAt
		v.SentAt = &sent
	}
	if e.Draft != nil {
		v.Draft = &draftView{Content: e.Draft.Content, GeneratedAt: e.Draft.GeneratedAt}
	}
	return v
}

func newTrackedEmailViews(emails []models.TrackedEmail, now time.Time) []trackedEmailView {
	views := make([]trackedEmailView, 0, len(emails))
	for _, e := range emails {
		views = append(views, newTrackedEmailView(e, now))
	}
	return views
}

type settingsView struct {
	ThresholdMinutes int              `json:"thresholdMinutes"`
	Threshold        tracker.Duration `json:"threshold"`
	ThresholdLabel   string           `json:"thresholdLabel"`
	AutoRefresh      bool             `json:"autoRefresh"`
	AutoRedraft      bool             `json:"autoRedraft"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func newSettingsView(s *models.Settings) settingsView {
	return settingsView{
		ThresholdMinutes: s.ThresholdMinutes,
		Threshold:        tracker.ThresholdToComponents(s.ThresholdMinutes),
		ThresholdLabel:   tracker.FormatThreshold(s.ThresholdMinutes),
		AutoRefresh:      s.AutoRefresh,
		AutoRedraft:      s.AutoRedraft,
		UpdatedAt:        s.UpdatedAt,
	}
}

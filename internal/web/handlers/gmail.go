package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/znz-systems/followup/internal/gmail"
	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// GmailAccounts manages a user's Gmail connection.
type GmailAccounts interface {
	AuthURL(userID int64) (string, error)
	Connect(ctx context.Context, state, code string) (*models.GmailConnection, error)
	Connection(ctx context.Context, userID int64) (*models.GmailConnection, error)
	Disconnect(ctx context.Context, userID int64) error
}

// GmailMail reads and sends mail for a connected user.
type GmailMail interface {
	tracker.EmailSource
	tracker.ReplyOracle
	Send(ctx context.Context, userID int64, msg gmail.OutgoingMessage) (*gmail.SentMessage, error)
	ListInbox(ctx context.Context, userID int64, q gmail.InboxQuery) (*gmail.InboxPage, error)
}

// GmailHandler serves the Gmail connection and mailbox routes.
type GmailHandler struct {
	accounts    GmailAccounts
	mail        GmailMail
	tracker     *tracker.Service
	redirectURL string
	now         func() time.Time
}

// NewGmailHandler creates a new GmailHandler. When redirectURL is set the
// OAuth callback redirects there with a gmail=connected or gmail=error query
// instead of answering with JSON.
func NewGmailHandler(accounts GmailAccounts, mail GmailMail, tr *tracker.Service, redirectURL string) *GmailHandler {
	return &GmailHandler{
		accounts:    accounts,
		mail:        mail,
		tracker:     tr,
		redirectURL: redirectURL,
		now:         time.Now,
	}
}

func (h *GmailHandler) writeGmailError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, gmail.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, gmail.ErrNotConnected), errors.Is(err, gmail.ErrReauthRequired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gmail.ErrInvalidState), errors.Is(err, gmail.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternal(w, r, action, err)
	}
}

// HandleAuthURL returns the Google consent URL for the caller.
func (h *GmailHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.AuthURL(currentUserID(r))
	if err != nil {
		h.writeGmailError(w, r, "build gmail auth url", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

// HandleCallback completes the OAuth flow. It is reached without a session;
// the state parameter identifies the user.
func (h *GmailHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		h.finishCallback(w, r, nil, errors.New("authorization denied: "+denied))
		return
	}
	conn, err := h.accounts.Connect(r.Context(), q.Get("state"), q.Get("code"))
	h.finishCallback(w, r, conn, err)
}

func (h *GmailHandler) finishCallback(w http.ResponseWriter, r *http.Request, conn *models.GmailConnection, err error) {
	if h.redirectURL != "" {
		target, perr := url.Parse(h.redirectURL)
		if perr == nil {
			v := target.Query()
			if err != nil {
				v.Set("gmail", "error")
			} else {
				v.Set("gmail", "connected")
			}
			target.RawQuery = v.Encode()
			http.Redirect(w, r, target.String(), http.StatusSeeOther)
			return
		}
	}
	if err != nil {
		if !errors.Is(err, gmail.ErrNotConfigured) && !errors.Is(err, gmail.ErrInvalidState) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeGmailError(w, r, "connect gmail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "email": conn.Email})
}

// HandleStatus reports whether the caller has a connected account.
func (h *GmailHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := h.accounts.Connection(r.Context(), currentUserID(r))
	if errors.Is(err, gmail.ErrNotConnected) {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	if err != nil {
		writeInternal(w, r, "load gmail connection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "email": conn.Email})
}

// HandleDisconnect forgets the caller's tokens.
func (h *GmailHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Disconnect(r.Context(), currentUserID(r)); err != nil {
		h.writeGmailError(w, r, "disconnect gmail", err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

type refreshResponse struct {
	*tracker.RefreshReport
	Pending []trackedEmailView `json:"pending"`
}

// HandleRefresh syncs sent mail, checks replies and returns what is pending.
func (h *GmailHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.tracker.Refresh(r.Context(), currentUserID(r), h.mail, h.mail)
	if err != nil {
		h.writeGmailError(w, r, "refresh follow-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{RefreshReport: report, Pending: newTrackedEmailViews(report.Pending, h.now())})
}

type replyStatusView struct {
	ThreadID        string `json:"threadId"`
	HasReply        bool   `json:"hasReply"`
	ReplyCount      int    `json:"replyCount"`
	LastMessageFrom string `json:"lastMessageFrom,omitempty"`
	Error           string `json:"error,omitempty"`
}

// HandleCheckReplies asks Gmail about the given threads without changing any
// tracked state.
func (h *GmailHandler) HandleCheckReplies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadIDs []string `json:"threadIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.ThreadIDs) == 0 {
		writeError(w, http.StatusBadRequest, "threadIds is required")
		return
	}

	statuses, err := h.mail.CheckReplies(r.Context(), currentUserID(r), req.ThreadIDs)
	if err != nil {
		h.writeGmailError(w, r, "check replies", err)
		return
	}
	views := make([]replyStatusView, 0, len(statuses))
	for _, st := range statuses {
		v := replyStatusView{
			ThreadID:        st.ThreadID,
			HasReply:        st.HasReply,
			ReplyCount:      st.ReplyCount,
			LastMessageFrom: st.LastMessageFrom,
		}
		if st.Err != nil {
			v.HasReply = false
			v.Error = st.Err.Error()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": views})
}

// HandleInbox lists the caller's inbox. Query parameters: q (Gmail search
// syntax), maxResults (1 to 100, default 20) and pageToken.
func (h *GmailHandler) HandleInbox(w http.ResponseWriter, r *http.Request) {
	q := gmail.InboxQuery{
		Query:     r.URL.Query().Get("q"),
		PageToken: r.URL.Query().Get("pageToken"),
	}
	if raw := r.URL.Query().Get("maxResults"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > gmail.MaxInboxResults {
			writeError(w, http.StatusBadRequest, "maxResults must be between 1 and 100")
			return
		}
		q.MaxResults = n
	}

	page, err := h.mail.ListInbox(r.Context(), currentUserID(r), q)
	if err != nil {
		h.writeGmailError(w, r, "list inbox", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleSend sends a message from the caller's account.
func (h *GmailHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg gmail.OutgoingMessage
	if !decodeJSON(w, r, &msg) {
		return
	}
	sent, err := h.mail.Send(r.Context(), currentUserID(r), msg)
	if err != nil {
		h.writeGmailError(w, r, "send email", err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

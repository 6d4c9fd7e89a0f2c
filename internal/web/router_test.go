package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/znz-systems/followup/internal/auth"
	"github.com/znz-systems/followup/internal/draft"
	"github.com/znz-systems/followup/internal/gmail"
	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/store/sqlite"
	"github.com/znz-systems/followup/internal/tracker"
	"github.com/znz-systems/followup/internal/web/handlers"
	"github.com/znz-systems/followup/internal/web/middleware"
)

type fakeAccounts struct {
	connected map[int64]string
	states    map[string]int64
}

func (f *fakeAccounts) AuthURL(userID int64) (string, error) {
	f.states["state-1"] = userID
	return "https://accounts.google.com/o/oauth2/auth?state=state-1", nil
}

func (f *fakeAccounts) Connect(_ context.Context, state, code string) (*models.GmailConnection, error) {
	userID, ok := f.states[state]
	if !ok || code == "" {
		return nil, gmail.ErrInvalidState
	}
	delete(f.states, state)
	f.connected[userID] = "alice@gmail.com"
	return &models.GmailConnection{UserID: userID, Email: "alice@gmail.com", Connected: true}, nil
}

func (f *fakeAccounts) Connection(_ context.Context, userID int64) (*models.GmailConnection, error) {
	email, ok := f.connected[userID]
	if !ok {
		return nil, gmail.ErrNotConnected
	}
	return &models.GmailConnection{UserID: userID, Email: email, Connected: true}, nil
}

func (f *fakeAccounts) Disconnect(_ context.Context, userID int64) error {
	if _, ok := f.connected[userID]; !ok {
		return gmail.ErrNotConnected
	}
	delete(f.connected, userID)
	return nil
}

type fakeMail struct {
	sent     []models.EmailSummary
	replied  map[string]bool
	failing  map[string]bool
	outgoing []gmail.OutgoingMessage
	inboxQ   gmail.InboxQuery
}

func (f *fakeMail) FetchSent(_ context.Context, _ int64) (*tracker.FetchResult, error) {
	return &tracker.FetchResult{
		Emails:   f.sent,
		Failures: []tracker.ItemFailure{{MessageID: "m-broken", Reason: "fetch failed"}},
	}, nil
}

func (f *fakeMail) CheckReplies(_ context.Context, _ int64, threadIDs []string) ([]models.ReplyStatus, error) {
	out := make([]models.ReplyStatus, 0, len(threadIDs))
	for _, id := range threadIDs {
		st := models.ReplyStatus{ThreadID: id, HasReply: f.replied[id]}
		if f.failing[id] {
			st.Err = errors.New("thread unavailable")
		}
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeMail) ListInbox(_ context.Context, _ int64, q gmail.InboxQuery) (*gmail.InboxPage, error) {
	f.inboxQ = q
	return &gmail.InboxPage{
		Messages: []gmail.InboxMessage{{ID: "in-1", ThreadID: "t-in", From: "Bob <bob@example.com>", Subject: "Lunch?", Unread: true, Labels: []string{"INBOX", "UNREAD"}}},
		Total:    1,
		Failures: []tracker.ItemFailure{},
	}, nil
}

func (f *fakeMail) Send(_ context.Context, _ int64, msg gmail.OutgoingMessage) (*gmail.SentMessage, error) {
	if msg.To == "" {
		return nil, gmail.ErrInvalidMessage
	}
	f.outgoing = append(f.outgoing, msg)
	return &gmail.SentMessage{MessageID: "sent-1", ThreadID: msg.ThreadID}, nil
}

type fakeDrafter struct{}

func (fakeDrafter) Generate(_ context.Context, r draft.Request) (*draft.Result, error) {
	if r.Original.To == "" {
		return nil, draft.ErrInvalidEmail
	}
	return &draft.Result{Content: "Following up on " + r.Original.Subject}, nil
}

func (fakeDrafter) Stream(_ context.Context, r draft.Request, fn func(string) error) (string, error) {
	for _, c := range []string{"Following ", "up"} {
		if err := fn(c); err != nil {
			return "", err
		}
	}
	return "Following up", nil
}

func (fakeDrafter) Redraft(_ context.Context, r draft.RedraftRequest) (*draft.Result, error) {
	if r.Instructions == "" {
		return nil, draft.ErrInstructionsRequired
	}
	return &draft.Result{Content: "Shorter: " + r.Email.Body}, nil
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type testServer struct {
	t        *testing.T
	handler  http.Handler
	tracker  *tracker.Service
	accounts *fakeAccounts
	mail     *fakeMail
}

var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "followup.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authSvc := auth.NewService(st, st, 72)
	tr := tracker.NewService(st, st, st)
	tr.SetClock(func() time.Time { return testNow })
	accounts := &fakeAccounts{connected: map[int64]string{}, states: map[string]int64{}}
	mail := &fakeMail{replied: map[string]bool{}, failing: map[string]bool{}}

	router := NewRouter(RouterDeps{
		AuthHandler:     handlers.NewAuthHandler(authSvc),
		FollowupHandler: handlers.NewFollowupHandler(tr),
		SettingsHandler: handlers.NewSettingsHandler(tr),
		GmailHandler:    handlers.NewGmailHandler(accounts, mail, tr, ""),
		DraftHandler:    handlers.NewDraftHandler(fakeDrafter{}, tr),
		HealthHandler:   handlers.NewHealthHandler(st.DB()),
		Sessions:        authSvc,
		Limiter:         allowAll{},
	})
	return &testServer{t: t, handler: router, tracker: tr, accounts: accounts, mail: mail}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signup(email string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{"email": email, "password": "password123"})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(s.t, rec, &resp)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

type followupsResponse struct {
	Followups []struct {
		ThreadID  string `json:"threadId"`
		Recipient string `json:"recipient"`
		Dismissed bool   `json:"dismissed"`
		HasReply  bool   `json:"hasReply"`
		Age       string `json:"age"`
		Draft     *struct {
			Content string `json:"content"`
		} `json:"draft"`
	} `json:"followups"`
}

func emailJSON(threadID string, age time.Duration) map[string]any {
	return map[string]any{
		"id":       "m-" + threadID,
		"threadId": threadID,
		"to":       "Bob <bob@example.com>",
		"subject":  "About " + threadID,
		"date":     testNow.Add(-age).Format(time.RFC3339),
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s.do(http.MethodGet, "/api/v1/followups", "", nil), http.StatusUnauthorized)

	token := s.signup("alice@example.com")
	expectStatus(t, s.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{"email": "alice@example.com", "password": "password123"}), http.StatusConflict)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{"email": "bob@example.com", "password": "short"}), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope-nope"}), http.StatusUnauthorized)

	rec := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ALICE@example.com", "password": "password123"})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var me struct {
		Email string `json:"email"`
	}
	decode(t, rec, &me)
	if me.Email != "alice@example.com" {
		t.Errorf("unexpected user %q", me.Email)
	}

	expectStatus(t, s.do(http.MethodPost, "/api/v1/auth/logout", token, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/auth/me", token, nil), http.StatusUnauthorized)
}

func TestFollowupLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("alice@example.com")

	rec := s.do(http.MethodPost, "/api/v1/followups/sync", token, map[string]any{
		"emails": []any{
			emailJSON("t1", 72*time.Hour),
			emailJSON("t2", time.Hour),
			emailJSON("t1", 10*time.Hour),
			map[string]any{"id": "m-x", "threadId": " "},
		},
	})
	expectStatus(t, rec, http.StatusOK)
	var synced tracker.SyncResult
	decode(t, rec, &synced)
	if synced.Added != 2 || synced.Duplicates != 1 || len(synced.Rejected) != 1 {
		t.Fatalf("unexpected sync result: %+v", synced)
	}

	rec = s.do(http.MethodGet, "/api/v1/followups?pending=true", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var list followupsResponse
	decode(t, rec, &list)
	if len(list.Followups) != 1 || list.Followups[0].ThreadID != "t1" || list.Followups[0].Recipient != "bob@example.com" {
		t.Fatalf("unexpected pending list: %+v", list)
	}

	rec = s.do(http.MethodPost, "/api/v1/followups/pending", token, map[string]any{"repliedThreadIds": []string{"t1"}})
	expectStatus(t, rec, http.StatusOK)
	var pending struct {
		ThresholdMinutes int               `json:"thresholdMinutes"`
		Pending          []json.RawMessage `json:"pending"`
	}
	decode(t, rec, &pending)
	if pending.ThresholdMinutes != models.DefaultThresholdMinutes || pending.Pending == nil || len(pending.Pending) != 0 {
		t.Fatalf("unexpected pending response: %s", rec.Body.String())
	}

	expectStatus(t, s.do(http.MethodPut, "/api/v1/followups/t1/draft", token, map[string]string{"content": "Hi Bob"}), http.StatusOK)
	expectStatus(t, s.do(http.MethodPut, "/api/v1/followups/missing/draft", token, map[string]string{"content": "Hi"}), http.StatusNotFound)
	expectStatus(t, s.do(http.MethodPut, "/api/v1/followups/t1/draft", token, map[string]string{"content": " "}), http.StatusBadRequest)

	rec = s.do(http.MethodGet, "/api/v1/followups/t1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var one struct {
		Draft *struct {
			Content string `json:"content"`
		} `json:"draft"`
		Age string `json:"age"`
	}
	decode(t, rec, &one)
	if one.Draft == nil || one.Draft.Content != "Hi Bob" {
		t.Errorf("expected saved draft, got %s", rec.Body.String())
	}
	expectStatus(t, s.do(http.MethodGet, "/api/v1/followups/missing", token, nil), http.StatusNotFound)

	expectStatus(t, s.do(http.MethodPost, "/api/v1/followups/t1/dismiss", token, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/followups/unknown/dismiss", token, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/followups/t2/replied", token, nil), http.StatusOK)

	rec = s.do(http.MethodGet, "/api/v1/followups", token, nil)
	decode(t, rec, &list)
	if len(list.Followups) != 2 || !list.Followups[0].Dismissed || !list.Followups[1].HasReply {
		t.Fatalf("unexpected list after mutations: %+v", list)
	}

	expectStatus(t, s.do(http.MethodDelete, "/api/v1/followups/t2", token, nil), http.StatusOK)
	rec = s.do(http.MethodGet, "/api/v1/followups", token, nil)
	decode(t, rec, &list)
	if len(list.Followups) != 1 {
		t.Fatalf("expected 1 follow-up after remove, got %d", len(list.Followups))
	}

	expectStatus(t, s.do(http.MethodDelete, "/api/v1/followups", token, nil), http.StatusOK)
	rec = s.do(http.MethodGet, "/api/v1/followups", token, nil)
	decode(t, rec, &list)
	if len(list.Followups) != 0 {
		t.Fatalf("expected empty list after clear, got %d", len(list.Followups))
	}
}

func TestFollowupsAreScopedToUser(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice@example.com")
	bob := s.signup("bob@example.com")

	s.do(http.MethodPost, "/api/v1/followups/sync", alice, map[string]any{"emails": []any{emailJSON("t1", 72*time.Hour)}})

	expectStatus(t, s.do(http.MethodGet, "/api/v1/followups/t1", bob, nil), http.StatusNotFound)
	var list followupsResponse
	decode(t, s.do(http.MethodGet, "/api/v1/followups", bob, nil), &list)
	if len(list.Followups) != 0 {
		t.Errorf("expected bob to see nothing, got %+v", list)
	}
}

func TestSettings(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("alice@example.com")

	rec := s.do(http.MethodGet, "/api/v1/settings", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var st struct {
		ThresholdMinutes int              `json:"thresholdMinutes"`
		Threshold        tracker.Duration `json:"threshold"`
		ThresholdLabel   string           `json:"thresholdLabel"`
		AutoRefresh      bool             `json:"autoRefresh"`
		AutoRedraft      bool             `json:"autoRedraft"`
	}
	decode(t, rec, &st)
	if st.ThresholdMinutes != 2880 || st.ThresholdLabel != "2 days" || !st.AutoRefresh || st.AutoRedraft {
		t.Fatalf("unexpected defaults: %+v", st)
	}

	rec = s.do(http.MethodPut, "/api/v1/settings", token, map[string]any{
		"threshold":   map[string]int{"days": 1, "hours": 1},
		"autoRedraft": true,
	})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &st)
	if st.ThresholdMinutes != 1500 || st.ThresholdLabel != "1 day 1 hour" || !st.AutoRedraft {
		t.Fatalf("unexpected update: %+v", st)
	}

	expectStatus(t, s.do(http.MethodPut, "/api/v1/settings", token, map[string]any{"thresholdMinutes": -5}), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPut, "/api/v1/settings", token, map[string]any{"threshold": map[string]int{"hours": -1}}), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPut, "/api/v1/settings", token, map[string]any{"threshold": map[string]int{"days": 1 << 40}}), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPut, "/api/v1/settings", token, map[string]any{"thresholdMinutes": 200_000_000_000}), http.StatusBadRequest)

	decode(t, s.do(http.MethodGet, "/api/v1/settings", token, nil), &st)
	if st.ThresholdMinutes != 1500 {
		t.Errorf("rejected update changed threshold to %d", st.ThresholdMinutes)
	}

	expectStatus(t, s.do(http.MethodPut, "/api/v1/settings", token, map[string]any{"thresholdMinutes": 0}), http.StatusOK)
}

func TestGmailRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("alice@example.com")

	rec := s.do(http.MethodGet, "/api/v1/gmail", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"connected":false`) {
		t.Errorf("expected disconnected status, got %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/v1/gmail/auth", token, nil)
	expectStatus(t, rec, http.StatusOK)

	expectStatus(t, s.do(http.MethodGet, "/api/v1/gmail/callback?state=bogus&code=abc", "", nil), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/gmail/callback?error=access_denied", "", nil), http.StatusBadRequest)
	rec = s.do(http.MethodGet, "/api/v1/gmail/callback?state=state-1&code=abc", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "alice@gmail.com") {
		t.Errorf("unexpected callback response %s", rec.Body.String())
	}

	s.mail.sent = []models.EmailSummary{
		{MessageID: "m1", ThreadID: "t1", Recipient: "bob@example.com", Subject: "Hi", SentAt: testNow.Add(-72 * time.Hour)},
		{MessageID: "m2", ThreadID: "t2", Recipient: "carol@example.com", Subject: "Yo", SentAt: testNow.Add(-72 * time.Hour)},
		{MessageID: "m3", ThreadID: "t3", Recipient: "dan@example.com", Subject: "Hey", SentAt: testNow.Add(-72 * time.Hour)},
	}
	s.mail.replied["t2"] = true
	s.mail.failing["t3"] = true

	rec = s.do(http.MethodPost, "/api/v1/gmail/refresh", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var report struct {
		Sync          tracker.SyncResult    `json:"sync"`
		FetchFailures []tracker.ItemFailure `json:"fetchFailures"`
		NewlyReplied  []string              `json:"newlyReplied"`
		ReplyFailures []tracker.ItemFailure `json:"replyFailures"`
		Pending       []struct {
			ThreadID string `json:"threadId"`
		} `json:"pending"`
	}
	decode(t, rec, &report)
	if report.Sync.Added != 3 || len(report.FetchFailures) != 1 {
		t.Errorf("unexpected sync part: %+v", report)
	}
	if len(report.NewlyReplied) != 1 || report.NewlyReplied[0] != "t2" {
		t.Errorf("unexpected replies: %+v", report.NewlyReplied)
	}
	if len(report.ReplyFailures) != 1 || report.ReplyFailures[0].ThreadID != "t3" {
		t.Errorf("unexpected reply failures: %+v", report.ReplyFailures)
	}
	if len(report.Pending) != 2 || report.Pending[0].ThreadID != "t1" || report.Pending[1].ThreadID != "t3" {
		t.Errorf("unexpected pending: %+v", report.Pending)
	}

	rec = s.do(http.MethodPost, "/api/v1/gmail/check-replies", token, map[string]any{"threadIds": []string{"t2", "t3"}})
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"error":"thread unavailable"`) {
		t.Errorf("expected per-thread error, got %s", rec.Body.String())
	}
	expectStatus(t, s.do(http.MethodPost, "/api/v1/gmail/check-replies", token, map[string]any{}), http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodPost, "/api/v1/gmail/send", token, map[string]string{"subject": "x"}), http.StatusBadRequest)
	rec = s.do(http.MethodPost, "/api/v1/gmail/send", token, map[string]string{"to": "bob@example.com", "subject": "Re: Hi", "body": "Ping", "threadId": "t1"})
	expectStatus(t, rec, http.StatusOK)
	if len(s.mail.outgoing) != 1 || s.mail.outgoing[0].ThreadID != "t1" {
		t.Errorf("unexpected outgoing: %+v", s.mail.outgoing)
	}

	expectStatus(t, s.do(http.MethodDelete, "/api/v1/gmail", token, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodDelete, "/api/v1/gmail", token, nil), http.StatusConflict)
}

func TestDrafts(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("alice@example.com")
	s.do(http.MethodPost, "/api/v1/followups/sync", token, map[string]any{"emails": []any{emailJSON("t1", 72*time.Hour)}})

	rec := s.do(http.MethodPost, "/api/v1/drafts", token, map[string]any{"threadId": "t1"})
	expectStatus(t, rec, http.StatusOK)
	var res draft.Result
	decode(t, rec, &res)
	if res.Content != "Following up on About t1" {
		t.Errorf("unexpected draft %q", res.Content)
	}

	var one struct {
		Draft *struct {
			Content string `json:"content"`
		} `json:"draft"`
	}
	decode(t, s.do(http.MethodGet, "/api/v1/followups/t1", token, nil), &one)
	if one.Draft == nil || one.Draft.Content != res.Content {
		t.Errorf("expected generated draft to be saved, got %+v", one.Draft)
	}

	expectStatus(t, s.do(http.MethodPost, "/api/v1/drafts", token, map[string]any{"threadId": "missing"}), http.StatusNotFound)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/drafts", token, map[string]any{}), http.StatusBadRequest)

	rec = s.do(http.MethodPost, "/api/v1/drafts?stream=true", token, map[string]any{
		"originalEmail": map[string]string{"to": "bob@example.com", "subject": "Hi"},
	})
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	want := "data: {\"content\":\"Following \"}\n\ndata: {\"content\":\"up\"}\n\ndata: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Errorf("unexpected stream body:\n%q", rec.Body.String())
	}

	expectStatus(t, s.do(http.MethodPost, "/api/v1/drafts/redraft", token, map[string]any{
		"originalEmail": map[string]string{"to": "bob@example.com", "subject": "Hi", "body": "Long text"},
	}), http.StatusBadRequest)
	rec = s.do(http.MethodPost, "/api/v1/drafts/redraft", token, map[string]any{
		"originalEmail": map[string]string{"to": "bob@example.com", "subject": "Hi", "body": "Long text"},
		"instructions":  "shorter",
	})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &res)
	if res.Content != "Shorter: Long text" {
		t.Errorf("unexpected redraft %q", res.Content)
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/nope", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if !strings.Contains(rec.Body.String(), "not found") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

// failingInserts fails the insert for one thread and delegates the rest.
type failingInserts struct {
	*sqlite.Store
	failThread string
}

func (f failingInserts) InsertTrackedEmail(ctx context.Context, p models.TrackedEmailCreateParams) (*models.TrackedEmail, bool, error) {
	if p.ThreadID == f.failThread {
		return nil, false, errors.New("disk full")
	}
	return f.Store.InsertTrackedEmail(ctx, p)
}

func TestSync_StoreFailureReportsCommittedCounts(t *testing.T) {
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "followup.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	user, err := st.CreateUser(ctx, "alice@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	tr := tracker.NewService(failingInserts{Store: st, failThread: "t3"}, st, st)
	tr.SetClock(func() time.Time { return testNow })

	body := `{"emails":[{"threadId":"t1"},{"threadId":""},{"threadId":"t2"},{"threadId":"t3"},{"threadId":"t4"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/followups/sync", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, user))
	rec := httptest.NewRecorder()
	handlers.NewFollowupHandler(tr).HandleSync(rec, req)

	expectStatus(t, rec, http.StatusInternalServerError)
	var got struct {
		Added    int                   `json:"added"`
		Rejected []tracker.ItemFailure `json:"rejected"`
		Error    string                `json:"error"`
	}
	decode(t, rec, &got)
	if got.Added != 2 || len(got.Rejected) != 1 || got.Error == "" {
		t.Fatalf("expected partial counts with an error, got %+v", got)
	}

	tracked, err := tr.ListTracked(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListTracked: %v", err)
	}
	if len(tracked) != 2 {
		t.Errorf("expected the two committed threads to remain, got %d", len(tracked))
	}
}

func TestGmailInbox(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("alice@example.com")

	rec := s.do(http.MethodGet, "/api/v1/gmail/inbox?q=from:bob&maxResults=5&pageToken=p2", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var page struct {
		Emails []struct {
			ID       string `json:"id"`
			Subject  string `json:"subject"`
			IsUnread bool   `json:"isUnread"`
		} `json:"emails"`
		Total int `json:"total"`
	}
	decode(t, rec, &page)
	if len(page.Emails) != 1 || page.Emails[0].ID != "in-1" || !page.Emails[0].IsUnread || page.Total != 1 {
		t.Fatalf("unexpected inbox page: %+v", page)
	}
	if q := s.mail.inboxQ; q.Query != "from:bob" || q.MaxResults != 5 || q.PageToken != "p2" {
		t.Errorf("unexpected query passed through: %+v", q)
	}

	expectStatus(t, s.do(http.MethodGet, "/api/v1/gmail/inbox?maxResults=0", token, nil), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/gmail/inbox?maxResults=500", token, nil), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/gmail/inbox", "", nil), http.StatusUnauthorized)
}

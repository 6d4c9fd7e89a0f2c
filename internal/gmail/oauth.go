package gmail

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/store"
)

// Sentinel errors returned by the Gmail integration.
var (
	ErrNotConfigured  = errors.New("gmail oauth is not configured")
	ErrNotConnected   = errors.New("gmail account not connected")
	ErrInvalidState   = errors.New("invalid or expired oauth state")
	ErrReauthRequired = errors.New("gmail authorization expired, reconnect required")
	ErrOwnerUnknown   = errors.New("could not determine the account address")
)

const stateTTL = 10 * time.Minute

// Scopes requested when connecting an account.
var Scopes = []string{
	gmailv1.GmailReadonlyScope,
	gmailv1.GmailSendScope,
	gmailv1.GmailModifyScope,
	"https://www.googleapis.com/auth/userinfo.email",
}

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Service manages Gmail connections and hands out authorised mailboxes.
type Service struct {
	oauth      *oauth2.Config
	conns      store.GmailConnectionStore
	states     *stateStore
	apiOptions []option.ClientOption
	httpClient *http.Client
	now        func() time.Time
}

// NewService creates a Gmail Service. Extra client options are passed to every
// Gmail API client it builds.
func NewService(cfg Config, conns store.GmailConnectionStore, opts ...option.ClientOption) *Service {
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		conns:      conns,
		states:     newStateStore(),
		apiOptions: opts,
		now:        time.Now,
	}
}

// Configured reports whether OAuth credentials are present.
func (s *Service) Configured() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != ""
}

func (s *Service) oauthContext(ctx context.Context) context.Context {
	if s.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

// AuthURL returns the consent URL for userID. The embedded state is single use
// and expires after ten minutes.
func (s *Service) AuthURL(userID int64) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	state := hex.EncodeToString(b)
	s.states.put(state, userID, s.now().Add(stateTTL))
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Connect completes the OAuth flow started by AuthURL and stores the tokens
// for the user the state was issued to.
func (s *Service) Connect(ctx context.Context, state, code string) (*models.GmailConnection, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	userID, ok := s.states.take(state, s.now())
	if !ok {
		return nil, ErrInvalidState
	}
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	tok, err := s.oauth.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	api, err := s.apiService(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, err
	}
	profile, err := api.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading gmail profile: %w", err)
	}

	conn, err := s.conns.UpsertGmailConnection(ctx, models.GmailConnectionParams{
		UserID:       userID,
		Email:        profile.EmailAddress,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("saving gmail connection: %w", err)
	}
	slog.Info("gmail account connected", "user_id", userID, "email", profile.EmailAddress)
	return conn, nil
}

// Connection returns the user's active connection.
func (s *Service) Connection(ctx context.Context, userID int64) (*models.GmailConnection, error) {
	conn, err := s.conns.GetGmailConnectionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("loading gmail connection: %w", err)
	}
	if !conn.Connected {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Disconnect forgets the user's tokens.
func (s *Service) Disconnect(ctx context.Context, userID int64) error {
	if err := s.conns.DisconnectGmail(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotConnected
		}
		return fmt.Errorf("disconnecting gmail: %w", err)
	}
	return nil
}

// Mailbox returns an authorised client for the user's account. An expired
// access token is refreshed and the new token persisted.
func (s *Service) Mailbox(ctx context.Context, userID int64) (*Mailbox, error) {
	conn, err := s.Connection(ctx, userID)
	if err != nil {
		return nil, err
	}

	stored := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    conn.TokenType,
		Expiry:       conn.ExpiresAt,
	}
	src := &persistingSource{
		base: s.oauth.TokenSource(s.oauthContext(ctx), stored),
		last: stored,
		save: func(tok *oauth2.Token) error {
			return s.conns.UpdateGmailTokens(ctx, userID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
		},
		userID: userID,
	}
	if _, err := src.Token(); err != nil {
		return nil, err
	}

	api, err := s.apiService(ctx, src)
	if err != nil {
		return nil, err
	}
	return &Mailbox{api: api, userID: userID, owner: conn.Email}, nil
}

func (s *Service) apiService(ctx context.Context, ts oauth2.TokenSource) (*gmailv1.Service, error) {
	client := oauth2.NewClient(s.oauthContext(ctx), ts)
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, s.apiOptions...)
	api, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail client: %w", err)
	}
	return api, nil
}

// persistingSource writes refreshed tokens back to the store.
type persistingSource struct {
	base   oauth2.TokenSource
	save   func(*oauth2.Token) error
	userID int64

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %s", ErrReauthRequired, re.ErrorCode)
		}
		return nil, fmt.Errorf("refreshing gmail token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last.AccessToken {
		if err := p.save(tok); err != nil {
			slog.Warn("failed to persist refreshed gmail token", "user_id", p.userID, "error", err)
		} else {
			slog.Debug("gmail token refreshed", "user_id", p.userID, "expires_at", tok.Expiry)
		}
		p.last = tok
	}
	return tok, nil
}

type pendingState struct {
	userID    int64
	expiresAt time.Time
}

// stateStore holds OAuth states between AuthURL and Connect.
type stateStore struct {
	mu     sync.Mutex
	states map[string]pendingState
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]pendingState)}
}

func (s *stateStore) put(state string, userID int64, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = pendingState{userID: userID, expiresAt: expiresAt}
}

// take consumes state. Expired entries are purged on every call.
func (s *stateStore) take(state string, now time.Time) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.states {
		if !now.Before(v.expiresAt) {
			delete(s.states, k)
		}
	}
	p, ok := s.states[state]
	if !ok {
		return 0, false
	}
	delete(s.states, state)
	return p.userID, true
}

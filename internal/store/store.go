package store

import (
	"context"
	"time"

	"github.com/znz-systems/followup/internal/models"
)

// Implementations return sql.ErrNoRows when a single row lookup or a
// targeted update finds nothing.

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) (*models.Session, error)
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	// DeleteExpiredSessions purges sessions expiring at or before cutoff.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type TrackedEmailStore interface {
	// InsertTrackedEmail stores a new record unless (UserID, ThreadID) already
	// exists. The bool reports whether a row was created.
	InsertTrackedEmail(ctx context.Context, params models.TrackedEmailCreateParams) (*models.TrackedEmail, bool, error)
	GetTrackedEmail(ctx context.Context, userID int64, threadID string) (*models.TrackedEmail, error)
	// ListTrackedEmails returns the user's records in insertion order.
	ListTrackedEmails(ctx context.Context, userID int64) ([]models.TrackedEmail, error)
	MarkTrackedEmailDismissed(ctx context.Context, userID int64, threadID string) error
	MarkTrackedEmailReplied(ctx context.Context, userID int64, threadID string) error
	DeleteTrackedEmail(ctx context.Context, userID int64, threadID string) error
	ClearTrackedEmails(ctx context.Context, userID int64) error
}

type SettingsStore interface {
	GetOrCreateSettings(ctx context.Context, userID int64) (*models.Settings, error)
	UpdateSettings(ctx context.Context, userID int64, params models.SettingsUpdateParams) (*models.Settings, error)
}

type DraftStore interface {
	// SaveDraft replaces any existing draft for the tracked email.
	SaveDraft(ctx context.Context, trackedEmailID int64, content string) (*models.GeneratedDraft, error)
	GetDraftByTrackedEmailID(ctx context.Context, trackedEmailID int64) (*models.GeneratedDraft, error)
}

type GmailConnectionStore interface {
	UpsertGmailConnection(ctx context.Context, params models.GmailConnectionParams) (*models.GmailConnection, error)
	GetGmailConnectionByUserID(ctx context.Context, userID int64) (*models.GmailConnection, error)
	ListGmailConnections(ctx context.Context) ([]models.GmailConnection, error)
	UpdateGmailTokens(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt time.Time) error
	DisconnectGmail(ctx context.Context, userID int64) error
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultThresholdMinutes is two days.
const DefaultThresholdMinutes = 2 * 24 * 60

type User struct {
	ID           int64
	PublicID     uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Session struct {
	ID        int64
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// EmailSummary is a sent message as reported by an email source, before tracking.
type EmailSummary struct {
	MessageID string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Recipient string    `json:"to"`
	Sender    string    `json:"from"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"date"`
}

// TrackedEmail is a sent message the tracker watches for replies.
// A zero SentAt means the source did not report one.
type TrackedEmail struct {
	ID        int64
	PublicID  uuid.UUID
	UserID    int64
	MessageID string
	ThreadID  string
	Recipient string
	Sender    string
	Subject   string
	Snippet   string
	Body      string
	SentAt    time.Time
	TrackedAt time.Time
	HasReply  bool
	Dismissed bool
	UpdatedAt time.Time
	Draft     *GeneratedDraft
}

// EffectiveSentAt falls back to TrackedAt when the send time is unknown.
func (e *TrackedEmail) EffectiveSentAt() time.Time {
	if e.SentAt.IsZero() {
		return e.TrackedAt
	}
	return e.SentAt
}

type TrackedEmailCreateParams struct {
	UserID    int64
	MessageID string
	ThreadID  string
	Recipient string
	Sender    string
	Subject   string
	Snippet   string
	Body      string
	SentAt    time.Time
	TrackedAt time.Time
}

type Settings struct {
	UserID           int64
	ThresholdMinutes int
	AutoRefresh      bool
	AutoRedraft      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SettingsUpdateParams carries a partial update; nil fields are left unchanged.
type SettingsUpdateParams struct {
	ThresholdMinutes *int
	AutoRefresh      *bool
	AutoRedraft      *bool
}

type GeneratedDraft struct {
	ID             int64
	TrackedEmailID int64
	Content        string
	GeneratedAt    time.Time
}

type GmailConnection struct {
	ID           int64
	UserID       int64
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Connected    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type GmailConnectionParams struct {
	UserID       int64
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// ReplyStatus is the reply oracle's answer for one thread. Err is set when
// the oracle could not decide; HasReply is meaningless in that case.
type ReplyStatus struct {
	ThreadID        string
	HasReply        bool
	ReplyCount      int
	LastMessageFrom string
	Err             error
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/followup/internal/models"
)

const trackedEmailColumns = `te.id, te.public_id, te.user_id, te.gmail_id, te.thread_id, te.recipient, te.sender,
	te.subject, te.snippet, te.body, te.sent_at, te.tracked_at, te.has_reply, te.dismissed, te.updated_at,
	gd.id, gd.content, gd.generated_at`

type TrackedEmailStore struct {
	db *sql.DB
}

func NewTrackedEmailStore(db *sql.DB) *TrackedEmailStore {
	return &TrackedEmailStore{db: db}
}

func (s *TrackedEmailStore) InsertTrackedEmail(ctx context.Context, p models.TrackedEmailCreateParams) (*models.TrackedEmail, bool, error) {
	trackedAt := p.TrackedAt
	if trackedAt.IsZero() {
		trackedAt = time.Now().UTC()
	}
	e := &models.TrackedEmail{
		PublicID:  uuid.New(),
		UserID:    p.UserID,
		MessageID: p.MessageID,
		ThreadID:  p.ThreadID,
		Recipient: p.Recipient,
		Sender:    p.Sender,
		Subject:   p.Subject,
		Snippet:   p.Snippet,
		Body:      p.Body,
		SentAt:    p.SentAt,
		TrackedAt: trackedAt,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tracked_emails
			(public_id, user_id, gmail_id, thread_id, recipient, sender, subject, snippet, body, sent_at, tracked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, thread_id) DO NOTHING
		 RETURNING id, updated_at`,
		e.PublicID, e.UserID, e.MessageID, e.ThreadID, e.Recipient, e.Sender,
		e.Subject, e.Snippet, e.Body, nullTime(e.SentAt), e.TrackedAt,
	).Scan(&e.ID, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.GetTrackedEmail(ctx, p.UserID, p.ThreadID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *TrackedEmailStore) GetTrackedEmail(ctx context.Context, userID int64, threadID string) (*models.TrackedEmail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackedEmailColumns+`
		 FROM tracked_emails te
		 LEFT JOIN generated_drafts gd ON gd.tracked_email_id = te.id
		 WHERE te.user_id = $1 AND te.thread_id = $2`,
		userID, threadID,
	)
	return scanTrackedEmail(row)
}

func (s *TrackedEmailStore) ListTrackedEmails(ctx context.Context, userID int64) ([]models.TrackedEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackedEmailColumns+`
		 FROM tracked_emails te
		 LEFT JOIN generated_drafts gd ON gd.tracked_email_id = te.id
		 WHERE te.user_id = $1
		 ORDER BY te.id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.TrackedEmail
	for rows.Next() {
		e, err := scanTrackedEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func (s *TrackedEmailStore) MarkTrackedEmailDismissed(ctx context.Context, userID int64, threadID string) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE tracked_emails SET dismissed = TRUE, updated_at = NOW()
		 WHERE user_id = $1 AND thread_id = $2`,
		userID, threadID,
	))
}

func (s *TrackedEmailStore) MarkTrackedEmailReplied(ctx context.Context, userID int64, threadID string) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE tracked_emails SET has_reply = TRUE, updated_at = NOW()
		 WHERE user_id = $1 AND thread_id = $2`,
		userID, threadID,
	))
}

func (s *TrackedEmailStore) DeleteTrackedEmail(ctx context.Context, userID int64, threadID string) error {
	return expectRow(s.db.ExecContext(ctx,
		`DELETE FROM tracked_emails WHERE user_id = $1 AND thread_id = $2`,
		userID, threadID,
	))
}

func (s *TrackedEmailStore) ClearTrackedEmails(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_emails WHERE user_id = $1`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedEmail(row rowScanner) (*models.TrackedEmail, error) {
	var (
		e            models.TrackedEmail
		sentAt       sql.NullTime
		draftID      sql.NullInt64
		draftContent sql.NullString
		draftAt      sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.PublicID, &e.UserID, &e.MessageID, &e.ThreadID, &e.Recipient, &e.Sender,
		&e.Subject, &e.Snippet, &e.Body, &sentAt, &e.TrackedAt, &e.HasReply, &e.Dismissed, &e.UpdatedAt,
		&draftID, &draftContent, &draftAt,
	)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		e.SentAt = sentAt.Time
	}
	if draftID.Valid {
		e.Draft = &models.GeneratedDraft{
			ID:             draftID.Int64,
			TrackedEmailID: e.ID,
			Content:        draftContent.String,
			GeneratedAt:    draftAt.Time,
		}
	}
	return &e, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

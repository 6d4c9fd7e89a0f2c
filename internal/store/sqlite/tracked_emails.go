package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/znz-systems/followup/internal/models"
)

const trackedEmailColumns = `te.id, te.public_id, te.user_id, te.gmail_id, te.thread_id, te.recipient, te.sender,
	te.subject, te.snippet, te.body, te.sent_at, te.tracked_at, te.has_reply, te.dismissed, te.updated_at,
	gd.id, gd.content, gd.generated_at`

func (s *Store) InsertTrackedEmail(ctx context.Context, p models.TrackedEmailCreateParams) (*models.TrackedEmail, bool, error) {
	trackedAt := p.TrackedAt
	if trackedAt.IsZero() {
		trackedAt = s.now()
	}
	publicID := uuid.New()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_emails
			(public_id, user_id, gmail_id, thread_id, recipient, sender, subject, snippet, body, sent_at, tracked_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, thread_id) DO NOTHING`,
		publicID.String(), p.UserID, p.MessageID, p.ThreadID, p.Recipient, p.Sender,
		p.Subject, p.Snippet, p.Body, toUnix(p.SentAt), toUnix(trackedAt), toUnix(trackedAt),
	)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	e, err := s.GetTrackedEmail(ctx, p.UserID, p.ThreadID)
	if err != nil {
		return nil, false, err
	}
	return e, n > 0, nil
}

func (s *Store) GetTrackedEmail(ctx context.Context, userID int64, threadID string) (*models.TrackedEmail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackedEmailColumns+`
		 FROM tracked_emails te
		 LEFT JOIN generated_drafts gd ON gd.tracked_email_id = te.id
		 WHERE te.user_id = ? AND te.thread_id = ?`,
		userID, threadID,
	)
	return scanTrackedEmail(row)
}

func (s *Store) ListTrackedEmails(ctx context.Context, userID int64) ([]models.TrackedEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackedEmailColumns+`
		 FROM tracked_emails te
		 LEFT JOIN generated_drafts gd ON gd.tracked_email_id = te.id
		 WHERE te.user_id = ?
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

func (s *Store) MarkTrackedEmailDismissed(ctx context.Context, userID int64, threadID string) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE tracked_emails SET dismissed = 1, updated_at = ? WHERE user_id = ? AND thread_id = ?`,
		s.nowUnix(), userID, threadID,
	))
}

func (s *Store) MarkTrackedEmailReplied(ctx context.Context, userID int64, threadID string) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE tracked_emails SET has_reply = 1, updated_at = ? WHERE user_id = ? AND thread_id = ?`,
		s.nowUnix(), userID, threadID,
	))
}

func (s *Store) DeleteTrackedEmail(ctx context.Context, userID int64, threadID string) error {
	return expectRow(s.db.ExecContext(ctx,
		`DELETE FROM tracked_emails WHERE user_id = ? AND thread_id = ?`,
		userID, threadID,
	))
}

func (s *Store) ClearTrackedEmails(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_emails WHERE user_id = ?`, userID)
	return err
}

func scanTrackedEmail(row rowScanner) (*models.TrackedEmail, error) {
	var (
		e                          models.TrackedEmail
		publicID                   string
		sentAt, trackedAt, updated int64
		draftID, draftAt           sql.NullInt64
		draftContent               sql.NullString
	)
	err := row.Scan(
		&e.ID, &publicID, &e.UserID, &e.MessageID, &e.ThreadID, &e.Recipient, &e.Sender,
		&e.Subject, &e.Snippet, &e.Body, &sentAt, &trackedAt, &e.HasReply, &e.Dismissed, &updated,
		&draftID, &draftContent, &draftAt,
	)
	if err != nil {
		return nil, err
	}
	if e.PublicID, err = uuid.Parse(publicID); err != nil {
		return nil, err
	}
	e.SentAt, e.TrackedAt, e.UpdatedAt = fromUnix(sentAt), fromUnix(trackedAt), fromUnix(updated)
	if draftID.Valid {
		e.Draft = &models.GeneratedDraft{
			ID:             draftID.Int64,
			TrackedEmailID: e.ID,
			Content:        draftContent.String,
			GeneratedAt:    fromUnix(draftAt.Int64),
		}
	}
	return &e, nil
}

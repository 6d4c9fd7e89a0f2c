package sqlite

import (
	"context"

	"github.com/znz-systems/followup/internal/models"
)

func (s *Store) SaveDraft(ctx context.Context, trackedEmailID int64, content string) (*models.GeneratedDraft, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generated_drafts (tracked_email_id, content, generated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (tracked_email_id)
		 DO UPDATE SET content = excluded.content, generated_at = excluded.generated_at`,
		trackedEmailID, content, toUnix(now),
	)
	if err != nil {
		return nil, err
	}
	return s.GetDraftByTrackedEmailID(ctx, trackedEmailID)
}

func (s *Store) GetDraftByTrackedEmailID(ctx context.Context, trackedEmailID int64) (*models.GeneratedDraft, error) {
	var (
		d           models.GeneratedDraft
		generatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tracked_email_id, content, generated_at
		 FROM generated_drafts WHERE tracked_email_id = ?`,
		trackedEmailID,
	).Scan(&d.ID, &d.TrackedEmailID, &d.Content, &generatedAt)
	if err != nil {
		return nil, err
	}
	d.GeneratedAt = fromUnix(generatedAt)
	return &d, nil
}

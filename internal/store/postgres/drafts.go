package postgres

import (
	"context"
	"database/sql"

	"github.com/znz-systems/followup/internal/models"
)

type DraftStore struct {
	db *sql.DB
}

func NewDraftStore(db *sql.DB) *DraftStore {
	return &DraftStore{db: db}
}

func (s *DraftStore) SaveDraft(ctx context.Context, trackedEmailID int64, content string) (*models.GeneratedDraft, error) {
	d := &models.GeneratedDraft{
		TrackedEmailID: trackedEmailID,
		Content:        content,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO generated_drafts (tracked_email_id, content)
		 VALUES ($1, $2)
		 ON CONFLICT (tracked_email_id)
		 DO UPDATE SET content = EXCLUDED.content, generated_at = NOW()
		 RETURNING id, generated_at`,
		trackedEmailID, content,
	).Scan(&d.ID, &d.GeneratedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DraftStore) GetDraftByTrackedEmailID(ctx context.Context, trackedEmailID int64) (*models.GeneratedDraft, error) {
	d := &models.GeneratedDraft{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tracked_email_id, content, generated_at
		 FROM generated_drafts WHERE tracked_email_id = $1`,
		trackedEmailID,
	).Scan(&d.ID, &d.TrackedEmailID, &d.Content, &d.GeneratedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

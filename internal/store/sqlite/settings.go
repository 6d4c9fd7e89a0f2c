package sqlite

import (
	"context"

	"github.com/znz-systems/followup/internal/models"
)

func (s *Store) GetOrCreateSettings(ctx context.Context, userID int64) (*models.Settings, error) {
	now := s.nowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, threshold_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, models.DefaultThresholdMinutes, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.getSettings(ctx, userID)
}

func (s *Store) UpdateSettings(ctx context.Context, userID int64, p models.SettingsUpdateParams) (*models.Settings, error) {
	st, err := s.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.ThresholdMinutes != nil {
		st.ThresholdMinutes = *p.ThresholdMinutes
	}
	if p.AutoRefresh != nil {
		st.AutoRefresh = *p.AutoRefresh
	}
	if p.AutoRedraft != nil {
		st.AutoRedraft = *p.AutoRedraft
	}

	err = expectRow(s.db.ExecContext(ctx,
		`UPDATE user_settings
		 SET threshold_minutes = ?, auto_refresh = ?, auto_redraft = ?, updated_at = ?
		 WHERE user_id = ?`,
		st.ThresholdMinutes, st.AutoRefresh, st.AutoRedraft, s.nowUnix(), userID,
	))
	if err != nil {
		return nil, err
	}
	return s.getSettings(ctx, userID)
}

func (s *Store) getSettings(ctx context.Context, userID int64) (*models.Settings, error) {
	var (
		st               models.Settings
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, threshold_minutes, auto_refresh, auto_redraft, created_at, updated_at
		 FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&st.UserID, &st.ThresholdMinutes, &st.AutoRefresh, &st.AutoRedraft, &created, &updated)
	if err != nil {
		return nil, err
	}
	st.CreatedAt, st.UpdatedAt = fromUnix(created), fromUnix(updated)
	return &st, nil
}

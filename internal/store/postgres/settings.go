package postgres

import (
	"context"
	"database/sql"

	"github.com/znz-systems/followup/internal/models"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetOrCreateSettings returns the user's settings, inserting the defaults on
// first access.
func (s *SettingsStore) GetOrCreateSettings(ctx context.Context, userID int64) (*models.Settings, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, threshold_minutes)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, models.DefaultThresholdMinutes,
	)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, userID)
}

func (s *SettingsStore) UpdateSettings(ctx context.Context, userID int64, p models.SettingsUpdateParams) (*models.Settings, error) {
	if _, err := s.GetOrCreateSettings(ctx, userID); err != nil {
		return nil, err
	}

	err := expectRow(s.db.ExecContext(ctx,
		`UPDATE user_settings
		 SET threshold_minutes = COALESCE($2::integer, threshold_minutes),
		     auto_refresh = COALESCE($3::boolean, auto_refresh),
		     auto_redraft = COALESCE($4::boolean, auto_redraft),
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID, nullInt(p.ThresholdMinutes), nullBool(p.AutoRefresh), nullBool(p.AutoRedraft),
	))
	if err != nil {
		return nil, err
	}
	return s.get(ctx, userID)
}

func (s *SettingsStore) get(ctx context.Context, userID int64) (*models.Settings, error) {
	st := &models.Settings{}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, threshold_minutes, auto_refresh, auto_redraft, created_at, updated_at
		 FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(&st.UserID, &st.ThresholdMinutes, &st.AutoRefresh, &st.AutoRedraft, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

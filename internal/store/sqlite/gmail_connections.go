package sqlite

import (
	"context"
	"time"

	"github.com/znz-systems/followup/internal/models"
)

const gmailConnectionColumns = `id, user_id, email, access_token, refresh_token, token_type, expires_at, connected, created_at, updated_at`

func (s *Store) UpsertGmailConnection(ctx context.Context, p models.GmailConnectionParams) (*models.GmailConnection, error) {
	now := s.nowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gmail_connections
			(user_id, email, access_token, refresh_token, token_type, expires_at, connected, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN gmail_connections.refresh_token
			                     ELSE excluded.refresh_token END,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			connected = 1,
			updated_at = excluded.updated_at`,
		p.UserID, p.Email, p.AccessToken, p.RefreshToken, p.TokenType, toUnix(p.ExpiresAt), now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetGmailConnectionByUserID(ctx, p.UserID)
}

func (s *Store) GetGmailConnectionByUserID(ctx context.Context, userID int64) (*models.GmailConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+gmailConnectionColumns+` FROM gmail_connections WHERE user_id = ? AND connected = 1`,
		userID,
	)
	return scanGmailConnection(row)
}

func (s *Store) ListGmailConnections(ctx context.Context) ([]models.GmailConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gmailConnectionColumns+` FROM gmail_connections WHERE connected = 1 ORDER BY user_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.GmailConnection
	for rows.Next() {
		c, err := scanGmailConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *Store) UpdateGmailTokens(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE gmail_connections
		 SET access_token = ?,
		     refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
		     expires_at = ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		accessToken, refreshToken, refreshToken, toUnix(expiresAt), s.nowUnix(), userID,
	))
}

func (s *Store) DisconnectGmail(ctx context.Context, userID int64) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE gmail_connections
		 SET connected = 0, access_token = '', refresh_token = '', updated_at = ?
		 WHERE user_id = ?`,
		s.nowUnix(), userID,
	))
}

func scanGmailConnection(row rowScanner) (*models.GmailConnection, error) {
	var (
		c                         models.GmailConnection
		expires, created, updated int64
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.AccessToken, &c.RefreshToken, &c.TokenType,
		&expires, &c.Connected, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.ExpiresAt, c.CreatedAt, c.UpdatedAt = fromUnix(expires), fromUnix(created), fromUnix(updated)
	return &c, nil
}

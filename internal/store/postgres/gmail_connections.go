package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/znz-systems/followup/internal/models"
)

const gmailConnectionColumns = `id, user_id, email, access_token, refresh_token, token_type, expires_at, connected, created_at, updated_at`

type GmailConnectionStore struct {
	db *sql.DB
}

func NewGmailConnectionStore(db *sql.DB) *GmailConnectionStore {
	return &GmailConnectionStore{db: db}
}

func (s *GmailConnectionStore) UpsertGmailConnection(ctx context.Context, p models.GmailConnectionParams) (*models.GmailConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO gmail_connections (user_id, email, access_token, refresh_token, token_type, expires_at, connected)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		 ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN gmail_connections.refresh_token
			                     ELSE EXCLUDED.refresh_token END,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			connected = TRUE,
			updated_at = NOW()
		 RETURNING `+gmailConnectionColumns,
		p.UserID, p.Email, p.AccessToken, p.RefreshToken, p.TokenType, nullTime(p.ExpiresAt),
	)
	return scanGmailConnection(row)
}

func (s *GmailConnectionStore) GetGmailConnectionByUserID(ctx context.Context, userID int64) (*models.GmailConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+gmailConnectionColumns+` FROM gmail_connections
		 WHERE user_id = $1 AND connected = TRUE`,
		userID,
	)
	return scanGmailConnection(row)
}

func (s *GmailConnectionStore) ListGmailConnections(ctx context.Context) ([]models.GmailConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gmailConnectionColumns+` FROM gmail_connections
		 WHERE connected = TRUE ORDER BY user_id ASC`,
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

func (s *GmailConnectionStore) UpdateGmailTokens(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE gmail_connections
		 SET access_token = $2,
		     refresh_token = CASE WHEN $3::text = '' THEN refresh_token ELSE $3::text END,
		     expires_at = $4,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID, accessToken, refreshToken, nullTime(expiresAt),
	))
}

func (s *GmailConnectionStore) DisconnectGmail(ctx context.Context, userID int64) error {
	return expectRow(s.db.ExecContext(ctx,
		`UPDATE gmail_connections
		 SET connected = FALSE, access_token = '', refresh_token = '', updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
	))
}

func scanGmailConnection(row rowScanner) (*models.GmailConnection, error) {
	var (
		c         models.GmailConnection
		expiresAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.AccessToken, &c.RefreshToken, &c.TokenType,
		&expiresAt, &c.Connected, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time
	}
	return &c, nil
}

package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/followup/internal/models"
)

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	now := s.now()
	user := &models.User{
		PublicID:     uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (public_id, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.PublicID.String(), user.Email, user.PasswordHash, toUnix(now), toUnix(now),
	)
	if err != nil {
		return nil, err
	}
	if user.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var (
		user             models.User
		publicID         string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, email, password_hash, created_at, updated_at FROM users `+where,
		arg,
	).Scan(&user.ID, &publicID, &user.Email, &user.PasswordHash, &created, &updated)
	if err != nil {
		return nil, err
	}
	if user.PublicID, err = uuid.Parse(publicID); err != nil {
		return nil, err
	}
	user.CreatedAt, user.UpdatedAt = fromUnix(created), fromUnix(updated)
	return &user, nil
}

func (s *Store) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) (*models.Session, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, userID, toUnix(expiresAt), toUnix(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Session{ID: id, Token: token, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now}, nil
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	var (
		session          models.Session
		expires, created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token, user_id, expires_at, created_at
		 FROM sessions WHERE token = ?`,
		token,
	).Scan(&session.ID, &session.Token, &session.UserID, &expires, &created)
	if err != nil {
		return nil, err
	}
	session.ExpiresAt, session.CreatedAt = fromUnix(expires), fromUnix(created)
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toUnix(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

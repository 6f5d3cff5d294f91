package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (streamgate.users).
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// FindByUsername loads a user (and credential hash) by normalized username.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (UserAuth, error) {
	norm := NormalizeUsername(username)
	if norm == "" {
		return UserAuth{}, ErrInvalidInput
	}

	var (
		ua       UserAuth
		status   string
		userType string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, status, user_type, max_devices, last_login, created_at
		FROM streamgate.users
		WHERE username_norm = $1
	`, norm).Scan(
		&ua.User.ID,
		&ua.User.Username,
		&ua.PasswordHash,
		&status,
		&userType,
		&ua.User.MaxDevices,
		&ua.User.LastLogin,
		&ua.User.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, ErrNotFound
	}
	if err != nil {
		return UserAuth{}, err
	}

	ua.User.Status = Status(status)
	ua.User.UserType = UserType(userType)
	return ua, nil
}

// RecordLogin stamps last_login for the user.
func (s *PostgresStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streamgate.users
		SET last_login = $2
		WHERE id = $1
	`, userID, at)
	return err
}

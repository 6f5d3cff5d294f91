package session

import (
	"context"
	"errors"
	"hash/fnv"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (streamgate.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindActiveByToken loads the active session for a token digest.
func (s *PostgresStore) FindActiveByToken(ctx context.Context, tokenHash string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT id, user_id, device_id, token_hash,
		       user_agent, ip, created_at, last_activity_at, active
		FROM streamgate.sessions
		WHERE token_hash = $1 AND active
	`, tokenHash))
}

// FindActiveByUser lists a user's active sessions ordered by creation time.
func (s *PostgresStore) FindActiveByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, token_hash,
		       user_agent, ip, created_at, last_activity_at, active
		FROM streamgate.sessions
		WHERE user_id = $1 AND active
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Insert persists a new session row. user_agent and ip are NOT NULL text
// columns, so absent values are stored as empty strings.
func (s *PostgresStore) Insert(ctx context.Context, sess Session) error {
	var ip string
	if sess.IP != nil {
		ip = sess.IP.String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO streamgate.sessions (
			id, user_id, device_id, token_hash,
			user_agent, ip, created_at, last_activity_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.UserID, sess.DeviceID, sess.TokenHash,
		sess.UserAgent, ip, sess.CreatedAt, sess.LastActivityAt, sess.Active)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// Deactivate marks a session inactive (idempotent).
func (s *PostgresStore) Deactivate(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streamgate.sessions
		SET active = false,
		    deactivated_at = COALESCE(deactivated_at, $2)
		WHERE id = $1
	`, sessionID, now)
	return err
}

// Touch advances last_activity_at; the active guard keeps expiry one-way.
func (s *PostgresStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streamgate.sessions
		SET last_activity_at = $2
		WHERE id = $1 AND active
	`, sessionID, now)
	return err
}

// DeactivateExpired bulk-deactivates idle and over-age sessions.
func (s *PostgresStore) DeactivateExpired(ctx context.Context, idleBefore, createdBefore, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE streamgate.sessions
		SET active = false,
		    deactivated_at = COALESCE(deactivated_at, $3)
		WHERE active
		  AND (last_activity_at < $1 OR created_at < $2)
	`, idleBefore, createdBefore, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// WithUserLock serializes admission per user with a session-scoped advisory
// lock held on a dedicated connection. Writes inside fn autocommit, so they
// are visible to the next lock holder before the lock is released.
func (s *PostgresStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	key := advisoryKey(userID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return err
	}
	defer func() {
		// Unlock on the same connection; on failure the lock dies with the
		// session when the connection is destroyed.
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, key)
	}()

	return fn(ctx)
}

// advisoryKey maps a user id into the 64-bit advisory lock keyspace.
// The namespace constant keeps streamgate locks clear of other users of
// advisory locks on the same database.
func advisoryKey(userID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("streamgate.admission:"))
	_, _ = h.Write([]byte(userID))
	return int64(h.Sum64()) // #nosec G115 -- wraparound is fine for a lock key.
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess Session
		ip   string
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.DeviceID,
		&sess.TokenHash,
		&sess.UserAgent,
		&ip,
		&sess.CreatedAt,
		&sess.LastActivityAt,
		&sess.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.IP = net.ParseIP(ip)
	return sess, nil
}

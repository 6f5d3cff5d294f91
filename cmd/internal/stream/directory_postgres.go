package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads stream assignments from streamgate.streams.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) FindActiveByUser(ctx context.Context, userID string) (Assignment, error) {
	const q = `
SELECT id, user_id, url, active, created_at
FROM streamgate.streams
WHERE user_id = $1 AND active
ORDER BY created_at DESC
LIMIT 1`

	var a Assignment
	row := d.pool.QueryRow(ctx, q, userID)
	if err := row.Scan(&a.ID, &a.UserID, &a.URL, &a.Active, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNoStreamAssigned
		}
		return Assignment{}, fmt.Errorf("stream: find assignment: %w", err)
	}
	return a, nil
}

package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when STREAMGATE_TEST_DATABASE_URL is set.
// The target database must have the streamgate schema applied (cmd/internal/app/migrations).

func pgTestPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("STREAMGATE_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("STREAMGATE_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func pgSeedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, maxDevices int) string {
	t.Helper()

	userID := ulid.Make().String()
	uname := "it-" + userID
	_, err := pool.Exec(ctx, `
		INSERT INTO streamgate.users (id, username, username_norm, password_hash, status, user_type, max_devices)
		VALUES ($1, $2, $2, 'x', 'active', 'user', $3)
	`, userID, uname, maxDevices)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM streamgate.sessions WHERE user_id = $1`, userID)
		_, _ = pool.Exec(context.Background(), `DELETE FROM streamgate.users WHERE id = $1`, userID)
	})
	return userID
}

func TestPostgresSessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := pgTestPool(ctx, t)
	store := NewPostgresStore(pool)
	userID := pgSeedUser(ctx, t, pool, 2)

	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := Session{
		ID:             ulid.Make().String(),
		UserID:         userID,
		DeviceID:       "it-dev-a",
		TokenHash:      "it-digest-" + ulid.Make().String(),
		UserAgent:      "streamgate-test/1.0",
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}

	if err := store.Insert(ctx, sess); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.FindActiveByToken(ctx, sess.TokenHash)
	if err != nil {
		t.Fatalf("FindActiveByToken: %v", err)
	}
	if got.UserID != userID || got.DeviceID != "it-dev-a" {
		t.Fatalf("unexpected row: %+v", got)
	}
	// A login without a resolvable client address stores an empty ip and
	// reads back as nil.
	if got.IP != nil {
		t.Fatalf("want nil IP for absent address, got %v", got.IP)
	}
	if got.UserAgent != "streamgate-test/1.0" {
		t.Fatalf("user agent did not round-trip: %q", got.UserAgent)
	}

	if err := store.Touch(ctx, sess.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	if err := store.Deactivate(ctx, sess.ID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := store.FindActiveByToken(ctx, sess.TokenHash); err != ErrSessionNotFound {
		t.Fatalf("want ErrSessionNotFound after deactivation, got %v", err)
	}

	// Touch on an inactive session must not revive it.
	if err := store.Touch(ctx, sess.ID, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("Touch inactive: %v", err)
	}
	if _, err := store.FindActiveByToken(ctx, sess.TokenHash); err != ErrSessionNotFound {
		t.Fatalf("inactive session revived by Touch")
	}
}

func TestPostgresInsertDigestConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := pgTestPool(ctx, t)
	store := NewPostgresStore(pool)
	userID := pgSeedUser(ctx, t, pool, 2)

	now := time.Now().UTC()
	digest := "it-conflict-" + ulid.Make().String()

	a := Session{ID: ulid.Make().String(), UserID: userID, DeviceID: "A", TokenHash: digest, CreatedAt: now, LastActivityAt: now, Active: true}
	b := Session{ID: ulid.Make().String(), UserID: userID, DeviceID: "B", TokenHash: digest, CreatedAt: now, LastActivityAt: now, Active: true}

	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if err := store.Insert(ctx, b); err != ErrConflict {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestPostgresUserLockSerializesAdmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := pgTestPool(ctx, t)
	store := NewPostgresStore(pool)
	userID := pgSeedUser(ctx, t, pool, 1)

	start := make(chan struct{})
	results := make(chan int, 2)

	// Both goroutines count active sessions and insert only when below the
	// limit; the advisory lock must make this read-modify-write atomic.
	for i := 0; i < 2; i++ {
		go func(i int) {
			<-start
			_ = store.WithUserLock(ctx, userID, func(ctx context.Context) error {
				active, err := store.FindActiveByUser(ctx, userID)
				if err != nil {
					results <- -1
					return err
				}
				if len(active) >= 1 {
					results <- 0
					return nil
				}
				now := time.Now().UTC()
				sess := Session{
					ID:             ulid.Make().String(),
					UserID:         userID,
					DeviceID:       "racer",
					TokenHash:      "it-race-" + ulid.Make().String(),
					CreatedAt:      now,
					LastActivityAt: now,
					Active:         true,
				}
				if err := store.Insert(ctx, sess); err != nil {
					results <- -1
					return err
				}
				results <- 1
				return nil
			})
		}(i)
	}

	close(start)
	total := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r < 0 {
			t.Fatal("store error during race")
		}
		total += r
	}
	if total != 1 {
		t.Fatalf("exactly one admission expected, got %d", total)
	}

	active, err := store.FindActiveByUser(ctx, userID)
	if err != nil {
		t.Fatalf("FindActiveByUser: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("want 1 active session, got %d", len(active))
	}
}

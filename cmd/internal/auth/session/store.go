package session

import (
	"context"
	"time"
)

// Store abstracts persistence for session state.
//
// Contract notes:
//   - Deactivation is one-way: an inactive session must never become active
//     again, and Touch must be a no-op on inactive rows ("expired wins" when a
//     sweep races a heartbeat).
//   - Insert must fail with ErrConflict on a token-digest collision.
//   - WithUserLock provides the per-user serialization point for the
//     admission decision; lookups and writes on other users proceed in
//     parallel.
type Store interface {
	// FindActiveByToken loads the active session for a token digest.
	// Returns ErrSessionNotFound when absent or inactive.
	FindActiveByToken(ctx context.Context, tokenHash string) (Session, error)

	// FindActiveByUser lists a user's currently active sessions.
	FindActiveByUser(ctx context.Context, userID string) ([]Session, error)

	// Insert persists a new active session.
	Insert(ctx context.Context, s Session) error

	// Deactivate marks a session inactive (idempotent; never errors on an
	// already-inactive or unknown id).
	Deactivate(ctx context.Context, sessionID string, now time.Time) error

	// Touch advances last_activity_at on a still-active session.
	Touch(ctx context.Context, sessionID string, now time.Time) error

	// DeactivateExpired bulk-deactivates sessions idle since before
	// idleBefore or created before createdBefore, returning the count.
	DeactivateExpired(ctx context.Context, idleBefore, createdBefore, now time.Time) (int64, error)

	// WithUserLock runs fn while holding an exclusive per-user admission
	// lock. The lock must be held across processes for shared backends.
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

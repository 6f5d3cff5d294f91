package identity

import (
	"context"
	"time"
)

// Store is the credential-store boundary.
//
// The session manager depends on exactly these two operations: a lookup by
// username for login, and recording last-login metadata after a successful
// admission. Everything else about user records is owned elsewhere.
type Store interface {
	// FindByUsername returns the user and stored credential for a
	// (normalized) username. Returns ErrNotFound when absent.
	FindByUsername(ctx context.Context, username string) (UserAuth, error)

	// RecordLogin stamps last_login for the user. Best-effort from the
	// caller's perspective; a failure must not invalidate the login.
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

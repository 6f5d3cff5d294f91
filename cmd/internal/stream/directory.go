package stream

import (
	"context"
	"time"
)

// Assignment maps a user to the media stream they are entitled to watch.
// URL is the origin reference and must never leave the server in plaintext.
type Assignment struct {
	ID        string
	UserID    string
	URL       string
	Active    bool
	CreatedAt time.Time
}

// Directory looks up stream assignments. Implementations are safe for
// concurrent use.
type Directory interface {
	// FindActiveByUser returns the user's active assignment, or
	// ErrNoStreamAssigned when none exists.
	FindActiveByUser(ctx context.Context, userID string) (Assignment, error)
}

package stream

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryDirectory is an in-memory Directory for development and tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	byUser map[string]Assignment
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byUser: make(map[string]Assignment)}
}

// Assign records an active assignment for the user, replacing any prior one.
func (d *MemoryDirectory) Assign(userID, url string) Assignment {
	a := Assignment{
		ID:        ulid.Make().String(),
		UserID:    userID,
		URL:       url,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	d.mu.Lock()
	d.byUser[userID] = a
	d.mu.Unlock()
	return a
}

func (d *MemoryDirectory) FindActiveByUser(_ context.Context, userID string) (Assignment, error) {
	d.mu.RLock()
	a, ok := d.byUser[userID]
	d.mu.RUnlock()
	if !ok || !a.Active {
		return Assignment{}, ErrNoStreamAssigned
	}
	return a, nil
}

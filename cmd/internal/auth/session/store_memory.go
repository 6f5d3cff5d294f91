package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
//
// Data access and the per-user admission locks are deliberately separate:
// holding a user's admission lock must not block verifies on other users'
// tokens.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byDigest map[string]string // token hash -> session id

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Session),
		byDigest:  make(map[string]string),
		userLocks: make(map[string]*sync.Mutex),
	}
}

// FindActiveByToken implements Store.
func (m *MemoryStore) FindActiveByToken(ctx context.Context, tokenHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDigest[tokenHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s := m.byID[id]
	if s == nil || !s.Active {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// FindActiveByUser implements Store. Results are ordered by creation time.
func (m *MemoryStore) FindActiveByUser(ctx context.Context, userID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.byID {
		if s.UserID == userID && s.Active {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byDigest[s.TokenHash]; exists {
		return ErrConflict
	}
	if _, exists := m.byID[s.ID]; exists {
		return ErrConflict
	}

	cp := s
	m.byID[s.ID] = &cp
	m.byDigest[s.TokenHash] = s.ID
	return nil
}

// Deactivate implements Store. One-way and idempotent.
func (m *MemoryStore) Deactivate(ctx context.Context, sessionID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[sessionID]; ok {
		s.Active = false
	}
	return nil
}

// Touch implements Store. No-op on inactive sessions so an expiry racing a
// heartbeat always resolves to expired.
func (m *MemoryStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[sessionID]; ok && s.Active {
		s.LastActivityAt = now
	}
	return nil
}

// DeactivateExpired implements Store.
func (m *MemoryStore) DeactivateExpired(ctx context.Context, idleBefore, createdBefore, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.byID {
		if !s.Active {
			continue
		}
		if s.LastActivityAt.Before(idleBefore) || s.CreatedAt.Before(createdBefore) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

// WithUserLock implements Store with a lazily created per-user mutex.
func (m *MemoryStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lockMu.Lock()
	lk := m.userLocks[userID]
	if lk == nil {
		lk = &sync.Mutex{}
		m.userLocks[userID] = lk
	}
	m.lockMu.Unlock()

	lk.Lock()
	defer lk.Unlock()

	return fn(ctx)
}

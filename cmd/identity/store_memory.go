package identity

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*UserAuth // keyed by normalized username
	byID  map[string]*UserAuth
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*UserAuth),
		byID:  make(map[string]*UserAuth),
	}
}

// SeedInput describes a user to provision in the memory store.
type SeedInput struct {
	Username   string
	Password   string
	Status     Status
	UserType   UserType
	MaxDevices int
}

// Seed provisions a user with a freshly hashed password and returns it.
func (s *MemoryStore) Seed(in SeedInput) (User, error) {
	norm := NormalizeUsername(in.Username)
	if norm == "" || in.Password == "" {
		return User{}, ErrInvalidInput
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if in.UserType == "" {
		in.UserType = UserTypeUser
	}
	if in.MaxDevices < 1 {
		in.MaxDevices = 1
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[norm]; exists {
		return User{}, ErrConflict
	}

	ua := &UserAuth{
		User: User{
			ID:         ulid.Make().String(),
			Username:   in.Username,
			Status:     in.Status,
			UserType:   in.UserType,
			MaxDevices: in.MaxDevices,
			CreatedAt:  time.Now().UTC(),
		},
		PasswordHash: hash,
	}
	s.users[norm] = ua
	s.byID[ua.User.ID] = ua
	return ua.User, nil
}

// SetStatus flips an account's status (test helper for the inactive path).
func (s *MemoryStore) SetStatus(userID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ua, ok := s.byID[userID]; ok {
		ua.User.Status = status
	}
}

// FindByUsername implements Store.
func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ua, ok := s.users[NormalizeUsername(username)]
	if !ok {
		return UserAuth{}, ErrNotFound
	}
	return *ua, nil
}

// RecordLogin implements Store.
func (s *MemoryStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	t := at
	ua.User.LastLogin = &t
	return nil
}

package identity

import "time"

// Status is the account lifecycle state.
type Status string

const (
	// StatusActive allows logins.
	StatusActive Status = "active"
	// StatusInactive blocks logins; existing sessions keep their own lifecycle.
	StatusInactive Status = "inactive"
)

// UserType distinguishes operator accounts from viewers.
type UserType string

const (
	UserTypeAdmin UserType = "admin"
	UserTypeUser  UserType = "user"
)

// User is streamgate's canonical security principal.
type User struct {
	ID       string
	Username string
	Status   Status
	UserType UserType

	// MaxDevices is the per-account concurrency limit (>= 1).
	MaxDevices int

	LastLogin *time.Time
	CreatedAt time.Time
}

// UserAuth pairs a user with its stored credential hash.
// IMPORTANT: PasswordHash must never cross the API boundary.
type UserAuth struct {
	User         User
	PasswordHash string
}

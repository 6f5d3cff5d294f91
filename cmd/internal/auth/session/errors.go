package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when the login username matches no account.
	// API layers must collapse this with ErrBadCredential before presenting.
	ErrUserNotFound = errors.New("user not found")

	// ErrBadCredential is returned when the password does not verify.
	ErrBadCredential = errors.New("bad credential")

	// ErrAccountInactive is returned when the account status blocks logins.
	ErrAccountInactive = errors.New("account inactive")

	// ErrDeviceLimit is returned when admission would exceed the account's
	// device limit. Usually carried inside a DeviceLimitError.
	ErrDeviceLimit = errors.New("device limit exceeded")

	// ErrSessionNotFound is returned when a token digest matches no active session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable is returned when a collaborator store timed out or
	// failed; callers may retry with bounded attempts.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict is returned on a storage uniqueness conflict (token digest
	// collision or a lost admission race); retryable with backoff.
	ErrConflict = errors.New("conflict")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// DeviceLimitError carries the blocking device for user-facing diagnostics.
// The device identifier is client-supplied and not security-sensitive.
type DeviceLimitError struct {
	BlockingDeviceID string
	Limit            int
}

func (e DeviceLimitError) Error() string {
	if e.BlockingDeviceID == "" {
		return ErrDeviceLimit.Error()
	}
	return fmt.Sprintf("%s: active session on device %s", ErrDeviceLimit.Error(), e.BlockingDeviceID)
}

func (e DeviceLimitError) Unwrap() error { return ErrDeviceLimit }

package session

import (
	"net"
	"time"
)

// Device describes the client device presenting a login or a token.
//
// ID is client-supplied and advisory: it approximates "one concurrent login
// per physical device" but is not a cryptographic identity and equality must
// never be treated as proof of the same physical device.
type Device struct {
	ID        string
	UserAgent string
	IP        net.IP
}

// Session mirrors the streamgate.sessions row.
// IMPORTANT: TokenHash is the stored digest; the plain token is never persisted.
type Session struct {
	ID       string
	UserID   string
	DeviceID string

	TokenHash string

	UserAgent string
	IP        net.IP

	CreatedAt      time.Time
	LastActivityAt time.Time

	Active bool
}

// IdleDeadline returns the instant the session expires without activity.
func (s Session) IdleDeadline(idleTimeout time.Duration) time.Time {
	return s.LastActivityAt.Add(idleTimeout)
}

// HardDeadline returns the instant the session exceeds its absolute lifetime.
func (s Session) HardDeadline(maxLifetime time.Duration) time.Time {
	return s.CreatedAt.Add(maxLifetime)
}

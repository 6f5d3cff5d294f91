// Package device handles the client-supplied device identifier used as the
// binding key for the one-session-per-device rule.
//
// A device id is produced once per client, persisted client-side, and reused
// across logins. It is purely advisory: clients can fabricate it, so equality
// is a coarse concurrency-limiting key, never proof of the same physical
// device and never an authentication factor. Do not upgrade its trust level.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"strings"
)

const (
	// MaxIDLength bounds stored identifiers; client generators in the wild
	// produce 40-60 chars.
	MaxIDLength = 128

	derivedPrefix = "dev_"
)

// ErrInvalidID is returned for identifiers that cannot be stored as-is.
var ErrInvalidID = errors.New("invalid device id")

// Normalize validates and canonicalizes a client-supplied device id.
// Returns ErrInvalidID for empty, oversized, or non-printable input.
func Normalize(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > MaxIDLength {
		return "", ErrInvalidID
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return "", ErrInvalidID
		}
	}
	return id, nil
}

// Derive builds a fallback identifier for clients that present none, from
// whatever stable-ish request attributes exist (user agent, remote IP).
// Strictly worse than a client-persisted id: NAT peers collide and a single
// client roaming networks splits. Good enough to keep the admission rule
// meaningful for primitive clients.
func Derive(userAgent string, ip net.IP) string {
	h := sha256.New()
	_, _ = h.Write([]byte(strings.TrimSpace(userAgent)))
	_, _ = h.Write([]byte{0})
	if ip != nil {
		_, _ = h.Write([]byte(ip.String()))
	}
	return derivedPrefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// FromRequest resolves the effective device id: a valid client-supplied id
// wins, otherwise one is derived.
func FromRequest(supplied, userAgent string, ip net.IP) string {
	if id, err := Normalize(supplied); err == nil {
		return id
	}
	return Derive(userAgent, ip)
}

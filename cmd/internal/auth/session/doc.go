// Package session implements streamgate's session admission and lifecycle.
//
// It owns the device-concurrency rule: an account may hold at most
// MaxDevices simultaneously active sessions, and a login at the limit is
// admitted only when it supersedes an existing session on the same device.
// Tokens are opaque random strings stored server-side only as digests.
// Sessions are deactivated by logout, idle timeout, or absolute lifetime;
// they are never deleted and never resurrected.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session

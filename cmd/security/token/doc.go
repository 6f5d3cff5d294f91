// Package token provides digest helpers for session tokens.
//
// It is the single source of truth for session-token hashing behavior:
// clients hold the opaque plain token, the server persists only a digest.
//
// Design goals:
// - Default dev/back-compat mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
// - Stable 64-char hex output for storage and indexed lookup.
//
// Environment:
// - STREAMGATE_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token

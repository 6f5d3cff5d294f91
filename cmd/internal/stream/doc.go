// Package stream gates access to each user's assigned media stream.
//
// The stored stream reference (an origin URL) is treated as a secret: it is
// never placed in a client-readable response, log line, or URL in plaintext.
// Clients receive sealed handles (AES-256-GCM envelopes bound to the owning
// user) and redeem them through a server-side proxy that fetches the origin
// and streams bytes through. HLS playlists are rewritten so every nested
// reference is re-sealed through the same gate before reaching the client.
package stream

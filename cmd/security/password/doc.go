// Package password implements credential hashing and verification for streamgate.
//
// Hashes are Argon2id in PHC string format. Verification is constant-time in
// the derived key comparison and bounded against attacker-controlled hash
// parameters (anti-DoS). The rest of the system only needs a verifiable,
// timing-safe credential check; the concrete KDF lives here so nothing else
// touches hash internals.
package password

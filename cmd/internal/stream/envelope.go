package stream

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
)

// EnvStreamKey configures the 32-byte hex-encoded sealing key.
const EnvStreamKey = "STREAMGATE_STREAM_KEY_HEX"

const keyBytes = 32

// Envelope seals and opens opaque stream handles with AES-256-GCM.
// The owning user's id is bound as associated data, so a handle sealed
// for one user fails to open for any other.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope builds an Envelope from a 32-byte key.
func NewEnvelope(key []byte) (*Envelope, error) {
	if len(key) != keyBytes {
		return nil, fmt.Errorf("%w: stream key must be %d bytes, got %d", ErrConfig, keyBytes, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &Envelope{aead: aead}, nil
}

// NewEnvelopeFromEnv reads the hex key from EnvStreamKey. Returns ErrConfig
// when the variable is missing or malformed.
func NewEnvelopeFromEnv() (*Envelope, error) {
	raw := os.Getenv(EnvStreamKey)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrConfig, EnvStreamKey)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid hex", ErrConfig, EnvStreamKey)
	}
	return NewEnvelope(key)
}

// Seal wraps a stream reference into an opaque handle bound to userID.
// The output is base64url(nonce || ciphertext) and carries no recoverable
// plaintext.
func (e *Envelope) Seal(userID, ref string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("stream: seal handle: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(ref), []byte(userID))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open recovers the stream reference from a handle sealed for userID.
// Any tampering, truncation, wrong key, or wrong user yields ErrBadHandle.
func (e *Envelope) Open(userID, handle string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return "", ErrBadHandle
	}
	ns := e.aead.NonceSize()
	if len(sealed) < ns+e.aead.Overhead() {
		return "", ErrBadHandle
	}
	plain, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(userID))
	if err != nil {
		return "", ErrBadHandle
	}
	return string(plain), nil
}

package stream

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	e, err := NewEnvelope(key)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return e
}

func TestSealOpenRoundTrip(t *testing.T) {
	e := testEnvelope(t)
	const ref = "https://origin.internal/live/user42/index.m3u8"

	h, err := e.Seal("user42", ref)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := e.Open("user42", h)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != ref {
		t.Fatalf("Open = %q, want %q", got, ref)
	}
}

func TestHandleIsOpaque(t *testing.T) {
	e := testEnvelope(t)
	const ref = "https://origin.internal/live/user42/index.m3u8"

	h, err := e.Seal("user42", ref)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(h, "origin.internal") || strings.Contains(h, "user42") {
		t.Fatalf("handle leaks plaintext: %q", h)
	}
	raw, err := base64.RawURLEncoding.DecodeString(h)
	if err != nil {
		t.Fatalf("handle is not base64url: %v", err)
	}
	if bytes.Contains(raw, []byte("origin.internal")) {
		t.Fatal("decoded handle contains the raw reference")
	}
}

func TestOpenRejectsWrongUser(t *testing.T) {
	e := testEnvelope(t)
	h, err := e.Seal("user42", "https://origin.internal/a.m3u8")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := e.Open("user99", h); !errors.Is(err, ErrBadHandle) {
		t.Fatalf("Open with wrong user: err = %v, want ErrBadHandle", err)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	e := testEnvelope(t)
	h, err := e.Seal("user42", "https://origin.internal/a.m3u8")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	raw, _ := base64.RawURLEncoding.DecodeString(h)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	cases := map[string]string{
		"flipped bit": tampered,
		"truncated":   h[:len(h)/2],
		"garbage":     "not-a-handle",
		"empty":       "",
	}
	for name, in := range cases {
		if _, err := e.Open("user42", in); !errors.Is(err, ErrBadHandle) {
			t.Errorf("%s: err = %v, want ErrBadHandle", name, err)
		}
	}
}

func TestOpenRejectsForeignKey(t *testing.T) {
	a := testEnvelope(t)
	b, err := NewEnvelope(bytes.Repeat([]byte{0x17}, 32))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	h, err := a.Seal("user42", "https://origin.internal/a.m3u8")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b.Open("user42", h); !errors.Is(err, ErrBadHandle) {
		t.Fatalf("Open under other key: err = %v, want ErrBadHandle", err)
	}
}

func TestNewEnvelopeRejectsBadKey(t *testing.T) {
	if _, err := NewEnvelope([]byte("short")); !errors.Is(err, ErrConfig) {
		t.Fatalf("short key: err = %v, want ErrConfig", err)
	}
}

func TestNewEnvelopeFromEnv(t *testing.T) {
	t.Setenv(EnvStreamKey, "")
	if _, err := NewEnvelopeFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing key: err = %v, want ErrConfig", err)
	}

	t.Setenv(EnvStreamKey, "zz")
	if _, err := NewEnvelopeFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad hex: err = %v, want ErrConfig", err)
	}

	t.Setenv(EnvStreamKey, strings.Repeat("ab", 32))
	if _, err := NewEnvelopeFromEnv(); err != nil {
		t.Fatalf("valid key: %v", err)
	}
}

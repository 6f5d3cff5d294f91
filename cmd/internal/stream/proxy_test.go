package stream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamgate/cmd/internal/auth/session"
)

type staticVerifier struct {
	valid  bool
	userID string
}

func (v staticVerifier) Verify(context.Context, string, string, time.Time) (session.Verification, error) {
	return session.Verification{Valid: v.valid, UserID: v.userID, SessionID: "sess1"}, nil
}

func testGate(t *testing.T, dir Directory) *Gate {
	t.Helper()
	env, err := NewEnvelope(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return NewGate(slog.New(slog.NewTextHandler(io.Discard, nil)), dir, env)
}

func TestProxyRewritesPlaylist(t *testing.T) {
	const playlist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-KEY:METHOD=AES-128,URI="keys/ep1.key",IV=0x1234
#EXTINF:6.0,
seg/00001.ts
#EXTINF:6.0,
seg/00002.ts
#EXT-X-ENDLIST
`
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, playlist)
	}))
	defer origin.Close()

	dir := NewMemoryDirectory()
	dir.Assign("user42", origin.URL+"/live/index.m3u8")
	gate := testGate(t, dir)
	proxy := NewProxy(slog.New(slog.NewTextHandler(io.Discard, nil)), gate, staticVerifier{valid: true, userID: "user42"}, "/stream/play", origin.Client(), nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/play", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.NotContains(t, body, origin.URL, "origin URL must not leak")
	assert.NotContains(t, body, "seg/00001.ts")
	assert.NotContains(t, body, `URI="keys/ep1.key"`)
	assert.Contains(t, body, "#EXT-X-VERSION:3")
	assert.Contains(t, body, "#EXT-X-ENDLIST")

	var sealed []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "/stream/play?") {
			sealed = append(sealed, line)
		}
	}
	require.Len(t, sealed, 2, "both segments rewritten to proxy URLs")

	u, err := url.Parse(sealed[0])
	require.NoError(t, err)
	ref, err := gate.Open("user42", u.Query().Get("h"))
	require.NoError(t, err)
	assert.Equal(t, origin.URL+"/live/seg/00001.ts", ref)
}

func TestProxyRelaysSegmentBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0xA7}, 256)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write(payload)
	}))
	defer origin.Close()

	gate := testGate(t, NewMemoryDirectory())
	var counted int64
	proxy := NewProxy(slog.New(slog.NewTextHandler(io.Discard, nil)), gate, staticVerifier{valid: true, userID: "user42"}, "/stream/play", origin.Client(), func(n int64) { counted += n })

	handle, err := gate.envelope.Seal("user42", origin.URL+"/seg/00001.ts")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/stream/play?h="+url.QueryEscape(handle), nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, int64(len(payload)), counted)
}

func TestProxyRejectsInvalidSession(t *testing.T) {
	gate := testGate(t, NewMemoryDirectory())
	proxy := NewProxy(slog.New(slog.NewTextHandler(io.Discard, nil)), gate, staticVerifier{valid: false}, "/stream/play", nil, nil)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/play", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyRejectsForeignHandle(t *testing.T) {
	gate := testGate(t, NewMemoryDirectory())
	proxy := NewProxy(slog.New(slog.NewTextHandler(io.Discard, nil)), gate, staticVerifier{valid: true, userID: "user99"}, "/stream/play", nil, nil)

	handle, err := gate.envelope.Seal("user42", "https://origin.internal/a.ts")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/play?h="+url.QueryEscape(handle), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyNoAssignment(t *testing.T) {
	gate := testGate(t, NewMemoryDirectory())
	proxy := NewProxy(slog.New(slog.NewTextHandler(io.Discard, nil)), gate, staticVerifier{valid: true, userID: "user42"}, "/stream/play", nil, nil)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/play", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyPropagatesQueryCredentials(t *testing.T) {
	const playlist = "#EXTM3U\nseg.ts\n"
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-mpegURL")
		io.WriteString(w, playlist)
	}))
	defer origin.Close()

	dir := NewMemoryDirectory()
	dir.Assign("user42", origin.URL+"/index.m3u8")
	gate := testGate(t, dir)
	proxy := NewProxy(slog.New(slog.NewTextHandler(io.Discard, nil)), gate, staticVerifier{valid: true, userID: "user42"}, "/stream/play", origin.Client(), nil)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/play?token=tok&device_id=devA", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "token=tok")
	assert.Contains(t, body, "device_id=devA")
}

func TestGateResolveSealsAssignment(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.Assign("user42", "https://origin.internal/live/index.m3u8")
	gate := testGate(t, dir)

	h, err := gate.Resolve(context.Background(), "user42")
	require.NoError(t, err)
	assert.NotContains(t, h, "origin.internal")

	ref, err := gate.Open("user42", h)
	require.NoError(t, err)
	assert.Equal(t, "https://origin.internal/live/index.m3u8", ref)

	_, err = gate.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoStreamAssigned)
}

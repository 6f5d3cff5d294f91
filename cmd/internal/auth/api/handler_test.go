package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamgate/cmd/identity"
	"streamgate/cmd/internal/auth/session"
	"streamgate/cmd/internal/stream"
)

type env struct {
	users  *identity.MemoryStore
	dir    *stream.MemoryDirectory
	server *httptest.Server
	user   identity.User
}

func newEnv(t *testing.T, maxDevices int) *env {
	t.Helper()
	t.Setenv("STREAMGATE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("STREAMGATE_ARGON2_ITERATIONS", "1")

	users := identity.NewMemoryStore()
	u, err := users.Seed(identity.SeedInput{
		Username:   "viewer1",
		Password:   "hunter2hunter2",
		MaxDevices: maxDevices,
	})
	require.NoError(t, err)

	mgr := session.NewManager(session.DefaultConfig(), nil, users, session.NewMemoryStore())

	envlp, err := stream.NewEnvelope(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	dir := stream.NewMemoryDirectory()
	gate := stream.NewGate(nil, dir, envlp)

	cfg := LoadConfigFromEnv()
	h := NewHandler(nil, cfg, session.DefaultConfig(), mgr, gate)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &env{users: users, dir: dir, server: srv, user: u}
}

func (e *env) post(t *testing.T, path string, body any, headers map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var fields map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fields))
	return resp, fields
}

func (e *env) login(t *testing.T, deviceID string) (string, int) {
	t.Helper()
	resp, fields := e.post(t, "/auth/login", map[string]string{
		"username":  "viewer1",
		"password":  "hunter2hunter2",
		"device_id": deviceID,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode
	}
	var token string
	require.NoError(t, json.Unmarshal(fields["token"], &token))
	return token, resp.StatusCode
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestLoginReturnsGrant(t *testing.T) {
	e := newEnv(t, 2)

	resp, fields := e.post(t, "/auth/login", map[string]string{
		"username":  "viewer1",
		"password":  "hunter2hunter2",
		"device_id": "devA",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEmpty(t, str(t, fields["token"]))
	assert.NotEmpty(t, str(t, fields["session_id"]))
	assert.Equal(t, "devA", str(t, fields["device_id"]))

	var user map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(fields["user"], &user))
	assert.Equal(t, e.user.ID, str(t, user["id"]))
}

func TestLoginDerivesStableDeviceFromClient(t *testing.T) {
	e := newEnv(t, 1)
	headers := map[string]string{"User-Agent": "player/1.0"}

	resp, fields := e.post(t, "/auth/login", map[string]string{
		"username": "viewer1",
		"password": "hunter2hunter2",
	}, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := str(t, fields["device_id"])
	require.NotEmpty(t, first)

	// Same client fingerprint derives the same device, so the re-login
	// supersedes rather than tripping the single-device limit.
	resp, fields = e.post(t, "/auth/login", map[string]string{
		"username": "viewer1",
		"password": "hunter2hunter2",
	}, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first, str(t, fields["device_id"]))
}

func TestLoginHidesUserExistence(t *testing.T) {
	e := newEnv(t, 1)

	resp1, f1 := e.post(t, "/auth/login", map[string]string{
		"username": "nobody", "password": "whatever-pass", "device_id": "devA",
	}, nil)
	resp2, f2 := e.post(t, "/auth/login", map[string]string{
		"username": "viewer1", "password": "wrong-password", "device_id": "devA",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	// Identical bodies for unknown user and wrong password.
	assert.Equal(t, string(f1["error"]), string(f2["error"]))
}

func TestLoginDeviceLimitConflict(t *testing.T) {
	e := newEnv(t, 1)

	_, code := e.login(t, "devA")
	require.Equal(t, http.StatusOK, code)

	resp, fields := e.post(t, "/auth/login", map[string]string{
		"username": "viewer1", "password": "hunter2hunter2", "device_id": "devB",
	}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var detail map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(fields["error"], &detail))
	assert.Equal(t, "device_limit", str(t, detail["code"]))
	assert.Equal(t, "devA", str(t, detail["blocking_device_id"]))
}

func TestVerifyAndDeviceBinding(t *testing.T) {
	e := newEnv(t, 1)
	token, code := e.login(t, "devA")
	require.Equal(t, http.StatusOK, code)

	resp, fields := e.post(t, "/auth/verify", map[string]string{
		"token": token, "device_id": "devA",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", string(fields["valid"]))

	resp, fields = e.post(t, "/auth/verify", map[string]string{
		"token": token, "device_id": "devB",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "false", string(fields["valid"]))
}

func TestLogoutIsIdempotent(t *testing.T) {
	e := newEnv(t, 1)
	token, code := e.login(t, "devA")
	require.Equal(t, http.StatusOK, code)

	for i := 0; i < 2; i++ {
		resp, fields := e.post(t, "/auth/logout", map[string]string{"token": token}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "attempt %d", i+1)
		assert.Equal(t, "true", string(fields["ok"]))
	}

	resp, fields := e.post(t, "/auth/verify", map[string]string{
		"token": token, "device_id": "devA",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "false", string(fields["valid"]))
}

func TestStreamHandleIsOpaque(t *testing.T) {
	e := newEnv(t, 1)
	const originURL = "https://origin.internal/live/viewer1/index.m3u8"
	e.dir.Assign(e.user.ID, originURL)

	token, code := e.login(t, "devA")
	require.Equal(t, http.StatusOK, code)

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Device-Id", "devA")
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Handle           string `json:"handle"`
		ExpiresInSeconds int64  `json:"expires_in_seconds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Handle)
	assert.Positive(t, body.ExpiresInSeconds)
	assert.NotContains(t, body.Handle, "origin.internal")
	assert.NotContains(t, body.Handle, e.user.ID)
}

func TestStreamWithoutAssignment(t *testing.T) {
	e := newEnv(t, 1)
	token, code := e.login(t, "devA")
	require.Equal(t, http.StatusOK, code)

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Device-Id", "devA")
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamRequiresValidSession(t *testing.T) {
	e := newEnv(t, 1)

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bogus-token")
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginThrottleAfterRepeatedFailures(t *testing.T) {
	e := newEnv(t, 1)

	var lastCode int
	for i := 0; i < 25; i++ {
		resp, _ := e.post(t, "/auth/login", map[string]string{
			"username": "viewer1", "password": fmt.Sprintf("wrong-%d", i), "device_id": "devA",
		}, nil)
		lastCode = resp.StatusCode
		if lastCode == http.StatusTooManyRequests {
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
			break
		}
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)

	// Correct credentials are throttled too while the window lasts.
	_, code := e.login(t, "devA")
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestMalformedBody(t *testing.T) {
	e := newEnv(t, 1)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/auth/login", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

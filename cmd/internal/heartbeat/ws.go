// Package heartbeat keeps watching sessions alive over a WebSocket.
//
// Players hold one connection open and send a small ping every few minutes.
// Each ping is a full session verification, so activity extends the idle
// window and a revoked or superseded session is cut off at the next beat
// instead of at the next page load.
package heartbeat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"streamgate/cmd/internal/auth/session"
	"streamgate/cmd/internal/device"
)

const (
	// StatusSessionInvalid is sent when a beat fails verification.
	StatusSessionInvalid websocket.StatusCode = 4401

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 10 * time.Minute
)

type beat struct {
	Type string `json:"type"`
}

type beatAck struct {
	Type  string `json:"type"`
	Valid bool   `json:"valid"`
}

// Verifier checks a presented session credential. Satisfied by
// *session.Manager.
type Verifier interface {
	Verify(ctx context.Context, token, deviceID string, now time.Time) (session.Verification, error)
}

// Gateway is the WebSocket heartbeat endpoint.
type Gateway struct {
	log    *slog.Logger
	verify Verifier

	writeTimeout time.Duration
	readIdle     time.Duration
}

func NewGateway(log *slog.Logger, verify Verifier) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		log:          log,
		verify:       verify,
		writeTimeout: defaultWriteTimeout,
		readIdle:     defaultReadIdle,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := credential(r)
	deviceID := requestDeviceID(r)

	// Reject before upgrading so bad credentials cost no connection.
	v, err := g.verify.Verify(r.Context(), token, deviceID, time.Now().UTC())
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !v.Valid {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	g.log.LogAttrs(r.Context(), slog.LevelInfo, "heartbeat.open",
		slog.String("user_id", v.UserID),
		slog.String("session_id", v.SessionID),
	)

	g.serve(r.Context(), conn, token, deviceID, v.UserID)
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, token, deviceID, userID string) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, g.readIdle)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}

		var b beat
		if err := json.Unmarshal(data, &b); err != nil || b.Type != "ping" {
			conn.Close(websocket.StatusPolicyViolation, "expected ping")
			return
		}

		v, err := g.verify.Verify(ctx, token, deviceID, time.Now().UTC())
		if err != nil {
			conn.Close(websocket.StatusInternalError, "verify failed")
			return
		}
		if !v.Valid {
			g.log.LogAttrs(ctx, slog.LevelInfo, "heartbeat.session_invalid",
				slog.String("user_id", userID),
			)
			g.writeAck(ctx, conn, false)
			conn.Close(StatusSessionInvalid, "session no longer valid")
			return
		}

		if !g.writeAck(ctx, conn, true) {
			return
		}
	}
}

func (g *Gateway) writeAck(ctx context.Context, conn *websocket.Conn, valid bool) bool {
	data, _ := json.Marshal(beatAck{Type: "pong", Valid: valid})
	writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) == nil
}

func credential(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func requestDeviceID(r *http.Request) string {
	supplied := r.Header.Get("X-Device-Id")
	if supplied == "" {
		supplied = r.URL.Query().Get("device_id")
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return device.FromRequest(supplied, r.UserAgent(), net.ParseIP(host))
}

package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"streamgate/cmd/identity"
	"streamgate/cmd/internal/auth/session"
	"streamgate/cmd/internal/device"
	"streamgate/cmd/internal/stream"
)

// Handler wires the admission HTTP endpoints to the session manager and
// stream gate.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Manager
	sessCfg  session.Config
	gate     *stream.Gate

	ipLimiter   *loginLimiter
	userLimiter *loginLimiter

	onLogin  func(outcome string)
	onVerify func(valid bool)
}

// HandlerOption configures optional handler hooks.
type HandlerOption func(*Handler)

// WithLoginObserver registers a callback invoked with each login outcome
// ("admitted", "rejected", "device_limit", "throttled", "error").
func WithLoginObserver(fn func(outcome string)) HandlerOption {
	return func(h *Handler) { h.onLogin = fn }
}

// WithVerifyObserver registers a callback invoked with each verify outcome.
func WithVerifyObserver(fn func(valid bool)) HandlerOption {
	return func(h *Handler) { h.onVerify = fn }
}

// NewHandler constructs the admission Handler. gate may be nil when no
// stream directory is configured; /stream then reports 404 for everyone.
func NewHandler(log *slog.Logger, cfg Config, sessCfg session.Config, sessions *session.Manager, gate *stream.Gate, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:         log,
		cfg:         cfg,
		sessions:    sessions,
		sessCfg:     sessCfg,
		gate:        gate,
		ipLimiter:   newLoginLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		userLimiter: newLoginLimiter(cfg.LoginUserMax, cfg.LoginUserWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register wires the admission routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/verify", h.handleVerify)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/stream", h.handleStream)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeUsername(username)

	// Throttle before touching the store.
	if blocked, retry := h.ipLimiter.Blocked(ip, now); blocked {
		h.observeLogin("throttled")
		writeRateLimited(w, retry)
		return
	}
	if blocked, retry := h.userLimiter.Blocked(identifier, now); blocked {
		h.observeLogin("throttled")
		writeRateLimited(w, retry)
		return
	}

	dev := session.Device{
		ID:        device.FromRequest(req.DeviceID, ua, net.ParseIP(ip)),
		UserAgent: ua,
		IP:        net.ParseIP(ip),
	}

	grant, err := h.sessions.Login(ctx, username, req.Password, dev)
	if err != nil {
		h.writeLoginError(w, r, err, ip, identifier, now)
		return
	}

	h.observeLogin("admitted")
	writeJSON(w, http.StatusOK, loginResponse{
		Token:            grant.Token,
		SessionID:        grant.SessionID,
		DeviceID:         dev.ID,
		ExpiresInSeconds: int64(grant.ExpiresIn.Seconds()),
		User: userResponse{
			ID:         grant.User.ID,
			Username:   grant.User.Username,
			UserType:   string(grant.User.UserType),
			MaxDevices: grant.User.MaxDevices,
		},
	})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, r *http.Request, err error, ip, identifier string, now time.Time) {
	var limitErr session.DeviceLimitError
	switch {
	case errors.Is(err, session.ErrUserNotFound), errors.Is(err, session.ErrBadCredential):
		// Unknown user and wrong password share a response so the API
		// does not reveal which usernames exist.
		h.ipLimiter.RecordFailure(ip, now)
		h.userLimiter.RecordFailure(identifier, now)
		h.observeLogin("rejected")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, session.ErrAccountInactive):
		h.observeLogin("rejected")
		writeError(w, http.StatusForbidden, "account_inactive", "account is not active")
	case errors.As(err, &limitErr):
		h.observeLogin("device_limit")
		writeJSON(w, http.StatusConflict, deviceLimitResponse{Error: deviceLimitDetail{
			Code:             "device_limit",
			Message:          "device limit reached",
			Limit:            limitErr.Limit,
			BlockingDeviceID: limitErr.BlockingDeviceID,
		}})
	case errors.Is(err, session.ErrStoreUnavailable):
		h.observeLogin("error")
		h.log.ErrorContext(r.Context(), "api.login.store_unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
	default:
		h.observeLogin("error")
		h.log.ErrorContext(r.Context(), "api.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = bearerToken(r)
	}
	deviceID := h.requestDeviceID(r, req.DeviceID)

	v, err := h.sessions.Verify(r.Context(), token, deviceID, time.Now().UTC())
	if err != nil {
		h.log.ErrorContext(r.Context(), "api.verify.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}

	if h.onVerify != nil {
		h.onVerify(v.Valid)
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:     v.Valid,
		UserID:    v.UserID,
		SessionID: v.SessionID,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = bearerToken(r)
	}

	if err := h.sessions.Logout(r.Context(), token); err != nil {
		h.log.ErrorContext(r.Context(), "api.logout.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}
	// Unknown or already-revoked tokens land here too: logout reports
	// success for any token so retries cannot fail.
	writeJSON(w, http.StatusOK, logoutResponse{OK: true})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	deviceID := h.requestDeviceID(r, r.URL.Query().Get("device_id"))

	v, err := h.sessions.Verify(r.Context(), token, deviceID, time.Now().UTC())
	if err != nil {
		h.log.ErrorContext(r.Context(), "api.stream.verify.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}
	if !v.Valid {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	if h.gate == nil {
		writeError(w, http.StatusNotFound, "no_stream", "no stream assigned")
		return
	}
	handle, err := h.gate.Resolve(r.Context(), v.UserID)
	if err != nil {
		if errors.Is(err, stream.ErrNoStreamAssigned) {
			writeError(w, http.StatusNotFound, "no_stream", "no stream assigned")
			return
		}
		h.log.ErrorContext(r.Context(), "api.stream.resolve.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}

	writeJSON(w, http.StatusOK, streamResponse{
		Handle:           handle,
		ExpiresInSeconds: int64(h.sessCfg.MaxLifetime.Seconds()),
	})
}

// ---- helpers ----

func (h *Handler) observeLogin(outcome string) {
	if h.onLogin != nil {
		h.onLogin(outcome)
	}
}

func (h *Handler) requestDeviceID(r *http.Request, supplied string) string {
	if supplied == "" {
		supplied = r.Header.Get("X-Device-Id")
	}
	return device.FromRequest(supplied, strings.TrimSpace(r.UserAgent()), net.ParseIP(clientIP(r, h.cfg.TrustProxy)))
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

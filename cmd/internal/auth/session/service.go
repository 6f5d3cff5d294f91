package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"streamgate/cmd/identity"
	"streamgate/cmd/security/token"

	"github.com/oklog/ulid/v2"
)

// Manager implements the high-level session operations for streamgate.
//
// It admits logins under the device-concurrency rule, verifies and refreshes
// sessions on every protected access, revokes them on logout, and expires
// them by idle timeout and absolute lifetime. It is the exclusive owner of
// the Session.Active and LastActivityAt transition rules.
type Manager struct {
	cfg   Config
	log   *slog.Logger
	users identity.Store
	store Store

	// dummyHash makes the missing-user path cost a real verification,
	// so response timing does not reveal whether a username exists.
	dummyHash string
}

// Grant is the result of an admitted login.
// Token is shown to the client exactly once and never logged.
type Grant struct {
	Token     string
	SessionID string
	User      identity.User
	ExpiresIn time.Duration
}

// Verification is the outcome of a token check.
// Invalid outcomes are deliberately indistinguishable to callers: unknown
// token, device mismatch, and expiry all collapse to Valid=false.
type Verification struct {
	Valid     bool
	UserID    string
	SessionID string
}

// NewManager constructs a Manager from its collaborator stores.
func NewManager(cfg Config, log *slog.Logger, users identity.Store, store Store) *Manager {
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{cfg: cfg, log: log, users: users, store: store}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only"); err == nil {
		m.dummyHash = hash
	}

	return m
}

// Login validates credentials and applies the admission rule.
//
// Admission runs under a per-user lock so that two concurrent logins cannot
// both observe a free slot and overshoot the device limit. Any active session
// on the requesting device is superseded BEFORE the new session is inserted;
// this both implements same-device re-login at the limit and makes a retried
// login idempotent instead of double-creating.
func (m *Manager) Login(ctx context.Context, username, password string, dev Device) (Grant, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Grant{}, ErrBadCredential
	}
	if strings.TrimSpace(dev.ID) == "" {
		return Grant{}, fmt.Errorf("%w: missing device id", ErrBadCredential)
	}

	now := time.Now().UTC()

	ua, err := m.lookupUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) && m.dummyHash != "" {
			// Timing resistance: burn a verification on the miss path.
			_, _ = identity.VerifyPassword(password, m.dummyHash)
		}
		return Grant{}, err
	}

	okPw, err := identity.VerifyPassword(password, ua.PasswordHash)
	if err != nil || !okPw {
		return Grant{}, ErrBadCredential
	}

	if ua.User.Status != identity.StatusActive {
		return Grant{}, ErrAccountInactive
	}

	var created Session
	var plain string

	err = m.store.WithUserLock(ctx, ua.User.ID, func(lctx context.Context) error {
		s, p, admitErr := m.admit(lctx, now, ua.User, dev)
		if admitErr != nil {
			return admitErr
		}
		created, plain = s, p
		return nil
	})
	if err != nil {
		return Grant{}, err
	}

	// Best-effort: a failed last_login stamp must not invalidate the login.
	if err := m.recordLogin(ctx, ua.User.ID, now); err != nil {
		m.log.Warn("session.login.record_last_login.fail", "user_id", ua.User.ID, "err", err)
	}

	m.log.Info("session.login.admitted",
		"user_id", ua.User.ID,
		"session_id", created.ID,
		"device_id", dev.ID,
	)

	return Grant{
		Token:     plain,
		SessionID: created.ID,
		User:      sanitizeUser(ua.User),
		ExpiresIn: m.cfg.MaxLifetime,
	}, nil
}

// admit runs the admission decision. Caller holds the per-user lock.
func (m *Manager) admit(ctx context.Context, now time.Time, user identity.User, dev Device) (Session, string, error) {
	cctx, cancel := m.bounded(ctx)
	defer cancel()

	active, err := m.store.FindActiveByUser(cctx, user.ID)
	if err != nil {
		return Session{}, "", m.storeErr(err)
	}

	// Supersede any active session already bound to this device.
	remaining := 0
	for _, s := range active {
		if s.DeviceID == dev.ID {
			if err := m.store.Deactivate(cctx, s.ID, now); err != nil {
				return Session{}, "", m.storeErr(err)
			}
			continue
		}
		remaining++
	}

	if remaining >= user.MaxDevices {
		blocking := ""
		for _, s := range active {
			if s.DeviceID != dev.ID {
				blocking = s.DeviceID
				break
			}
		}
		return Session{}, "", DeviceLimitError{BlockingDeviceID: blocking, Limit: user.MaxDevices}
	}

	plain, digest, err := token.NewOpaque(m.cfg.TokenBytes)
	if err != nil {
		return Session{}, "", err
	}

	s := Session{
		ID:             ulid.Make().String(),
		UserID:         user.ID,
		DeviceID:       dev.ID,
		TokenHash:      digest,
		UserAgent:      dev.UserAgent,
		IP:             dev.IP,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}

	if err := m.store.Insert(cctx, s); err != nil {
		if errors.Is(err, ErrConflict) {
			// A digest collision is astronomically unlikely; one fresh draw
			// distinguishes it from a real storage conflict.
			plain, digest, err = token.NewOpaque(m.cfg.TokenBytes)
			if err != nil {
				return Session{}, "", err
			}
			s.TokenHash = digest
			if err := m.store.Insert(cctx, s); err != nil {
				return Session{}, "", m.storeErr(err)
			}
			return s, plain, nil
		}
		return Session{}, "", m.storeErr(err)
	}

	return s, plain, nil
}

// Verify checks a presented token and, when valid, refreshes activity.
// This is the only code path that advances LastActivityAt; clients must call
// it periodically (heartbeat) to keep a session alive.
func (m *Manager) Verify(ctx context.Context, tokenPlain, deviceID string, now time.Time) (Verification, error) {
	tokenPlain = strings.TrimSpace(tokenPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if tokenPlain == "" || len(tokenPlain) > 4096 {
		return Verification{}, nil
	}

	digest := token.HashSessionTokenHex(tokenPlain)

	cctx, cancel := m.bounded(ctx)
	defer cancel()

	s, err := m.store.FindActiveByToken(cctx, digest)
	if errors.Is(err, ErrSessionNotFound) {
		return Verification{}, nil
	}
	if err != nil {
		return Verification{}, m.storeErr(err)
	}

	// Device binding: rejects token replay from a different client
	// fingerprint, within the limits of client-supplied identifiers.
	if s.DeviceID != strings.TrimSpace(deviceID) {
		m.log.Info("session.verify.device_mismatch", "session_id", s.ID)
		return Verification{}, nil
	}

	// Lazy expiry: either deadline passing performs the same mutation as
	// logout, and the invalidity is permanent.
	if now.After(s.IdleDeadline(m.cfg.IdleTimeout)) || now.After(s.HardDeadline(m.cfg.MaxLifetime)) {
		if err := m.store.Deactivate(cctx, s.ID, now); err != nil {
			return Verification{}, m.storeErr(err)
		}
		m.log.Info("session.verify.expired", "session_id", s.ID)
		return Verification{}, nil
	}

	if err := m.store.Touch(cctx, s.ID, now); err != nil {
		return Verification{}, m.storeErr(err)
	}

	return Verification{Valid: true, UserID: s.UserID, SessionID: s.ID}, nil
}

// Logout deactivates the session for a token. Idempotent: unknown and
// already-inactive tokens are a no-op, never an error.
func (m *Manager) Logout(ctx context.Context, tokenPlain string) error {
	tokenPlain = strings.TrimSpace(tokenPlain)
	if tokenPlain == "" || len(tokenPlain) > 4096 {
		return nil
	}

	digest := token.HashSessionTokenHex(tokenPlain)

	cctx, cancel := m.bounded(ctx)
	defer cancel()

	s, err := m.store.FindActiveByToken(cctx, digest)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return m.storeErr(err)
	}

	if err := m.store.Deactivate(cctx, s.ID, time.Now().UTC()); err != nil {
		return m.storeErr(err)
	}

	m.log.Info("session.logout", "session_id", s.ID)
	return nil
}

// Sweep deactivates all sessions past either expiry deadline.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cctx, cancel := m.bounded(ctx)
	defer cancel()

	n, err := m.store.DeactivateExpired(cctx,
		now.Add(-m.cfg.IdleTimeout),
		now.Add(-m.cfg.MaxLifetime),
		now,
	)
	if err != nil {
		return 0, m.storeErr(err)
	}
	if n > 0 {
		m.log.Info("session.sweep", "deactivated", n)
	}
	return n, nil
}

// RunSweeper runs the expiry sweep on the configured interval until ctx ends.
// The sweep is redundant with lazy expiry in Verify; it exists so abandoned
// sessions release their device slot without waiting for the next access.
// observe, when non-nil, receives the deactivation count of each pass.
func (m *Manager) RunSweeper(ctx context.Context, observe func(deactivated int64)) {
	t := time.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := m.Sweep(ctx, now.UTC())
			if err != nil {
				m.log.Error("session.sweep.fail", "err", err)
				continue
			}
			if observe != nil {
				observe(n)
			}
		}
	}
}

func (m *Manager) lookupUser(ctx context.Context, username string) (identity.UserAuth, error) {
	cctx, cancel := m.bounded(ctx)
	defer cancel()

	ua, err := m.users.FindByUsername(cctx, username)
	if identity.IsNotFound(err) {
		return identity.UserAuth{}, ErrUserNotFound
	}
	if err != nil {
		return identity.UserAuth{}, m.storeErr(err)
	}
	return ua, nil
}

func (m *Manager) recordLogin(ctx context.Context, userID string, at time.Time) error {
	cctx, cancel := m.bounded(ctx)
	defer cancel()
	return m.users.RecordLogin(cctx, userID, at)
}

// bounded derives a context honoring the configured store timeout.
func (m *Manager) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

// storeErr maps infrastructure failures to the retryable ErrStoreUnavailable
// while preserving the package's own sentinels.
func (m *Manager) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrDeviceLimit):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func sanitizeUser(u identity.User) identity.User {
	// identity.User carries no secrets by construction; returned as a value
	// copy so callers cannot reach store internals.
	return u
}

package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls the expiry policy (idle timeout, absolute lifetime), token
// entropy, the collaborator-store timeout, and the background sweep cadence.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune policy without code changes.
type Config struct {
	// IdleTimeout is the maximum gap between consecutive activity before a
	// session is forcibly expired.
	IdleTimeout time.Duration

	// MaxLifetime is the absolute session age cap regardless of activity.
	MaxLifetime time.Duration

	// TokenBytes is the number of random bytes behind each opaque token.
	// Must be at least 16 (128 bits of entropy).
	TokenBytes int

	// StoreTimeout bounds every call into the credential/session stores.
	// On expiry the operation fails with ErrStoreUnavailable instead of hanging.
	StoreTimeout time.Duration

	// SweepInterval is the cadence of the background expiry sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the policy defaults: 60m idle, 24h absolute.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   60 * time.Minute,
		MaxLifetime:   24 * time.Hour,
		TokenBytes:    32,
		StoreTimeout:  5 * time.Second,
		SweepInterval: 5 * time.Minute,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - STREAMGATE_SESSION_IDLE_TIMEOUT
//   - STREAMGATE_SESSION_MAX_LIFETIME
//   - STREAMGATE_SESSION_TOKEN_BYTES
//   - STREAMGATE_SESSION_STORE_TIMEOUT
//   - STREAMGATE_SESSION_SWEEP_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("STREAMGATE_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.IdleTimeout = d
	}

	if v := os.Getenv("STREAMGATE_SESSION_MAX_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxLifetime = d
	}

	if v := os.Getenv("STREAMGATE_SESSION_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	if v := os.Getenv("STREAMGATE_SESSION_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	if v := os.Getenv("STREAMGATE_SESSION_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	// Invariant: a session idle for its whole lifetime must already be idle-expired.
	if cfg.IdleTimeout > cfg.MaxLifetime {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

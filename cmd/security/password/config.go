package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation boundaries.
type Policy struct {
	MinLength int
	MaxLength int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a baseline suitable for interactive logins.
// Parallelism is CPU-aware but clamped to [1..4] to keep resource usage
// predictable in containers.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - STREAMGATE_PASSWORD_MIN_LEN
// - STREAMGATE_PASSWORD_MAX_LEN
// - STREAMGATE_ARGON2_MEMORY_KIB
// - STREAMGATE_ARGON2_ITERATIONS
// - STREAMGATE_ARGON2_PARALLELISM
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup("STREAMGATE_PASSWORD_MIN_LEN"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("STREAMGATE_PASSWORD_MIN_LEN: invalid value %q", v)
		}
		cfg.Policy.MinLength = n
	}
	if v, ok := lookup("STREAMGATE_PASSWORD_MAX_LEN"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < cfg.Policy.MinLength {
			return Config{}, fmt.Errorf("STREAMGATE_PASSWORD_MAX_LEN: invalid value %q", v)
		}
		cfg.Policy.MaxLength = n
	}
	if v, ok := lookup("STREAMGATE_ARGON2_MEMORY_KIB"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n < 8*1024 {
			return Config{}, fmt.Errorf("STREAMGATE_ARGON2_MEMORY_KIB: invalid value %q", v)
		}
		cfg.Params.MemoryKiB = uint32(n)
	}
	if v, ok := lookup("STREAMGATE_ARGON2_ITERATIONS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("STREAMGATE_ARGON2_ITERATIONS: invalid value %q", v)
		}
		cfg.Params.Iterations = uint32(n)
	}
	if v, ok := lookup("STREAMGATE_ARGON2_PARALLELISM"); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("STREAMGATE_ARGON2_PARALLELISM: invalid value %q", v)
		}
		cfg.Params.Parallelism = uint8(n)
	}

	return cfg, nil
}

// Validate checks a candidate password against the policy.
func (c Config) Validate(pw string) error {
	if len(pw) < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if c.Policy.MaxLength > 0 && len(pw) > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

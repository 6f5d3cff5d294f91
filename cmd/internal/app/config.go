package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects Postgres persistence. When empty the server runs
	// on in-memory stores, which only makes sense for development.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisAddr, when set, moves session storage to Redis. Postgres (or the
	// memory store) still backs user identities and stream assignments.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MigrateOnStart applies embedded schema migrations before serving.
	MigrateOnStart bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, STREAMGATE_TOKEN_HMAC_KEY must be set (>= 32 bytes) and
	// session-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	// Dev seed: provision one viewer with a stream assignment at startup
	// when running on memory stores. Ignored in DB mode.
	DevSeedUsername  string
	DevSeedPassword  string
	DevSeedDevices   int
	DevSeedStreamURL string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("STREAMGATE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("STREAMGATE_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("STREAMGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("STREAMGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		// Write timeout stays generous: /stream/play relays long media
		// responses.
		WriteTimeout: EnvDuration("STREAMGATE_HTTP_WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:  EnvDuration("STREAMGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("STREAMGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("STREAMGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("STREAMGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("STREAMGATE_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("STREAMGATE_REDIS_ADDR", ""),
		RedisPassword: EnvString("STREAMGATE_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("STREAMGATE_REDIS_DB", 0),

		MigrateOnStart: EnvBool("STREAMGATE_MIGRATE_ON_START", false),

		ReadinessRequireDB: EnvBool("STREAMGATE_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("STREAMGATE_REQUIRE_TOKEN_HMAC", false),

		DevSeedUsername:  EnvString("STREAMGATE_DEV_SEED_USERNAME", ""),
		DevSeedPassword:  EnvString("STREAMGATE_DEV_SEED_PASSWORD", ""),
		DevSeedDevices:   EnvInt("STREAMGATE_DEV_SEED_MAX_DEVICES", 2),
		DevSeedStreamURL: EnvString("STREAMGATE_DEV_SEED_STREAM_URL", ""),
	}
}

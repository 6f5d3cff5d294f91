// Package app wires the streamgate runtime: config, logging, storage, the
// admission API, the stream proxy, and the heartbeat gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"streamgate/cmd/identity"
	"streamgate/cmd/internal/auth/api"
	"streamgate/cmd/internal/auth/session"
	"streamgate/cmd/internal/heartbeat"
	"streamgate/cmd/internal/stream"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction, so DB-backed resources
// can be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// App is the streamgate server runtime.
type App struct {
	cfg     Config
	log     Logger
	metrics *Metrics

	store     Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions *session.Manager
	auth     *api.Handler
	proxy    *stream.Proxy
	beats    *heartbeat.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	st, err := newStores(context.Background(), cfg, sessCfg, log)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	mgr := session.NewManager(sessCfg, log, st.users, st.sessions)

	var gate *stream.Gate
	var proxy *stream.Proxy
	envelope, err := stream.NewEnvelopeFromEnv()
	switch {
	case err == nil:
		gate = stream.NewGate(log, st.streams, envelope)
		proxy = stream.NewProxy(log, gate, mgr, playPath, nil, metrics.AddProxiedBytes)
	case errors.Is(err, stream.ErrConfig) && !envelopeRequired(cfg):
		// Dev mode without a stream key: admission still works, the
		// stream endpoints stay dark.
		log.Warn("stream.disabled.no_key")
	default:
		_ = st.Close(context.Background())
		return nil, err
	}

	authCfg := api.LoadConfigFromEnv()
	authHandler := api.NewHandler(log, authCfg, sessCfg, mgr, gate,
		api.WithLoginObserver(metrics.ObserveLogin),
		api.WithVerifyObserver(metrics.ObserveVerify),
	)

	return &App{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		store:     st,
		dbPool:    st.pool,
		dbEnabled: st.pool != nil,
		sessions:  mgr,
		auth:      authHandler,
		proxy:     proxy,
		beats:     heartbeat.NewGateway(log, mgr),
	}, nil
}

// envelopeRequired reports whether a missing stream key should be fatal.
// Any persistent deployment is expected to carry one.
func envelopeRequired(cfg Config) bool {
	return cfg.DatabaseURL != ""
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.proxy, a.beats, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log, a.metrics),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 5*time.Minute),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sessions.RunSweeper(sweepCtx, a.metrics.AddSweptSessions)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// stores bundles the persistence backends behind one lifecycle.
type stores struct {
	users    identity.Store
	sessions session.Store
	streams  stream.Directory

	pool  *pgxpool.Pool
	redis *redis.Client
}

func (s *stores) Close(_ context.Context) error {
	var firstErr error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return firstErr
}

var _ Store = (*stores)(nil)

// newStores decides between Postgres persistence and in-memory dev stores,
// with an optional Redis session backend layered on either.
func newStores(ctx context.Context, cfg Config, sessCfg session.Config, log Logger) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		dir := stream.NewMemoryDirectory()
		if err := devSeed(cfg, log, users, dir); err != nil {
			return nil, err
		}
		st.users = users
		st.sessions = session.NewMemoryStore()
		st.streams = dir
	} else {
		if cfg.MigrateOnStart {
			if err := RunMigrations(log, cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}

		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")

		users, err := identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}

		st.pool = pool
		st.users = users
		st.sessions = session.NewPostgresStore(pool)
		st.streams = stream.NewPostgresDirectory(pool)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if st.pool != nil {
				st.pool.Close()
			}
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
		// Admission holds the per-user lock across a handful of store calls,
		// each bounded by StoreTimeout; size the lease so one slow call
		// cannot outlive it.
		sessStore, err := session.NewRedisStore(client, 0, 4*sessCfg.StoreTimeout)
		if err != nil {
			_ = client.Close()
			if st.pool != nil {
				st.pool.Close()
			}
			return nil, err
		}
		log.Info("sessions.redis_store", "addr", cfg.RedisAddr)
		st.redis = client
		st.sessions = sessStore
	}

	return st, nil
}

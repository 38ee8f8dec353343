// Package app holds the process wiring shared by the commands: logging,
// store construction and the auxiliary metrics listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/cgaf/gaf-engine/internal/config"
	"github.com/cgaf/gaf-engine/internal/metrics"
	"github.com/cgaf/gaf-engine/internal/model"
	"github.com/cgaf/gaf-engine/internal/store"
)

// Load reads .env and the configuration for the named command, and installs
// a JSON logger at the configured level as the slog default.
func Load(name string) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(name, os.Args[1:], os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("service", name)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Stores bundles the opened store and its optional Redis layer.
type Stores struct {
	Store store.Store
	Cache *store.CachedStore // nil without REDIS_URL

	cleanup []func()
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// OpenStores connects to PostgreSQL, applies the schema and wraps the store
// with the Redis cache when configured.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	pool, err := store.NewPool(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, pool.Close)
	if err := store.EnsureSchema(ctx, pool); err != nil {
		s.Close()
		return nil, err
	}
	s.Store = store.NewPostgresStore(pool)
	slog.Info("connected to PostgreSQL")

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		s.cleanup = append(s.cleanup, func() { rdb.Close() })
		s.Cache = store.NewCachedStore(s.Store, rdb, cfg.CacheTTL)
		s.Store = s.Cache
		slog.Info("Redis cache enabled")
	}
	return s, nil
}

// SeedProducts upserts products listed in the configuration file.
func SeedProducts(ctx context.Context, st store.Store, products []model.ProductConfig) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range products {
		if err := tx.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	slog.Info("products configured", "count", len(products))
	return nil
}

// HealthHandler reports liveness.
func HealthHandler(service string) http.HandlerFunc {
	body := []byte(fmt.Sprintf(`{"status":"ok","service":%q}`, service))
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// ServeMetrics exposes /metrics and /health on addr until ctx is done.
// An empty addr disables the listener.
func ServeMetrics(ctx context.Context, addr, service string) {
	if addr == "" {
		return
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", HealthHandler(service))
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// Package app wires Bentham's components into a runnable process: config,
// logging/tracing/metrics, storage, the Recovery Manager and surface
// registry, the Executor pool, the Orchestrator, and the tenant-facing
// Gateway. Run follows a mode-selected process split: a default "api"
// mode serving the Gateway with an in-process worker pool, and a
// "worker" mode that only drains jobs for horizontal scaling.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/benthamhq/bentham/internal/config"
	"github.com/benthamhq/bentham/internal/httpserver"
	"github.com/benthamhq/bentham/internal/platform"
	"github.com/benthamhq/bentham/internal/telemetry"
	"github.com/benthamhq/bentham/pkg/apikey"
	apikeymemstore "github.com/benthamhq/bentham/pkg/apikey/memstore"
	apikeypostgres "github.com/benthamhq/bentham/pkg/apikey/postgres"
	"github.com/benthamhq/bentham/pkg/executor"
	"github.com/benthamhq/bentham/pkg/gateway"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/orchestrator"
	"github.com/benthamhq/bentham/pkg/ratelimit"
	"github.com/benthamhq/bentham/pkg/recovery"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/repository/memstore"
	"github.com/benthamhq/bentham/pkg/repository/postgres"
	"github.com/benthamhq/bentham/pkg/surface"
	"github.com/benthamhq/bentham/pkg/surface/httpadapter"
	"github.com/benthamhq/bentham/pkg/surface/mockadapter"
)

// deps bundles everything wired from config that both run modes need.
type deps struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     repository.Repository
	keyStore apikey.Store
	registry *surface.Registry
	recovery *recovery.Manager
	pool     *executor.Pool
	db       *pgxpool.Pool
	redis    *redis.Client
}

// Run builds the process per cfg.Mode and blocks until ctx is cancelled.
//
//   - "api" (default): the tenant-facing Gateway plus an in-process
//     Executor pool. The Orchestrator's Kick signal only reaches a pool in
//     the same process, so a study admitted here starts draining
//     immediately rather than waiting for the next poll tick.
//   - "worker": an Executor pool only, no Gateway. Additional worker
//     processes scale cell-execution throughput horizontally against a
//     shared Postgres repository — FindActiveStudies polling, not Kick,
//     is what picks up studies admitted by a different process's api
//     instance. Requires DatabaseURL; the in-memory repository can't be
//     shared across processes.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "bentham", "0.1.0")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	d, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	switch cfg.Mode {
	case "worker":
		if d.db == nil {
			return fmt.Errorf("worker mode requires DATABASE_URL: the in-memory repository cannot be shared across processes")
		}
		return runWorker(ctx, d)
	default:
		return runAPI(ctx, d)
	}
}

// build constructs every shared dependency from cfg. The returned cleanup
// func releases pooled connections; callers must defer it.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, func(), error) {
	var db *pgxpool.Pool
	var rdb *redis.Client
	var repo repository.Repository
	var keyStore apikey.Store

	if cfg.RedisURL != "" {
		client, err := platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		rdb = client
	}

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, running with in-memory storage — data is lost on restart and cannot be shared across processes")
		repo = memstore.New()
		keyStore = apikeymemstore.New()
	} else {
		pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		db = pool
		repo = postgres.New(pool)
		keyStore = apikeypostgres.New(pool)
	}

	registry := surface.NewRegistry()
	registerSurfaces(registry, cfg)

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.MaxRetries = cfg.RecoveryMaxRetries
	recoveryCfg.Threshold = cfg.CircuitThreshold
	if d, err := time.ParseDuration(cfg.RecoveryBaseDelay); err == nil {
		recoveryCfg.BaseDelay = d
	}
	if d, err := time.ParseDuration(cfg.RecoveryMaxDelay); err == nil {
		recoveryCfg.MaxDelay = d
	}
	if d, err := time.ParseDuration(cfg.CircuitResetAfter); err == nil {
		recoveryCfg.ResetMs = d
	}
	mgr := recovery.NewManager(recoveryCfg)

	pollInterval, err := time.ParseDuration(cfg.ExecutorPollInterval)
	if err != nil {
		pollInterval = 500 * time.Millisecond
	}
	pool := executor.New(repo, mgr, registry, logger, cfg.ExecutorConcurrency, pollInterval)
	if rdb != nil {
		pool.UsePublisher(executor.NewRedisPublisher(rdb, logger))
	}

	if cfg.SeedDemoAPIKey {
		if err := seedDemoAPIKey(ctx, keyStore, logger); err != nil {
			logger.Error("seeding demo api key", "error", err)
		}
	}

	d := &deps{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		keyStore: keyStore,
		registry: registry,
		recovery: mgr,
		pool:     pool,
		db:       db,
		redis:    rdb,
	}

	cleanup := func() {
		if db != nil {
			db.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	return d, cleanup, nil
}

// registerSurfaces binds the two demo surfaces this process ships with. An
// unset base URL falls back to a scripted mock, so the process runs
// end-to-end without any upstream credentials.
func registerSurfaces(registry *surface.Registry, cfg *config.Config) {
	registry.Register("chatgpt", surfaceFactory(cfg.ChatGPTBaseURL, cfg.ChatGPTAPIKey))
	registry.Register("perplexity", surfaceFactory(cfg.PerplexityBaseURL, cfg.PerplexityAPIKey))
}

func surfaceFactory(baseURL, apiKey string) surface.Factory {
	if baseURL == "" {
		return mockSurfaceFactory
	}
	return func(surfaceID string, options map[string]any) (surface.Adapter, error) {
		merged := map[string]any{"baseUrl": baseURL, "apiKey": apiKey}
		for k, v := range options {
			merged[k] = v
		}
		return httpadapter.New(surfaceID, merged)
	}
}

// mockSurfaceFactory satisfies surface.Factory by wrapping mockadapter.New,
// which takes a variadic script rather than (surfaceID, options) — the
// script always reports a canned success so a fresh deployment with no
// configured surfaces still completes a study end-to-end.
func mockSurfaceFactory(surfaceID string, _ map[string]any) (surface.Adapter, error) {
	return mockadapter.New(mockadapter.Step{
		Response: surface.Response{
			Success:      true,
			ResponseText: fmt.Sprintf("mock response from %s (no base URL configured)", surfaceID),
			TotalMS:      50,
		},
	}), nil
}

func seedDemoAPIKey(ctx context.Context, store apikey.Store, logger *slog.Logger) error {
	raw, hash, prefix := apikey.Generate()
	k := &apikey.ApiKey{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		KeyHash:   hash,
		KeyPrefix: prefix,
		Name:      "demo",
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, k); err != nil {
		return err
	}
	logger.Info("seeded demo api key — save this, it is not recoverable once the process restarts", "key", raw, "tenant_id", k.TenantID)
	return nil
}

// runAPI serves the tenant-facing Gateway and drains jobs in-process.
func runAPI(ctx context.Context, d *deps) error {
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	srv := httpserver.NewServer(httpserver.ServerConfig{CORSAllowedOrigins: d.cfg.CORSAllowedOrigins}, d.logger, d.db, d.redis, metricsReg)

	orch := orchestrator.New(d.repo, manifest.NewDefaultValidator(), d.pool)
	resolver := apikey.NewResolver(d.keyStore)
	limiter := ratelimit.New(ratelimit.Limits{RPS: d.cfg.DefaultRateLimitRPS, Burst: d.cfg.DefaultRateLimitBurst}, 10*time.Minute)
	defer limiter.Close()

	health := srv.NewHealthHandler(func() bool { return true })
	srv.Router.Get("/health", health)
	gateway.Mount(srv.V1Router, orch, resolver, limiter, health, d.logger)

	go d.pool.Run(ctx)

	httpSrv := &http.Server{
		Addr:              d.cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("bentham api listening", "addr", d.cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker drains jobs only, for horizontal scaling of cell-execution
// capacity against a shared Postgres repository.
func runWorker(ctx context.Context, d *deps) error {
	d.logger.Info("bentham worker started", "concurrency", d.cfg.ExecutorConcurrency)
	d.pool.Run(ctx)
	return nil
}

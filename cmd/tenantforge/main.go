package main

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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	tfhttp "github.com/Strob0t/TenantForge/internal/adapter/http"
	tfnats "github.com/Strob0t/TenantForge/internal/adapter/nats"
	"github.com/Strob0t/TenantForge/internal/adapter/natskv"
	tfotel "github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/adapter/postgres"
	"github.com/Strob0t/TenantForge/internal/adapter/ristretto"
	"github.com/Strob0t/TenantForge/internal/adapter/tiered"
	"github.com/Strob0t/TenantForge/internal/adapter/ws"
	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/logger"
	"github.com/Strob0t/TenantForge/internal/middleware"
	"github.com/Strob0t/TenantForge/internal/port/backend"
	"github.com/Strob0t/TenantForge/internal/port/broadcast"
	"github.com/Strob0t/TenantForge/internal/port/cache"
	"github.com/Strob0t/TenantForge/internal/resilience"
	"github.com/Strob0t/TenantForge/internal/secrets"
	"github.com/Strob0t/TenantForge/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Backend.Kind,
		"domain", cfg.Workload.Domain,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := tfotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := tfotel.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Secrets ---
	vault, err := loadVault()
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	slog.Info("secrets loaded",
		"login_password", vault.Redacted(secrets.LoginPassword),
		"api_key_hash", vault.Redacted(secrets.APIKeyHash),
	)

	// --- Infrastructure ---
	pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	driver, err := newDriver(cfg)
	if err != nil {
		return err
	}

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	if err := metrics.ObserveCacheHitRatio(func() float64 { return l1.Stats().Ratio }); err != nil {
		return fmt.Errorf("cache metrics: %w", err)
	}

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	sinks := broadcast.Multi{hub}
	var idemCache cache.Cache = l1

	var queue *tfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = tfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()
		sinks = append(sinks, tfnats.NewEventPublisher(queue))

		kv, err := natskv.Open(ctx, queue, cfg.NATS.IdempotencyBucket, cfg.NATS.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		idemCache = tiered.New(l1, kv, cfg.NATS.IdempotencyTTL)
		slog.Info("nats connected", "bucket", cfg.NATS.IdempotencyBucket)
	}

	// --- Services ---
	lifecycle := service.NewLifecycleService(cfg, postgres.NewStore(pool), driver)
	lifecycle.SetBroadcaster(sinks)
	lifecycle.SetCache(l1)
	lifecycle.SetVault(vault)
	lifecycle.SetMetrics(metrics)
	if queue != nil {
		lifecycle.AddHealthCheck("queue", func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}

	// --- HTTP ---
	limiter, stopLimiter := middleware.NewRateLimiterFromConfig(cfg.Rate, "/health")
	defer stopLimiter()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(tfhttp.SecurityHeaders)
	r.Use(tfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(limiter.Handler)
	if cfg.Auth.Enabled {
		auth := middleware.NewAPIKeyAuth(func() string { return vault.Get(secrets.APIKeyHash) }, "/", "/health")
		r.Use(auth.Handler)
	}

	handlers := &tfhttp.Handlers{Lifecycle: lifecycle, Hub: hub, Vault: vault}
	tfhttp.MountRoutes(r, handlers, middleware.Idempotency(idemCache, cfg.NATS.IdempotencyTTL))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown; SIGHUP reloads secrets.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

wait:
	for {
		select {
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
			} else {
				slog.Info("secrets reloaded", "keys", vault.Keys())
			}
		case err := <-serveErr:
			return fmt.Errorf("server: %w", err)
		case <-done:
			break wait
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := lifecycle.Wait(shutdownCtx); err != nil {
		slog.Warn("background operations still running at shutdown", "error", err)
	}
	return nil
}

// loadVault reads secrets from the environment, overridden by files in
// TENANTFORGE_SECRETS_DIR when set.
func loadVault() (*secrets.Vault, error) {
	keys := []string{secrets.LoginPassword, secrets.APIKeyHash}
	return secrets.NewVault(secrets.Chain(
		secrets.EnvLoader(keys...),
		secrets.FileLoader(os.Getenv("TENANTFORGE_SECRETS_DIR"), keys...),
	))
}

// openRegistry connects to postgres and applies pending migrations.
func openRegistry(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")
	return pool, nil
}

// newDriver creates the configured backend driver behind a circuit breaker.
func newDriver(cfg *config.Config) (backend.Driver, error) {
	kind, err := tenant.ParseBackendKind(cfg.Backend.Kind)
	if err != nil {
		return nil, err
	}
	d, err := backend.New(kind, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.WithFailureFilter(backend.IsBackendFailure))
	slog.Info("backend ready", "kind", kind)
	return backend.WithBreaker(d, breaker), nil
}

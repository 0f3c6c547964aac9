package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"filebridge/internal/config"
	"filebridge/internal/delivery"
	"filebridge/internal/logging"
	"filebridge/internal/mapping"
	"filebridge/internal/pipeline"
	"filebridge/internal/source"
	"filebridge/internal/storage/memory"
	"filebridge/internal/storage/postgres"
	"filebridge/internal/web"
	"filebridge/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store_backend", cfg.Database.Backend,
		"delivery_endpoint", cfg.Delivery.EndpointURL,
		"max_concurrent_files", cfg.Pipeline.MaxConcurrentFiles,
	)

	ctx := context.Background()

	var (
		mappingStore mapping.Store
		jobStore     pipeline.JobStore
		ledgerStore  pipeline.LedgerStore
		pinger       web.Pinger
	)

	switch cfg.Database.Backend {
	case config.StoreMemory:
		slog.Warn("using in-memory stores, data is not persisted")
		mappingStore = memory.NewMappingStore()
		jobStore = memory.NewJobStore()
		ledgerStore = memory.NewLedgerStore()

	default:
		pool := connectPostgres(ctx, cfg)
		defer pool.Close()

		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(pool); err != nil {
				slog.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
		}

		mappingStore = postgres.NewMappingStore(pool)
		jobStore = postgres.NewJobStore(pool)
		ledgerStore = postgres.NewLedgerStore(pool)
		pinger = pool
	}

	// Seed initial mappings when the store is empty.
	if cfg.Pipeline.MappingSeedFile != "" {
		if err := mapping.ApplySeed(ctx, mappingStore, cfg.Pipeline.MappingSeedFile, slog.Default()); err != nil {
			slog.Error("failed to apply mapping seed", "error", err)
			os.Exit(1)
		}
	}

	registry := mapping.NewRegistry(mappingStore, slog.Default())
	if err := registry.Reload(ctx); err != nil {
		slog.Error("failed to load mapping registry", "error", err)
		os.Exit(1)
	}
	slog.Info("mapping registry loaded", "clients", len(registry.Clients()))

	deliverer := delivery.New(cfg.Delivery, ledgerStore, slog.Default())

	orchestrator := pipeline.NewOrchestrator(
		jobStore,
		ledgerStore,
		registry,
		deliverer,
		source.NewCSVOpener(cfg.Pipeline.MaxFileSize),
		cfg.Pipeline.LeaseTTL,
		slog.Default(),
	)

	// Background work: bounded dispatcher plus cron sweeps.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	limiter := worker.NewLimiter(cfg.Pipeline.MaxConcurrentFiles, cfg.Pipeline.MaxWaitTime)
	dispatcher := worker.NewDispatcher(jobStore, orchestrator, limiter,
		cfg.Pipeline.PollInterval, cfg.Pipeline.FileTimeout, slog.Default())
	go dispatcher.Run(jobCtx)

	crontab := worker.NewCron(worker.CronConfig{
		InboxDir:      cfg.Pipeline.InboxDir,
		SpoolDir:      cfg.Pipeline.SpoolDir,
		InboxScanSpec: cfg.Pipeline.InboxScanSpec,
		PruneSpec:     cfg.Retention.PruneSpec,
		RetentionDays: cfg.Retention.LedgerRetentionDays,
	}, jobStore, ledgerStore, slog.Default())
	if err := crontab.Start(jobCtx); err != nil {
		slog.Error("failed to start cron", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(cfg, web.Deps{
		Mappings: mappingStore,
		Registry: registry,
		Jobs:     jobStore,
		Ledger:   ledgerStore,
		Proc:     orchestrator,
		Reporter: pipeline.NewReporter(jobStore, ledgerStore),
		Limiter:  limiter,
		DB:       pinger,
		Log:      slog.Default(),
	})

	// Graceful shutdown: stop scheduling, drain in-flight files, then stop
	// the HTTP server.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		crontab.Stop()
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for files to finish", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("files did not finish in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// connectPostgres builds the pool from config and verifies the connection.
func connectPostgres(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/shaheenhirany/moodle-csv-user-sync/internal/config"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/history"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/logging"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/moodle"
	syncpkg "github.com/shaheenhirany/moodle-csv-user-sync/internal/sync"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/web"
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
		"moodle_url", cfg.Moodle.URL,
		"max_concurrent_jobs", cfg.Sync.MaxConcurrentJobs,
		"history_enabled", cfg.History.DatabaseURL != "",
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	// Batch history persistence is optional: without a database URL runs are
	// only held in memory for the lifetime of the job.
	var (
		recorder syncpkg.Recorder = syncpkg.NopRecorder{}
		store    *history.Store
	)
	if cfg.History.DatabaseURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.History.DatabaseURL)
		if err != nil {
			slog.Error("failed to parse database URL", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = int32(cfg.History.MaxConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store = history.NewStore(pool)
		if err := store.Init(ctx); err != nil {
			slog.Error("failed to initialize history schema", "error", err)
			os.Exit(1)
		}
		recorder = store
		slog.Info("batch history persistence enabled")
	}

	client := moodle.New(cfg.Moodle.URL, cfg.Moodle.Token, cfg.Moodle.Timeout)

	// Startup connectivity check. An unreachable site is reported but not
	// fatal: the token may become valid later and /api/ping re-checks it.
	if siteName, err := client.SiteInfo(ctx); err != nil {
		slog.Warn("moodle connectivity check failed, continuing anyway", "error", err)
	} else {
		slog.Info("connected to moodle", "site", siteName)
	}

	service := syncpkg.NewService(client, recorder, syncpkg.Options{
		RoleID:         cfg.Moodle.RoleID,
		Workers:        cfg.Sync.Workers,
		MaxUsernameLen: cfg.Moodle.MaxUsernameLen,
		JobTimeout:     cfg.Sync.JobTimeout,
		MaxConcurrent:  cfg.Sync.MaxConcurrentJobs,
		MaxWaitTime:    cfg.Sync.MaxWaitTime,
	})

	server := web.NewServer(cfg, service, client, store)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active sync jobs to complete (with timeout)
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for sync jobs to complete", "active", status.Active)
			if err := service.WaitForJobs(shutdownCtx); err != nil {
				slog.Warn("sync jobs did not complete in time", "error", err)
			} else {
				slog.Info("all sync jobs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

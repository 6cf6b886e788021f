package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/blob"
	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/core"
	"github.com/JonMunkholm/domainkeeper/internal/database"
	"github.com/JonMunkholm/domainkeeper/internal/llm"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
	"github.com/JonMunkholm/domainkeeper/internal/nlcompile"
	"github.com/JonMunkholm/domainkeeper/internal/store"
	"github.com/JonMunkholm/domainkeeper/internal/store/memstore"
	"github.com/JonMunkholm/domainkeeper/internal/store/postgres"
	"github.com/JonMunkholm/domainkeeper/internal/web"
)

// auditBackend is a sink that can also be archived by the scheduler.
type auditBackend interface {
	audit.Sink
	audit.Archiver
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"run_max_concurrent", cfg.Ingest.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"llm_providers", cfg.LLM.Providers,
	)

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, sink, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	model, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return err
	}

	writer := audit.NewWriter(sink, cfg.Audit)
	var recorder audit.Recorder = writer
	if !cfg.Audit.Enabled {
		recorder = audit.Discard
	}

	service := core.NewService(core.Deps{
		Store:    st,
		Blobs:    blob.NewFS(cfg.Blob.Root, cfg.Ingest.MaxFileSize, cfg.Blob.Retries),
		Compiler: nlcompile.New(model, cfg.LLM.Temperature),
		Audit:    recorder,
	}, cfg.Ingest, cfg.Compiler)

	authn := auth.New(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	server := web.NewServer(service, authn, sink, cfg)

	// Background jobs stop with jobCtx, after the server has drained.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return writer.Run(jobCtx) })
	g.Go(func() error { return audit.NewScheduler(sink, cfg.Archive).Run(jobCtx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active runs to complete (with timeout)
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
		}
		if err := service.Drain(shutdownCtx); err != nil {
			slog.Warn("runs did not complete in time", "error", err)
		}

		err := server.Shutdown(shutdownCtx)
		cancelJobs()
		if dropped := writer.Dropped(); dropped > 0 {
			slog.Warn("audit entries dropped during run", "count", dropped)
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// openStore returns the configured store and the audit backend that goes
// with it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, auditBackend, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		slog.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), audit.NewMemorySink(), func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return nil, nil, nil, err
		}
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	return postgres.New(pool), audit.NewPGStore(pool), pool.Close, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/yae"
	"github.com/nevindra/yae/files/local"
	"github.com/nevindra/yae/internal/config"
	"github.com/nevindra/yae/observer"
	"github.com/nevindra/yae/provider/resolve"
	"github.com/nevindra/yae/server"
	"github.com/nevindra/yae/store/postgres"
	"github.com/nevindra/yae/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(os.Getenv("YAE_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	var (
		inst   *observer.Instruments
		tracer yae.Tracer
	)
	if cfg.Observer.Enabled {
		var (
			shutdown func(context.Context) error
			err      error
		)
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("observer shutdown", "error", err)
			}
		}()
		tracer = observer.NewTracer()
	}

	provider, err := buildProvider(cfg, logger, inst)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	admin, opener, closeStores, err := buildStores(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStores()

	web := yae.NewWebClient(
		yae.WithBraveAPIKey(cfg.Search.BraveAPIKey),
		yae.WithWebLogger(logger),
	)

	y, err := yae.Initialize(ctx, yae.Config{
		Admin:     admin,
		Runs:      admin,
		OpenAgent: opener,
		Provider:  provider,
		Web:       web,
		PoolSize:  cfg.Agent.PoolSize,
		Logger:    logger,
		Tracer:    tracer,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := y.Shutdown(drainCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	// The token is ephemeral: regenerated on every start, never persisted.
	logger.Info("admin token generated", "token", y.AdminToken())

	srv := server.New(y,
		server.WithLogger(logger),
		server.WithRateLimits(cfg.Server.PublicRatePerMin, cfg.Server.AuthedRatePerMin),
		server.WithInstructions(cfg.Agent.Instructions),
	)
	logger.Info("starting server", "addr", cfg.Server.Addr, "db", cfg.Database.Driver, "llm", cfg.LLM.Provider)
	return srv.Serve(ctx, cfg.Server.Addr)
}

// buildProvider assembles the LLM stack: base client, optional telemetry
// wrapper, then retry on transient upstream errors.
func buildProvider(cfg config.Config, logger *slog.Logger, inst *observer.Instruments) (yae.Provider, error) {
	rc := resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Logger:   logger,
	}
	if cfg.LLM.Temperature > 0 {
		rc.Temperature = &cfg.LLM.Temperature
	}
	p, err := resolve.Provider(rc)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		p = observer.WrapProvider(p, inst)
	}
	return yae.WithProviderRetry(p, yae.RetryLogger(logger)), nil
}

// adminRunStore is the combined store interface returned by buildStores; both
// the postgres and sqlite admin stores satisfy it.
type adminRunStore interface {
	yae.AdminStore
	yae.WorkflowRunStore
}

// buildStores wires the admin store and the per-user agent opener for the
// configured database driver.
func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger, inst *observer.Instruments) (adminRunStore, yae.AgentOpener, func(), error) {
	openFiles := func(userID string, audit yae.AuditBackend) (yae.FileStore, error) {
		fs, err := local.New(filepath.Join(cfg.Agent.WorkspacePath, userID),
			local.WithAudit(audit), local.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if inst != nil {
			return observer.WrapFileStore(fs, inst), nil
		}
		return fs, nil
	}

	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		admin := postgres.NewAdmin(pool)
		if err := admin.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("init admin store: %w", err)
		}
		opener := func(ctx context.Context, userID string) (yae.AgentStores, error) {
			ds := postgres.NewDatastore(pool, userID)
			if err := ds.Init(ctx); err != nil {
				return yae.AgentStores{}, fmt.Errorf("init agent store: %w", err)
			}
			fs, err := openFiles(userID, ds)
			if err != nil {
				return yae.AgentStores{}, err
			}
			// The pool is shared across agents, so no per-agent Closer.
			return yae.AgentStores{Memory: ds, Messages: ds, Files: fs}, nil
		}
		return admin, opener, pool.Close, nil

	case "sqlite":
		if err := os.MkdirAll(filepath.Join(cfg.Database.Dir, "agents"), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create database dir: %w", err)
		}
		admin := sqlite.NewAdmin(filepath.Join(cfg.Database.Dir, "admin.db"), sqlite.WithAdminLogger(logger))
		if err := admin.Init(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("init admin store: %w", err)
		}
		opener := func(ctx context.Context, userID string) (yae.AgentStores, error) {
			ds := sqlite.NewDatastore(
				filepath.Join(cfg.Database.Dir, "agents", userID+".db"),
				sqlite.WithDatastoreLogger(logger),
			)
			if err := ds.Init(ctx); err != nil {
				return yae.AgentStores{}, fmt.Errorf("init agent store: %w", err)
			}
			fs, err := openFiles(userID, ds)
			if err != nil {
				_ = ds.Close()
				return yae.AgentStores{}, err
			}
			return yae.AgentStores{Memory: ds, Messages: ds, Files: fs, Closer: ds}, nil
		}
		return admin, opener, func() { _ = admin.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

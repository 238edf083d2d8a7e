package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/alucardeht/sqlgate-mcp/internal/config"
	"github.com/alucardeht/sqlgate-mcp/internal/daemon"
	"github.com/alucardeht/sqlgate-mcp/internal/database"
	"github.com/alucardeht/sqlgate-mcp/internal/httpapi"
	"github.com/alucardeht/sqlgate-mcp/internal/journal"
	"github.com/alucardeht/sqlgate-mcp/internal/logger"
	"github.com/alucardeht/sqlgate-mcp/internal/mcp"
	"github.com/alucardeht/sqlgate-mcp/internal/metrics"
	"github.com/alucardeht/sqlgate-mcp/internal/query"
	"github.com/alucardeht/sqlgate-mcp/internal/schema"
	"github.com/alucardeht/sqlgate-mcp/internal/tools"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log := logger.Init(cfg.LoggerConfig())
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("sqlgate: starting", "version", version, "commit", commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Config{
		Logger:          logger.ForComponent("database"),
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration,
		ConnectTimeout:  cfg.Database.ConnectTimeout.Duration,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	clock := clockwork.NewRealClock()

	executor, err := query.NewExecutor(db, query.Config{
		Logger:      logger.ForComponent("query"),
		Timeout:     cfg.Query.Timeout(),
		MaxRowLimit: cfg.Query.MaxRowLimit,
	})
	if err != nil {
		return err
	}

	introspector, err := schema.New(db, schema.Config{
		Logger:      logger.ForComponent("schema"),
		Clock:       clock,
		Schema:      cfg.Schema.Name,
		Exclude:     cfg.Schema.Exclude,
		Concurrency: cfg.Schema.Concurrency,
	})
	if err != nil {
		return err
	}
	defer introspector.Close()

	registry := tools.NewDefaultRegistry()
	handlerCfg := mcp.HandlerConfig{
		Logger:   logger.ForComponent("mcp"),
		Clock:    clock,
		Registry: registry,
		Schema:   introspector,
		Queries:  executor,
	}

	var store *journal.Store
	if cfg.Journal.Path != "" {
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		handlerCfg.Journal = store
		log.Info("journal: recording requests", "path", cfg.Journal.Path)
	}

	handler, err := mcp.NewHandler(handlerCfg)
	if err != nil {
		return err
	}

	return serve(ctx, stop, cfg, log, db, clock, handler, registry, store, executor)
}

func serve(
	ctx context.Context,
	stop context.CancelFunc,
	cfg *config.Config,
	log *slog.Logger,
	db *sql.DB,
	clock clockwork.Clock,
	handler *mcp.Handler,
	registry *tools.Registry,
	store *journal.Store,
	executor *query.Executor,
) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		httpCfg := httpapi.Config{
			Logger:       logger.ForComponent("http"),
			Clock:        clock,
			Dispatcher:   handler,
			Registry:     registry,
			ListenAddr:   cfg.Server.ListenAddr,
			QueryTimeout: cfg.Query.Timeout(),
			MaxRowLimit:  executor.MaxRowLimit(),
		}
		if store != nil {
			httpCfg.Journal = store
		}
		srv, err := httpapi.New(httpCfg)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	if cfg.Server.SocketPath != "" {
		if cfg.Server.PIDFile != "" {
			pid := daemon.NewPIDFile(cfg.Server.PIDFile)
			if err := pid.Acquire(); err != nil {
				return err
			}
			defer func() {
				if err := pid.Release(); err != nil {
					log.Warn("daemon: failed to remove pid file", "error", err)
				}
			}()
		}

		d, err := daemon.New(daemon.Config{
			Logger:     logger.ForComponent("daemon"),
			Dispatcher: handler,
			SocketPath: cfg.Server.SocketPath,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return d.Serve(ctx) })
	}

	// The stdin read cannot be interrupted, so the stdio loop stays out of
	// the group. EOF on stdin stops the process.
	if cfg.Server.Stdio {
		go func() {
			defer stop()
			if err := mcp.NewServer(handler).ProcessStream(ctx, os.Stdin, os.Stdout); err != nil {
				log.Error("stdio: stream failed", "error", err)
			}
		}()
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("sqlgate: stopped", "open_connections", db.Stats().OpenConnections)
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/db"
	nshttp "github.com/yungbote/neuroscout-backend/internal/http"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Server   *nshttp.Server

	dbService    *db.Service
	executor     jobExecutor
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg := LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := build(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	a := &App{Log: log, Cfg: cfg}

	dbs, err := db.Open(db.ConfigFromEnv(), log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.dbService = dbs
	a.DB = dbs.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	var metrics *observability.Metrics
	if observability.Enabled() {
		metrics = observability.Init(log)
	}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	if cfg.SentryDSN != "" {
		if err := observability.InitSentry(log, cfg.SentryDSN, cfg.Environment, cfg.Version); err != nil {
			log.Warn("sentry disabled", "error", err)
		}
	}

	a.Clients, err = wireClients(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Repos = wireRepos(a.DB, log)
	a.Services, err = wireServices(a.DB, log, cfg, a.Repos, a.Clients, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	reg, err := wireRegistry(log, cfg, a.Repos, a.Clients, a.Services, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.executor, err = wireExecutor(a.DB, log, a.Repos, a.Clients, a.Services, reg, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server, err = wireServer(a.DB, log, cfg, a.Services, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Run serves HTTP, executes jobs and relays bus traffic until ctx is done or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("http server listening", "addr", a.Cfg.Addr())
		return a.Server.Run(gctx)
	})
	g.Go(func() error { return a.executor.Run(gctx) })
	g.Go(func() error { return a.Services.Cache.StartForwarder(gctx) })
	g.Go(func() error {
		return services.RelayJobEvents(gctx, a.Clients.Bus, a.Services.Hub, a.Services.Origin)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownGrace)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
		cancel()
	}
	observability.FlushSentry(a.Cfg.ShutdownGrace)
	a.Clients.Close()
	if a.dbService != nil {
		_ = a.dbService.Close()
	}
	a.Log.Sync()
}

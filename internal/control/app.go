package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/racefetch/internal/core/config"
	"github.com/vietddude/racefetch/internal/core/worker"
	"github.com/vietddude/racefetch/internal/indexing/health"
	redisclient "github.com/vietddude/racefetch/internal/infra/redis"
	"github.com/vietddude/racefetch/internal/infra/rpc"
	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
	"github.com/vietddude/racefetch/internal/infra/rpc/retry"
	"github.com/vietddude/racefetch/internal/infra/storage"
	"github.com/vietddude/racefetch/internal/infra/storage/filecache"
	"github.com/vietddude/racefetch/internal/infra/storage/ledger"
	"github.com/vietddude/racefetch/internal/infra/storage/memory"
)

// App owns the resources behind a Service.
type App struct {
	Service *Service
	Monitor *health.Monitor

	client      *rpc.Client
	runs        storage.RunRepository
	redisClient *redisclient.Client
	server      *health.Server
	log         *slog.Logger
}

// NewApp builds the transport, stores and service from configuration.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{log: slog.Default().With("component", "app")}

	// 1. Transport and client
	p := provider.NewHTTPProvider(provider.Config{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		BreakerFailures:   cfg.API.BreakerFailures,
		BreakerTimeout:    cfg.API.BreakerTimeout,
		UserAgent:         cfg.API.UserAgent,
	})
	jitter := cfg.API.Retry.Jitter == nil || *cfg.API.Retry.Jitter
	a.client = rpc.NewClient(p, retry.Policy{
		MaxRetries:    cfg.API.Retry.MaxRetries,
		BaseDelay:     cfg.API.Retry.BaseDelay,
		BackoffFactor: cfg.API.Retry.BackoffFactor,
		MaxDelay:      cfg.API.Retry.MaxDelay,
		Jitter:        jitter,
	})
	a.Monitor = health.NewMonitor(a.client)

	// 2. Metadata cache: Redis when configured, files otherwise
	var meta storage.MetaStore
	var locker Locker
	if cfg.Storage.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.redisClient = rc
		meta = redisclient.NewMetaStore(rc)
		locker = rc
		a.log.Info("Using Redis metadata cache")
	} else {
		meta = filecache.New(cfg.Storage.CacheDir)
	}

	// 3. Run ledger, in memory when the database is unavailable
	runs, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		a.log.Warn("Run ledger unavailable, keeping runs in memory", "driver", cfg.Ledger.Driver, "error", err)
		a.runs = memory.NewRunRepo()
	} else {
		a.runs = runs
	}
	if _, err := worker.NewPruner(cfg.Ledger.Retention, a.runs).Prune(ctx); err != nil {
		a.log.Warn("Failed to prune run ledger", "error", err)
	}

	a.Service = NewService(Deps{
		API:         a.client,
		Fetcher:     cfg.Fetcher,
		Data:        filecache.New(cfg.Storage.DataDir),
		Meta:        meta,
		Runs:        a.runs,
		Locker:      locker,
		Monitor:     a.Monitor,
		DriverDelay: cfg.Fetch.DriverDelay,
		LockTTL:     cfg.Fetch.LockTTL,
	})
	return a, nil
}

// StartServer serves progress and metrics on port.
func (a *App) StartServer(port int) {
	a.server = health.NewServer(a.Monitor, port)
	a.server.Start()
}

// Close stops the server and releases stores and transport.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Stop(ctx))
	}
	if a.runs != nil {
		errs = append(errs, a.runs.Close())
	}
	if a.redisClient != nil {
		errs = append(errs, a.redisClient.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	return errors.Join(errs...)
}

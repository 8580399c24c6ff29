package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"care-reminders/internal/adapt"
	"care-reminders/internal/adherence"
	"care-reminders/internal/config"
	"care-reminders/internal/jobs"
	"care-reminders/internal/logging"
	"care-reminders/internal/storage"
)

// app holds everything a command needs, built from one Config.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      storage.Storage
	registry   *prometheus.Registry
	scheduler  *jobs.Scheduler
	engine     *adapt.Engine
	reconciler *adherence.Reconciler
	closers    []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a.store, err = openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobs.NewMetrics(a.registry)

	a.scheduler = jobs.NewScheduler(log, locker, metrics, loc, cfg.Jobs.LockTTL)
	a.engine = adapt.NewEngine(a.store, log,
		adapt.WithLocation(loc),
		adapt.WithConcurrency(cfg.Jobs.Concurrency),
	)
	a.reconciler = adherence.NewReconciler(a.store, log,
		adherence.WithWindow(cfg.Jobs.MissedWindow),
		adherence.WithConcurrency(cfg.Jobs.Concurrency),
	)
	return a, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case "memory":
		log.Info("using memory storage")
		return storage.NewMemoryStorage(), nil
	case "file":
		log.Info("using file storage", zap.String("dir", cfg.Dir))
		return storage.NewFileStorage(cfg.Dir)
	case "sqlite":
		log.Info("using sqlite storage", zap.String("path", cfg.SQLitePath))
		return storage.NewSQLiteStorage(cfg.SQLitePath)
	case "mongo":
		log.Info("using mongo storage", zap.String("database", cfg.MongoDatabase))
		return storage.NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("invalid storage backend: %s", cfg.Backend)
	}
}

func (a *app) openLocker(ctx context.Context) (jobs.Locker, error) {
	if a.cfg.Lock.Backend != "redis" {
		return jobs.NewMemoryLocker(), nil
	}
	rdb, err := jobs.DialRedis(ctx, a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisPassword, a.cfg.Lock.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	a.log.Info("using redis job locks", zap.String("addr", a.cfg.Lock.RedisAddr))
	return jobs.NewRedisLocker(rdb, ""), nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/config"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/database"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/logger"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/scheduler"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/service"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/tracing"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// app holds the wired dependencies every command shares.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   repository.Store
	svc     *service.RegistrationService
	tracing *tracing.Provider
	locker  scheduler.Locker
	closers []func()
}

func loadCatalog(cfg *config.Config) (*workflow.Catalog, error) {
	if cfg.Catalog.File == "" {
		return workflow.DefaultCatalog(), nil
	}
	return workflow.LoadCatalogFile(cfg.Catalog.File)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// ── 1. Tracing ────────────────────────────────────────────────────────
	a.tracing, err = tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.tracing.Shutdown(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	})

	// ── 2. Workflow catalog ───────────────────────────────────────────────
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	// ── 3. Store ──────────────────────────────────────────────────────────
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("using in-memory store; registrations are lost on exit")
		a.store = repository.NewMemoryStore()
	default:
		pool, err := database.NewPool(ctx, cfg.Database.Config, log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Database.EnsureSchema {
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return nil, fmt.Errorf("database schema: %w", err)
			}
		}
		a.store = repository.NewPostgresStore(pool)
		log.Info("connected to PostgreSQL")
	}

	// ── 4. Notifications ──────────────────────────────────────────────────
	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.AMQP.URL != "" {
		pub, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.QueuePrefix, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		notifier = notify.Multi{notify.NewLogNotifier(log), pub}
		log.Info("publishing events to RabbitMQ")
	}

	// ── 5. Job lock ───────────────────────────────────────────────────────
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.locker = scheduler.NewRedisLocker(rdb, "")
	} else {
		a.locker = scheduler.NewLocalLocker()
	}

	// ── 6. Service ────────────────────────────────────────────────────────
	promotion, err := service.ParsePromotionPolicy(cfg.Policy.Promotion)
	if err != nil {
		return nil, err
	}
	a.svc = service.NewRegistrationService(a.store, catalog, notifier, log, service.Options{
		Promotion:            promotion,
		ForbidSelfCompletion: cfg.Policy.ForbidSelfCompletion,
		Tracer:               a.tracing.Tracer(),
		OverrideCacheTTL:     cfg.Policy.OverrideCacheTTL,
	})
	return a, nil
}

// newScheduler returns a scheduler carrying the lifecycle jobs.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.locker, a.log, scheduler.Config{
		LockTTL:    a.cfg.Scheduler.LockTTL,
		JobTimeout: a.cfg.Scheduler.JobTimeout,
		LockPrefix: scheduler.DefaultConfig().LockPrefix,
	})
	for _, job := range scheduler.LifecycleJobs(a.svc, a.cfg.Scheduler.Jobs) {
		if err := s.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.log.Sync()
}

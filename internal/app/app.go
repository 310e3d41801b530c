// Package app assembles the store, the services and the background workers
// shared by the server and villagectl.
package app

import (
	"context"
	"errors"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/db"
	"village_backend/internal/logger"
	"village_backend/internal/migrations"
	"village_backend/internal/repository"
	"village_backend/internal/service"
	"village_backend/internal/storage"
	"village_backend/internal/storage/sqlite"
	"village_backend/internal/ton"
	"village_backend/internal/validation"
	"village_backend/internal/village"
)

// App holds one wired instance of every service
type App struct {
	Config    *config.Config
	Store     storage.Store
	Audit     *service.AuditService
	Profiles  *service.ProfileService
	Counters  *service.CounterService
	Sagas     *service.SagaService
	Economy   *service.EconomyService
	Villages  *service.VillageService
	WorldBoss *service.WorldBossService
	Payments  *service.PaymentService
	Tokens    *service.TokenIssuer
	Engine    *village.Engine
}

// OpenStore connects to Postgres when DATABASE_URL is set and to SQLite otherwise.
// Pending Postgres migrations are applied before the store is returned.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		pool := db.Connect(cfg.DatabaseURL, cfg.DBMaxConns)
		err := migrations.Apply(ctx, pool, func(name string) {
			logger.Info("migration applied", "name", name)
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		return repository.NewStore(pool), nil
	}
	logger.Info("DATABASE_URL not set, using sqlite", "path", cfg.SQLitePath)
	return sqlite.Open(cfg.SQLitePath)
}

// New wires the services over store
func New(cfg *config.Config, store storage.Store) *App {
	retry := service.RetryPolicyFromConfig(cfg.Retry)
	audit := service.NewAuditService(store)
	validator := validation.New(validation.BoundsFromConfig(cfg.Validator, cfg.Economy.StakeBonusRate))
	engine := village.NewEngine(village.StandardCatalog{})

	profiles := service.NewProfileService(store, validator, audit, retry, cfg.Energy)
	counters := service.NewCounterService(store, service.PoolsFromConfig(cfg), audit, retry)
	sagas := service.NewSagaService(store, audit)

	var lookup service.TransactionLookup
	if cfg.Premium.Wallet != "" {
		opts := []ton.Option{ton.WithPollInterval(cfg.Premium.PollInterval)}
		if cfg.Premium.TonAPIURL != "" {
			opts = append(opts, ton.WithBaseURL(cfg.Premium.TonAPIURL))
		}
		lookup = ton.NewClient(ton.Network(cfg.Premium.TonNetwork), cfg.Premium.TonAPIKey, opts...)
	} else {
		logger.Warn("PREMIUM_WALLET not set, premium purchases disabled")
	}

	return &App{
		Config:    cfg,
		Store:     store,
		Audit:     audit,
		Profiles:  profiles,
		Counters:  counters,
		Sagas:     sagas,
		Economy:   service.NewEconomyService(profiles, counters, sagas, audit, cfg.Economy),
		Villages:  service.NewVillageService(profiles, engine, audit),
		WorldBoss: service.NewWorldBossService(store, profiles, counters, sagas, audit, retry, cfg.WorldBoss),
		Payments:  service.NewPaymentService(store, profiles, lookup, audit, cfg.Premium),
		Tokens:    service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Engine:    engine,
	}
}

// SweepOnce reconciles sagas and payments older than the configured minimum age
func (a *App) SweepOnce(ctx context.Context) (service.SweepReport, int, error) {
	olderThan := time.Now().Add(-a.Config.Sweep.MinAge)
	report, sagaErr := a.Sagas.Sweep(ctx, olderThan, a.Config.Sweep.Batch)
	paid, payErr := a.Payments.ReapplyPending(ctx, olderThan, a.Config.Sweep.Batch)
	return report, paid, errors.Join(sagaErr, payErr)
}

// RunWorkers rotates the world boss and sweeps stale sagas until ctx is done
func (a *App) RunWorkers(ctx context.Context) {
	go a.every(ctx, "worldboss_rotate", a.Config.WorldBoss.RotateInterval, func(ctx context.Context) error {
		_, _, err := a.WorldBoss.Rotate(ctx)
		return err
	})
	go a.every(ctx, "sweep", a.Config.Sweep.Interval, func(ctx context.Context) error {
		_, _, err := a.SweepOnce(ctx)
		return err
	})
}

func (a *App) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		logger.Warn("worker disabled", "worker", name)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error("worker run failed", "worker", name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

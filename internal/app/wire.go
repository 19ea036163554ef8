package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/balance"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/license"
	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
	"github.com/odyssey-erp/stockledger/internal/txntype"
	"github.com/odyssey-erp/stockledger/migrations"
)

// Services is the wired object graph shared by the server and the worker.
type Services struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	Catalog     *catalog.Service
	Sites       *sites.Service
	Ledger      *ledger.Service
	Balances    *balance.Service
	License     *license.Gate
	Audit       *audit.Service
	Idempotency *shared.IdempotencyStore
}

// Close releases the pool and the Redis client.
func (s *Services) Close(logger *slog.Logger) {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Build connects to Postgres and Redis, checks the schema and wires every service. A
// Redis outage only disables the balance cache.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	if cfg.MigrateOnStart {
		applied, err := db.Migrate(cfg.PGDSN, migrations.FS, ".")
		if err != nil {
			return nil, err
		}
		logger.Info("migrations checked", slog.Bool("applied", applied))
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if err := txntype.Verify(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transaction type table: %w", err)
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	s := &Services{Pool: pool, Redis: redisClient, Metrics: observability.NewMetrics()}
	formatter := numbering.NewFormatter(cfg.NumberPrefix)
	balanceCache := balance.NewCache(redisClient, cfg.CacheTTL)

	s.Catalog = catalog.NewService(catalog.NewRepository(pool), catalog.ServiceConfig{
		Cache:  s.Metrics.CountInvalidations("catalog", balanceCache),
		Logger: logger,
	})
	s.Sites = sites.NewService(sites.NewRepository(pool), sites.ServiceConfig{
		Cache:  s.Metrics.CountInvalidations("sites", balanceCache),
		Logger: logger,
	})
	s.Idempotency = shared.NewIdempotencyStore(pool)
	s.Ledger = ledger.NewService(
		ledger.NewRepository(pool, numbering.NewPGAuthority(numbering.CounterVoucher)),
		s.Catalog,
		s.Sites,
		ledger.ServiceConfig{
			Cache:       s.Metrics.CountInvalidations("ledger", balanceCache),
			Idempotency: s.Idempotency,
			Recorder:    s.Metrics,
			Formatter:   formatter,
			Logger:      logger,
		},
	)
	s.Balances = balance.NewService(balance.NewStore(pool), balance.ServiceConfig{
		Cache:     balanceCache,
		Formatter: formatter,
		Logger:    logger,
	})
	s.Audit = audit.NewService(audit.NewRepository(pool))
	s.License, err = license.NewGate(license.NewMetadataStore(pool), license.Config{
		Secret:   []byte(cfg.LicenseSecret),
		Trial:    cfg.LicenseTrial,
		SystemID: cfg.LicenseSystemID,
	})
	if err != nil {
		s.Close(logger)
		return nil, err
	}
	return s, nil
}

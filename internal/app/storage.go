package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/internal/seed"
	"github.com/xenking/cookmart/internal/storage/memory"
	"github.com/xenking/cookmart/internal/storage/postgres"
	"github.com/xenking/cookmart/pkg/health"
)

// stores bundles the repositories behind the domain services.
type stores struct {
	coupons coupon.Repository
	usage   coupon.RedemptionRepository
	stats   coupon.StatsSource
	chat    chat.Repository

	// db is nil for the in-memory backend.
	db    health.Pinger
	close func()
}

func openStores(ctx context.Context, cfg *Config) (*stores, error) {
	lg := zctx.From(ctx)

	switch cfg.Storage {
	case StorageMemory:
		s := memory.New()
		if err := seed.Load(ctx, seed.MemorySink(s), seed.Demo(time.Now())); err != nil {
			return nil, errors.Wrap(err, "seed memory store")
		}
		lg.Warn("Using in-memory storage, data is lost on restart")
		return &stores{
			coupons: s,
			usage:   s,
			stats:   s,
			chat:    s,
			close:   func() {},
		}, nil

	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Connected to PostgreSQL", zap.Int32("max_conns", pool.Config().MaxConns))
		return &stores{
			coupons: postgres.NewCouponRepository(pool),
			usage:   postgres.NewRedemptionRepository(pool),
			stats:   postgres.NewStatsRepository(pool),
			chat:    postgres.NewChatRepository(pool),
			db:      pool,
			close:   pool.Close,
		}, nil
	}
}

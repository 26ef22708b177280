package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/billing/pgstore"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/redis"
)

// Bootstrap connects PostgreSQL (and Redis when configured), applies the
// schema, seeds the plan catalog and wires the App. The returned function
// releases the connections.
func Bootstrap(ctx context.Context, cfg Config, log *slog.Logger) (*App, func(), error) {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	closers := []func(){pool.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		closeAll()
		return nil, nil, err
	}

	if err := pg.Migrate(ctx, pool, cfg.PG, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
		return fail(err)
	}
	store := pgstore.New(pool)

	if cfg.PlansFile != "" {
		if err := seedPlans(ctx, store, cfg); err != nil {
			return fail(err)
		}
		log.LogAttrs(ctx, slog.LevelInfo, "plan catalog seeded", slog.String("file", cfg.PlansFile))
	}

	deps := Deps{
		Store:  store,
		Logger: log,
		Checks: map[string]func(context.Context) error{"postgres": pg.Healthcheck(pool)},
	}
	if cfg.Stripe.SecretKey != "" {
		deps.Gateway = gateway.NewStripeGateway(cfg.Stripe.SecretKey,
			gateway.WithProrationBehavior(cfg.Stripe.ProrationBehavior),
			gateway.WithStripeLogger(log),
		)
	}

	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.LogAttrs(context.Background(), slog.LevelWarn, "failed to close redis client", logger.Error(err))
			}
		})
		deps.Checks["redis"] = redis.Healthcheck(client)
		deps.Locker = redis.NewLocker(client, redis.WithLockPrefix(cfg.LockPrefix), redis.WithLockTTL(cfg.LockTTL))
		publisher, err := redis.NewStreamPublisher(client, cfg.OutboxStream, redis.WithMaxLen(cfg.OutboxStreamCap))
		if err != nil {
			return fail(err)
		}
		deps.Publisher = publisher
	} else {
		log.LogAttrs(ctx, slog.LevelWarn, "redis is not configured; jobs are not coordinated and the outbox is not relayed")
	}

	app, err := NewApp(cfg, deps)
	if err != nil {
		return fail(err)
	}
	return app, closeAll, nil
}

func seedPlans(ctx context.Context, store billing.Store, cfg Config) error {
	f, err := os.Open(cfg.PlansFile)
	if err != nil {
		return fmt.Errorf("failed to open plan catalog: %w", err)
	}
	defer f.Close()

	plans, err := billing.LoadPlans(f, billing.Capability(cfg.BaselineCapability))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to load plan catalog %s", cfg.PlansFile), err)
	}
	return billing.SeedPlans(ctx, store, plans, time.Now())
}

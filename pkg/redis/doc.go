// Package redis connects the billing worker to Redis, which it uses for job
// coordination and outbox delivery.
//
// On top of go-redis the package adds:
//
//   - `Connect`, which retries the connection using the supplied
//     configuration.
//   - `Locker`, a gocron distributed locker so scheduled sweeps run on one
//     worker at a time.
//   - `StreamPublisher`, a billing.Publisher appending outbox messages to a
//     Redis stream.
//   - `Healthcheck`, a ping probe registered with the worker's dependency checks.
//
// Configuration is described by the `Config` struct whose fields can be
// populated from environment variables via github.com/caarlos0/env.
//
// # Usage
//
// Import the package:
//
//	import "github.com/dmitrymomot/billing/pkg/redis"
//
// Create configuration (most projects rely on env parsing):
//
//	cfg := redis.Config{
//	    ConnectionURL:  "redis://localhost:6379/0",
//	    RetryAttempts:  3,
//	    RetryInterval:  5 * time.Second,
//	    ConnectTimeout: 30 * time.Second,
//	}
//
// Connect with auto-retry:
//
//	ctx := context.Background()
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    // handle error, probably terminate the application
//	}
//	defer client.Close()
//
// Coordinate scheduled jobs and publish outbox messages:
//
//	scheduler, err := gocron.NewScheduler(
//	    gocron.WithDistributedLocker(redis.NewLocker(client, redis.WithLockTTL(time.Minute))),
//	)
//
//	publisher, err := redis.NewStreamPublisher(client, "billing:notifications", redis.WithMaxLen(100000))
//	relay := billing.NewOutboxRelay(store, publisher, 100)
//
// Probe the server:
//
//	if err := redis.Healthcheck(client)(ctx); err != nil {
//	    // redis is not reachable
//	}
//
// # Errors
//
// Sentinel errors (ErrRedisNotReady, ErrLockNotAcquired, ...) are joined with
// the underlying go-redis error, so both match with errors.Is.
package redis

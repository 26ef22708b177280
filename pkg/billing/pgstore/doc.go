// Package pgstore implements billing.Store on PostgreSQL using pgx/v5.
//
// The schema ships as embedded goose migrations and is applied with pg.Migrate:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
//
// Subscriptions carry an optimistic row version: UpdateSubscription only
// writes when the version it read is still current and reports
// billing.ErrConcurrentUpdate otherwise. The one-active-subscription-per-scope
// rule, invoice idempotency and outbox deduplication are enforced by unique
// indexes, so concurrent writers across processes observe the same guarantees
// as the in-memory store.
//
// Outbox messages are appended inside the caller's unit of work. An external
// dispatcher drains them with PendingOutbox and MarkOutboxDispatched.
package pgstore

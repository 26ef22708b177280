// Package pg bootstraps PostgreSQL access for the billing services on top of
// pgx/v5: a pooled connection with retry, goose migrations from an embedded or
// on-disk directory, a transaction helper, health checks and error
// classification helpers.
//
// # Usage
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//		return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
//		return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE plans SET is_active = false WHERE id = $1", id)
//		return err
//	})
//
// # Error Handling
//
// IsDuplicateKeyError, IsForeignKeyViolationError and IsSerializationError
// unwrap *pgconn.PgError so callers can map database failures onto their own
// sentinel errors.
package pg

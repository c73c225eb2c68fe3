// Package postgres provides the durable storage layer: pgx connection
// pooling with startup retry, goose-managed embedded migrations, and
// PostgreSQL-backed implementations of the notification and template storage
// interfaces.
//
// Usage:
//
//	pool, err := postgres.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := postgres.Migrate(ctx, pool, cfg, logger); err != nil {
//		return err
//	}
//
//	store := postgres.NewNotificationStorage(pool)
package postgres

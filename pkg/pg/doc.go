// Package pg opens the PostgreSQL pool behind the billing store and applies
// its goose migrations.
//
// Connect retries with exponential back-off until the server answers, so the
// service can start before the database does. Migrate runs an embedded
// migration set under the table named by Config.MigrationsTable. WithTx wraps
// a function in a transaction. Healthcheck is meant for the readiness probe.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if cfg.AutoMigrate {
//	    if err := pg.Migrate(ctx, pool, pgstore.Migrations, cfg, log); err != nil {
//	        return err
//	    }
//	}
//
// Driver errors are classified with IsNotFoundError, IsDuplicateKeyError and
// IsSerializationError.
package pg

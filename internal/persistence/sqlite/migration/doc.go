// Package migration applies versioned schema changes to the planner's SQLite database.
//
// Migrations are plain SQL files named {version}_{description}.sql. The
// planner's own schema is embedded into the binary (see Files), but any
// fs.FS can be scanned, which keeps tests independent of the working
// directory.
//
// Applied versions are tracked in a schema_migrations table so each file runs
// exactly once. Every file executes inside its own transaction.
//
// Example usage:
//
//	manager := NewManager(NewScanner(Files, "sql"), NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration

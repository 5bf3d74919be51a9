// Package database provides the SQLite store behind the command journal.
//
// It opens the database in WAL mode with a busy timeout, limits the pool to
// the single writer SQLite supports and applies versioned migrations read
// from any fs.FS (the embedded migrations package in production,
// fstest.MapFS in tests).
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are forward-only files named YYYYMMDD_HHMMSS_description.sql.
package database

package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// Migration is one forward-only schema change, read from a file named
// YYYYMMDD_HHMMSS_description.sql.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// Migrate applies every migration at the root of fsys that schema_migrations
// does not list yet, oldest first, each in its own transaction. It returns
// the versions it applied. A failure keeps the earlier ones; the next call
// resumes at the failed migration.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) ([]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	pending, err := db.PendingMigrations(ctx, fsys)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(pending))
	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return applied, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// PendingMigrations lists the migrations in fsys not applied yet.
// schema_migrations must exist.
func (db *DB) PendingMigrations(ctx context.Context, fsys fs.FS) ([]Migration, error) {
	all, err := readMigrations(fsys)
	if err != nil {
		return nil, err
	}

	done, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range all {
		if _, ok := done[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// appliedVersions maps each applied version to when it was applied.
func (db *DB) appliedVersions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]time.Time)
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		done[version], _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by apply
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return done, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// readMigrations loads the .sql files at the root of fsys, sorted by
// version. Other files are skipped. A nil fsys has no migrations.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []Migration
	for _, name := range names {
		version, desc, ok := splitMigrationName(name)
		if !ok {
			continue
		}
		sql, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: desc, SQL: string(sql)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// splitMigrationName turns "20260301_000000_audit_logs.sql" into
// ("20260301_000000", "audit_logs").
func splitMigrationName(name string) (version, desc string, ok bool) {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	date, rest, found := strings.Cut(base, "_")
	if !found || len(date) != 8 {
		return "", "", false
	}
	clock, desc, found := strings.Cut(rest, "_")
	if !found || len(clock) != 6 || desc == "" {
		return "", "", false
	}
	return date + "_" + clock, desc, true
}

// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var embeddedMigrations embed.FS

// RunMigrations applies the embedded *.up.sql files for dbType that are not
// yet recorded in schema_migrations. Each migration runs in its own
// transaction.
func RunMigrations(ctx context.Context, db *sql.DB, dbType string) error {
	migrationsPath := fmt.Sprintf("migrations/%s", dbType)

	entries, err := fs.ReadDir(embeddedMigrations, migrationsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			dbLogf("no embedded migrations for %s", dbType)
			return nil
		}
		return fmt.Errorf("failed to read embedded migrations (%s): %w", migrationsPath, err)
	}

	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	if err := ensureSchemaMigrationsTable(ctx, db, dbType); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	for _, fname := range ups {
		version := strings.TrimSuffix(fname, ".up.sql")

		var exists int
		err := db.QueryRowContext(ctx, placeholders(dbType, "SELECT 1 FROM schema_migrations WHERE version = ?"), version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check migration version %s: %w", version, err)
		}

		p := path.Join(migrationsPath, fname)
		data, err := embeddedMigrations.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", p, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		insert := placeholders(dbType, "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)")
		if _, err := tx.ExecContext(ctx, insert, version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}
		dbLogf("applied migration %s", version)
	}
	if err := ensureUpdatedAtColumn(ctx, db, dbType); err != nil {
		return fmt.Errorf("failed to upgrade payment_confirmation: %w", err)
	}
	return nil
}

// ensureUpdatedAtColumn adds updated_at to a payment_confirmation table that
// predates it. CREATE TABLE IF NOT EXISTS leaves such tables untouched.
func ensureUpdatedAtColumn(ctx context.Context, db *sql.DB, dbType string) error {
	var probe string
	switch dbType {
	case "sqlite":
		probe = `SELECT COUNT(*) FROM pragma_table_info('payment_confirmation') WHERE name = 'updated_at'`
	case "postgres":
		probe = `SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = 'payment_confirmation' AND column_name = 'updated_at'`
	case "mysql":
		probe = `SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = 'payment_confirmation' AND column_name = 'updated_at'`
	default:
		return nil
	}
	var n int
	if err := db.QueryRowContext(ctx, probe).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// SQLite rejects non-constant defaults in ADD COLUMN.
	stmts := []string{`ALTER TABLE payment_confirmation ADD COLUMN updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP`}
	if dbType == "sqlite" {
		stmts = []string{
			`ALTER TABLE payment_confirmation ADD COLUMN updated_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00'`,
			`UPDATE payment_confirmation SET updated_at = CURRENT_TIMESTAMP`,
		}
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	dbLogf("added updated_at to existing payment_confirmation table")
	return nil
}

// ensureSchemaMigrationsTable creates schema_migrations if missing. MySQL does
// not permit indexing TEXT columns without a length, so it gets a VARCHAR.
func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB, dbType string) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP)`
	if dbType == "mysql" {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(191) PRIMARY KEY, applied_at TIMESTAMP)`
	}
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// placeholders rewrites ? placeholders to $n for postgres.
func placeholders(dbType, query string) string {
	if dbType != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

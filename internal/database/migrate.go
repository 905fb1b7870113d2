package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

// Schema files are embedded so migrations work regardless of working
// directory or executable location. Each file is named
// <database>_<version>_<description>.sql and applied in filename order.
//
//go:embed schemas/*.sql
var schemaFS embed.FS

// Migrate applies all pending schema migrations for this database.
// Applied migrations are tracked in a schema_migrations table so the
// call is idempotent and safe to run on every startup.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table for %s: %w", db.name, err)
	}

	pending, err := db.pendingMigrations()
	if err != nil {
		return err
	}

	for _, filename := range pending {
		content, err := schemaFS.ReadFile("schemas/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		err = WithTransaction(db.conn, func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(content)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", filename, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO schema_migrations (filename) VALUES (?)`, filename,
			); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", filename, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %s for %s: %w", filename, db.name, err)
		}
	}

	return nil
}

// pendingMigrations returns this database's migration files that have
// not been applied yet, in filename order.
func (db *DB) pendingMigrations() ([]string, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schemas: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.conn.Query(`SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations for %s: %w", db.name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[filename] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate migration rows: %w", err)
	}

	prefix := db.name + "_"
	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)

	return pending, nil
}

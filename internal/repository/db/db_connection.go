// Package db bootstraps the SQLite database backing the measurement store.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// InitDB opens/creates a SQLite DB file and ensures the schema exists.
func InitDB(path string) (*sql.DB, error) {
	conn, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite tolerates a single writer; keep the pool tiny.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return conn, nil
}

// Wide per-phase layout: five nullable columns per phase, NULL meaning the
// phase (or field) was not reported. NULL and 0 are different values here on
// purpose.
const schemaMeasurements = `
CREATE TABLE IF NOT EXISTS measurements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    enqueued_time TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    v1 REAL, i1 REAL, p1 REAL, f1 REAL, pf1 REAL,
    v2 REAL, i2 REAL, p2 REAL, f2 REAL, pf2 REAL,
    v3 REAL, i3 REAL, p3 REAL, f3 REAL, pf3 REAL,
    v4 REAL, i4 REAL, p4 REAL, f4 REAL, pf4 REAL,
    v5 REAL, i5 REAL, p5 REAL, f5 REAL, pf5 REAL,
    v6 REAL, i6 REAL, p6 REAL, f6 REAL, pf6 REAL,
    v7 REAL, i7 REAL, p7 REAL, f7 REAL, pf7 REAL
);
`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_measurements_device_id ON measurements (device_id);`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_enqueued_time ON measurements (enqueued_time);`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_created_at ON measurements (created_at);`,
}

func ensureSchema(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmts := append([]string{schemaMeasurements}, schemaIndexes...)
	for i, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

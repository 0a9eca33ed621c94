package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite is not great with many writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

const schemaDeviceStates = `
CREATE TABLE IF NOT EXISTS device_states (
    device_id TEXT PRIMARY KEY,
    online BOOLEAN NOT NULL,
    relay TEXT NOT NULL,
    siren TEXT NOT NULL,
    ip TEXT,
    updated_at TIMESTAMP NOT NULL,
    last_heartbeat_at TIMESTAMP
);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'RESIDENTE',
    urbanization_id INTEGER
);
`

const schemaSirens = `
CREATE TABLE IF NOT EXISTS sirens (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT UNIQUE NOT NULL,
    urbanization_id INTEGER,
    created_at TIMESTAMP NOT NULL
);
`

const schemaAssignments = `
CREATE TABLE IF NOT EXISTS assignments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    siren_id INTEGER NOT NULL REFERENCES sirens(id),
    active BOOLEAN NOT NULL DEFAULT 1,
    UNIQUE (user_id, siren_id)
);
`

const schemaActivationLogs = `
CREATE TABLE IF NOT EXISTS activation_logs (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    siren_id INTEGER REFERENCES sirens(id),
    user_id INTEGER REFERENCES users(id),
    action TEXT NOT NULL,
    result TEXT NOT NULL,
    reason TEXT,
    ip TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const indexActivationLogsCreatedAt = `
CREATE INDEX IF NOT EXISTS idx_activation_logs_created_at ON activation_logs (created_at);
`

const schemaAutoOffDeadlines = `
CREATE TABLE IF NOT EXISTS auto_off_deadlines (
    device_id TEXT PRIMARY KEY,
    command_id TEXT NOT NULL,
    deadline TIMESTAMP NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaDeviceStates,
		schemaUsers,
		schemaSirens,
		schemaAssignments,
		schemaActivationLogs,
		indexActivationLogsCreatedAt,
		schemaAutoOffDeadlines,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

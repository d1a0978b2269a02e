package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order. Timestamps are unix
// milliseconds; full records live in data_json and indexed columns are
// denormalized copies for filtering.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Error events
			CREATE TABLE IF NOT EXISTS error_events (
				id TEXT PRIMARY KEY,
				fingerprint TEXT NOT NULL,
				ts_ms INTEGER NOT NULL,
				level TEXT NOT NULL,
				type TEXT NOT NULL,
				message TEXT NOT NULL,
				workflow_id TEXT,
				user_id TEXT,
				environment TEXT,
				data_json TEXT NOT NULL
			);

			-- Error groups, one per fingerprint
			CREATE TABLE IF NOT EXISTS error_groups (
				fingerprint TEXT PRIMARY KEY,
				id TEXT NOT NULL,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				level TEXT NOT NULL,
				first_seen_ms INTEGER NOT NULL,
				last_seen_ms INTEGER NOT NULL,
				count INTEGER NOT NULL,
				data_json TEXT NOT NULL
			);

			-- Alert rules
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				data_json TEXT NOT NULL,
				created_at_ms INTEGER NOT NULL,
				updated_at_ms INTEGER NOT NULL
			);

			-- Alerts
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				fingerprint TEXT NOT NULL,
				type TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				source TEXT,
				ts_ms INTEGER NOT NULL,
				data_json TEXT NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_events_fingerprint ON error_events(fingerprint);
			CREATE INDEX IF NOT EXISTS idx_events_ts ON error_events(ts_ms);
			CREATE INDEX IF NOT EXISTS idx_groups_last_seen ON error_groups(last_seen_ms);
			CREATE INDEX IF NOT EXISTS idx_groups_status ON error_groups(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint ON alerts(fingerprint);
			CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts_ms);
		`,
	},
	{
		Version: 2,
		Name:    "scheduler_state",
		Up: `
			-- Escalation instances
			CREATE TABLE IF NOT EXISTS escalations (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				status TEXT NOT NULL,
				next_escalation_ms INTEGER,
				started_at_ms INTEGER NOT NULL,
				data_json TEXT NOT NULL
			);

			-- Notification results
			CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				alert_id TEXT,
				channel TEXT NOT NULL,
				status TEXT NOT NULL,
				next_retry_ms INTEGER,
				created_at_ms INTEGER NOT NULL,
				data_json TEXT NOT NULL
			);

			-- Fingerprint suppression table
			CREATE TABLE IF NOT EXISTS suppressions (
				fingerprint TEXT PRIMARY KEY,
				until_ms INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
			CREATE INDEX IF NOT EXISTS idx_escalations_alert ON escalations(alert_id);
			CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
			CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at_ms);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/blazetrack/internal/metrics"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	events        *sqliteEventRepo
	groups        *sqliteGroupRepo
	alerts        *sqliteAlertRepo
	rules         *sqliteRuleRepo
	escalations   *sqliteEscalationRepo
	notifications *sqliteNotificationRepo
	suppressions  *sqliteSuppressionRepo
}

// NewSQLiteStorage creates a new SQLite storage. Path may be ":memory:".
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	s.events = &sqliteEventRepo{db: db}
	s.groups = &sqliteGroupRepo{db: db}
	s.alerts = &sqliteAlertRepo{db: db}
	s.rules = &sqliteRuleRepo{db: db}
	s.escalations = &sqliteEscalationRepo{db: db}
	s.notifications = &sqliteNotificationRepo{db: db}
	s.suppressions = &sqliteSuppressionRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Ping checks the connection health.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not open")
	}
	return s.db.PingContext(ctx)
}

// Events returns the event repository.
func (s *SQLiteStorage) Events() EventRepository { return s.events }

// Groups returns the error group repository.
func (s *SQLiteStorage) Groups() GroupRepository { return s.groups }

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository { return s.alerts }

// Rules returns the alert rule repository.
func (s *SQLiteStorage) Rules() RuleRepository { return s.rules }

// Escalations returns the escalation instance repository.
func (s *SQLiteStorage) Escalations() EscalationRepository { return s.escalations }

// Notifications returns the notification result repository.
func (s *SQLiteStorage) Notifications() NotificationRepository { return s.notifications }

// Suppressions returns the suppression repository.
func (s *SQLiteStorage) Suppressions() SuppressionRepository { return s.suppressions }

// Helper functions

func observe(op, backend string, start time.Time, err error) {
	metrics.StorageQueryDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageErrors.WithLabelValues(op, backend).Inc()
	}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

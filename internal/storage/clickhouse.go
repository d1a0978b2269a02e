package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const backendClickHouse = "clickhouse"

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for event retention.
	RetentionDays int
}

// ClickHouseStorage implements EventStorage for ClickHouse.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	logger *slog.Logger
	db     *sql.DB
	events *clickhouseEventRepo
}

// NewClickHouseStorage creates a new ClickHouse event storage.
func NewClickHouseStorage(config *ClickHouseConfig, logger *slog.Logger) *ClickHouseStorage {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ClickHouseStorage{config: config, logger: logger.With("component", "clickhouse")}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.events = &clickhouseEventRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the error_events table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, eventsTableDDL(s.config.RetentionDays)); err != nil {
		return fmt.Errorf("create error_events table: %w", err)
	}

	indexes := []string{
		"ALTER TABLE error_events ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
		"ALTER TABLE error_events ADD INDEX IF NOT EXISTS idx_workflow workflow_id TYPE bloom_filter(0.01) GRANULARITY 4",
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Index creation may not be supported in all ClickHouse versions.
			s.logger.Warn("failed to create index", "error", err)
		}
	}
	return nil
}

func eventsTableDDL(retentionDays int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS error_events (
			id String,
			fingerprint String,
			timestamp DateTime64(3, 'UTC'),
			level LowCardinality(String),
			type LowCardinality(String),
			message String,
			workflow_id String,
			user_id String,
			environment LowCardinality(String),
			data String,
			_date Date DEFAULT toDate(timestamp)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (fingerprint, timestamp, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, retentionDays)
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("clickhouse not open")
	}
	return s.db.PingContext(ctx)
}

// Events returns the event repository.
func (s *ClickHouseStorage) Events() EventRepository {
	return s.events
}

// clickhouseEventRepo implements EventRepository for ClickHouse.
type clickhouseEventRepo struct {
	db *sql.DB
}

func (r *clickhouseEventRepo) Store(ctx context.Context, e *models.ErrorEvent) error {
	return r.StoreBatch(ctx, []*models.ErrorEvent{e})
}

// StoreBatch inserts events in one transaction.
func (r *clickhouseEventRepo) StoreBatch(ctx context.Context, events []*models.ErrorEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("store_events", backendClickHouse, start, err) }(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO error_events (
			id, fingerprint, timestamp, level, type, message,
			workflow_id, user_id, environment, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Fingerprint, e.Timestamp, string(e.Level), e.Type, e.Message,
			e.Context.WorkflowID, e.Context.UserID, e.Context.Environment, string(data),
		); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *clickhouseEventRepo) Search(ctx context.Context, filter *ErrorFilter) (res *ErrorSearchResult, err error) {
	defer func(start time.Time) { observe("search_events", backendClickHouse, start, err) }(time.Now())
	if filter == nil {
		filter = &ErrorFilter{}
	}

	where, args := buildClickHouseWhere(filter)

	var total uint64
	if err := r.db.QueryRowContext(ctx, "SELECT count() FROM error_events"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	query := "SELECT data FROM error_events" + where +
		fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limitOrDefault(filter.Limit))
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var events []*models.ErrorEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e := &models.ErrorEvent{}
		if err := json.Unmarshal([]byte(data), e); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return &ErrorSearchResult{
		Events:  events,
		Total:   int64(total),
		HasMore: uint64(filter.Offset+len(events)) < total,
	}, nil
}

func (r *clickhouseEventRepo) Trends(ctx context.Context, tr models.TimeRange, g Granularity) (points []TrendPoint, err error) {
	defer func(start time.Time) { observe("event_trends", backendClickHouse, start, err) }(time.Now())

	rows, err := r.db.QueryContext(ctx, trendsQuery(g), tr.Start, tr.End)
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p TrendPoint
		var c uint64
		if err := rows.Scan(&p.Bucket, &c); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		p.Count = int64(c)
		points = append(points, p)
	}
	return points, rows.Err()
}

func trendsQuery(g Granularity) string {
	fn := "toStartOfHour"
	if g == GranularityDay {
		fn = "toStartOfDay"
	}
	return fmt.Sprintf(`
		SELECT %s(timestamp) AS bucket, count()
		FROM error_events
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY bucket
		ORDER BY bucket
	`, fn)
}

// DeleteBefore removes events older than the specified time.
func (r *clickhouseEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var count uint64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM error_events WHERE timestamp < ?", before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// ALTER TABLE DELETE is asynchronous in ClickHouse.
	if _, err := r.db.ExecContext(ctx, "ALTER TABLE error_events DELETE WHERE timestamp < ?", before); err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return int64(count), nil
}

func buildClickHouseWhere(f *ErrorFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}

	if !f.StartTime.IsZero() {
		add("timestamp >= ?", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		add("timestamp <= ?", f.EndTime)
	}
	if f.Fingerprint != "" {
		add("fingerprint = ?", f.Fingerprint)
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.WorkflowID != "" {
		add("workflow_id = ?", f.WorkflowID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Environment != "" {
		add("environment = ?", f.Environment)
	}
	if f.MessageContains != "" {
		add("positionCaseInsensitive(message, ?) > 0", f.MessageContains)
	}
	if len(f.Levels) > 0 {
		conds = append(conds, fmt.Sprintf("level IN (%s)", placeholders(len(f.Levels))))
		for _, l := range f.Levels {
			args = append(args, string(l))
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

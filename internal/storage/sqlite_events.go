package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const backendSQLite = "sqlite"

type sqliteEventRepo struct {
	db *sql.DB
}

func (r *sqliteEventRepo) Store(ctx context.Context, event *models.ErrorEvent) (err error) {
	defer func(start time.Time) { observe("store_event", backendSQLite, start, err) }(time.Now())

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO error_events (id, fingerprint, ts_ms, level, type, message,
			workflow_id, user_id, environment, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		event.ID, event.Fingerprint, toMillis(event.Timestamp), string(event.Level), event.Type, event.Message,
		nullString(event.Context.WorkflowID), nullString(event.Context.UserID), nullString(event.Context.Environment),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *sqliteEventRepo) Search(ctx context.Context, filter *ErrorFilter) (res *ErrorSearchResult, err error) {
	defer func(start time.Time) { observe("search_events", backendSQLite, start, err) }(time.Now())
	if filter == nil {
		filter = &ErrorFilter{}
	}

	where, args := buildEventWhere(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM error_events"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	limit := limitOrDefault(filter.Limit)
	query := "SELECT data_json FROM error_events" + where +
		fmt.Sprintf(" ORDER BY ts_ms DESC LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.ErrorEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e := &models.ErrorEvent{}
		if err := json.Unmarshal([]byte(data), e); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return &ErrorSearchResult{
		Events:  events,
		Total:   total,
		HasMore: int64(filter.Offset+len(events)) < total,
	}, nil
}

func (r *sqliteEventRepo) Trends(ctx context.Context, tr models.TimeRange, g Granularity) (points []TrendPoint, err error) {
	defer func(start time.Time) { observe("event_trends", backendSQLite, start, err) }(time.Now())

	bucket := g.Bucket().Milliseconds()
	rows, err := r.db.QueryContext(ctx, `
		SELECT (ts_ms / ?) * ? AS bucket, COUNT(*)
		FROM error_events
		WHERE ts_ms >= ? AND ts_ms < ?
		GROUP BY bucket
		ORDER BY bucket
	`, bucket, bucket, toMillis(tr.Start), toMillis(tr.End))
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b, c int64
		if err := rows.Scan(&b, &c); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		points = append(points, TrendPoint{Bucket: fromMillis(b), Count: c})
	}
	return points, rows.Err()
}

func (r *sqliteEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM error_events WHERE ts_ms < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return result.RowsAffected()
}

func buildEventWhere(f *ErrorFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
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
		add("message LIKE ?", "%"+f.MessageContains+"%")
	}
	if !f.StartTime.IsZero() {
		add("ts_ms >= ?", toMillis(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		add("ts_ms <= ?", toMillis(f.EndTime))
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

type sqliteGroupRepo struct {
	db *sql.DB
}

func (r *sqliteGroupRepo) Get(ctx context.Context, fingerprint string) (*models.ErrorGroup, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		"SELECT data_json FROM error_groups WHERE fingerprint = ?", fingerprint,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	g := &models.ErrorGroup{}
	if err := json.Unmarshal([]byte(data), g); err != nil {
		return nil, fmt.Errorf("unmarshal group: %w", err)
	}
	return g, nil
}

func (r *sqliteGroupRepo) Upsert(ctx context.Context, g *models.ErrorGroup) (err error) {
	defer func(start time.Time) { observe("upsert_group", backendSQLite, start, err) }(time.Now())

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal group: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO error_groups (fingerprint, id, type, status, level,
			first_seen_ms, last_seen_ms, count, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			status = excluded.status,
			level = excluded.level,
			first_seen_ms = excluded.first_seen_ms,
			last_seen_ms = excluded.last_seen_ms,
			count = excluded.count,
			data_json = excluded.data_json
	`,
		g.Fingerprint, g.ID, g.Type, string(g.Status), string(g.Level),
		toMillis(g.FirstSeen), toMillis(g.LastSeen), g.Count, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	return nil
}

func (r *sqliteGroupRepo) List(ctx context.Context, filter *GroupFilter) ([]*models.ErrorGroup, error) {
	if filter == nil {
		filter = &GroupFilter{}
	}
	var conds []string
	var args []any
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, fmt.Sprintf("status IN (%s)", placeholders(len(filter.Statuses))))
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	query := "SELECT data_json FROM error_groups"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY last_seen_ms DESC LIMIT %d OFFSET %d", limitOrDefault(filter.Limit), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.ErrorGroup
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g := &models.ErrorGroup{}
		if err := json.Unmarshal([]byte(data), g); err != nil {
			return nil, fmt.Errorf("unmarshal group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *sqliteGroupRepo) Delete(ctx context.Context, fingerprint string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM error_groups WHERE fingerprint = ?", fingerprint); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

func (r *sqliteGroupRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM error_groups WHERE last_seen_ms < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("delete stale groups: %w", err)
	}
	return result.RowsAffected()
}

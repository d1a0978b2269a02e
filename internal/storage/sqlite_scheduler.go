package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

type sqliteEscalationRepo struct {
	db *sql.DB
}

func (r *sqliteEscalationRepo) Upsert(ctx context.Context, inst *models.EscalationInstance) (err error) {
	defer func(start time.Time) { observe("upsert_escalation", backendSQLite, start, err) }(time.Now())

	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO escalations (id, alert_id, status, next_escalation_ms, started_at_ms, data_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			next_escalation_ms = excluded.next_escalation_ms,
			data_json = excluded.data_json
	`,
		inst.ID, inst.AlertID, string(inst.Status), nullMillis(inst.NextEscalationAt),
		toMillis(inst.StartedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert escalation: %w", err)
	}
	return nil
}

func (r *sqliteEscalationRepo) Get(ctx context.Context, id string) (*models.EscalationInstance, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data_json FROM escalations WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	inst := &models.EscalationInstance{}
	if err := json.Unmarshal([]byte(data), inst); err != nil {
		return nil, fmt.Errorf("unmarshal escalation: %w", err)
	}
	return inst, nil
}

func (r *sqliteEscalationRepo) ListByStatus(ctx context.Context, statuses ...models.EscalationStatus) ([]*models.EscalationInstance, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT data_json FROM escalations WHERE status IN (%s) ORDER BY started_at_ms", placeholders(len(statuses))),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var out []*models.EscalationInstance
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		inst := &models.EscalationInstance{}
		if err := json.Unmarshal([]byte(data), inst); err != nil {
			return nil, fmt.Errorf("unmarshal escalation: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type sqliteNotificationRepo struct {
	db *sql.DB
}

func (r *sqliteNotificationRepo) Upsert(ctx context.Context, n *models.NotificationResult) (err error) {
	defer func(start time.Time) { observe("upsert_notification", backendSQLite, start, err) }(time.Now())

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, alert_id, channel, status, next_retry_ms, created_at_ms, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			next_retry_ms = excluded.next_retry_ms,
			data_json = excluded.data_json
	`,
		n.ID, nullString(n.Request.AlertID), string(n.Request.Channel), string(n.Status),
		nullMillis(n.NextRetryAt), toMillis(n.CreatedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

func (r *sqliteNotificationRepo) Get(ctx context.Context, id string) (*models.NotificationResult, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data_json FROM notifications WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	n := &models.NotificationResult{}
	if err := json.Unmarshal([]byte(data), n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return n, nil
}

func (r *sqliteNotificationRepo) ListRetryable(ctx context.Context) ([]*models.NotificationResult, error) {
	return r.query(ctx, `
		SELECT data_json FROM notifications
		WHERE status = ? AND next_retry_ms IS NOT NULL
		ORDER BY next_retry_ms
	`, string(models.NotificationFailed))
}

func (r *sqliteNotificationRepo) ListSince(ctx context.Context, since time.Time) ([]*models.NotificationResult, error) {
	return r.query(ctx,
		"SELECT data_json FROM notifications WHERE created_at_ms >= ? ORDER BY created_at_ms",
		toMillis(since),
	)
}

func (r *sqliteNotificationRepo) query(ctx context.Context, query string, args ...any) ([]*models.NotificationResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.NotificationResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n := &models.NotificationResult{}
		if err := json.Unmarshal([]byte(data), n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type sqliteSuppressionRepo struct {
	db *sql.DB
}

func (r *sqliteSuppressionRepo) Put(ctx context.Context, fingerprint string, until time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (fingerprint, until_ms) VALUES (?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET until_ms = excluded.until_ms
	`, fingerprint, toMillis(until))
	if err != nil {
		return fmt.Errorf("put suppression: %w", err)
	}
	return nil
}

func (r *sqliteSuppressionRepo) Delete(ctx context.Context, fingerprint string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM suppressions WHERE fingerprint = ?", fingerprint); err != nil {
		return fmt.Errorf("delete suppression: %w", err)
	}
	return nil
}

func (r *sqliteSuppressionRepo) ListActive(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT fingerprint, until_ms FROM suppressions WHERE until_ms > ?", toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("query suppressions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var fp string
		var until int64
		if err := rows.Scan(&fp, &until); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out[fp] = fromMillis(until)
	}
	return out, rows.Err()
}

func (r *sqliteSuppressionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM suppressions WHERE until_ms <= ?", toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired suppressions: %w", err)
	}
	return result.RowsAffected()
}

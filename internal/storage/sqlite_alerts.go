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

type sqliteAlertRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) (err error) {
	defer func(start time.Time) { observe("create_alert", backendSQLite, start, err) }(time.Now())

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alerts (id, fingerprint, type, severity, status, source, ts_ms, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			severity = excluded.severity,
			data_json = excluded.data_json
	`,
		alert.ID, alert.Fingerprint, alert.Type, string(alert.Severity), string(alert.Status),
		nullString(alert.Source), toMillis(alert.Timestamp), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.Alert) (err error) {
	defer func(start time.Time) { observe("update_alert", backendSQLite, start, err) }(time.Now())

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET status = ?, severity = ?, data_json = ? WHERE id = ?",
		string(alert.Status), string(alert.Severity), string(data), alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", alert.ID)
	}
	return nil
}

func (r *sqliteAlertRepo) Get(ctx context.Context, id string) (*models.Alert, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data_json FROM alerts WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	a := &models.Alert{}
	if err := json.Unmarshal([]byte(data), a); err != nil {
		return nil, fmt.Errorf("unmarshal alert: %w", err)
	}
	return a, nil
}

func (r *sqliteAlertRepo) Search(ctx context.Context, f *AlertFilter) ([]*models.Alert, int64, error) {
	if f == nil {
		f = &AlertFilter{}
	}
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.Source != "" {
		add("source = ?", f.Source)
	}
	if f.Fingerprint != "" {
		add("fingerprint = ?", f.Fingerprint)
	}
	if !f.StartTime.IsZero() {
		add("ts_ms >= ?", toMillis(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		add("ts_ms <= ?", toMillis(f.EndTime))
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, fmt.Sprintf("status IN (%s)", placeholders(len(f.Statuses))))
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if len(f.Severities) > 0 {
		conds = append(conds, fmt.Sprintf("severity IN (%s)", placeholders(len(f.Severities))))
		for _, s := range f.Severities {
			args = append(args, string(s))
		}
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	query := "SELECT data_json FROM alerts" + where +
		fmt.Sprintf(" ORDER BY ts_ms DESC LIMIT %d OFFSET %d", limitOrDefault(f.Limit), max(f.Offset, 0))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, 0, fmt.Errorf("scan alert: %w", err)
		}
		a := &models.Alert{}
		if err := json.Unmarshal([]byte(data), a); err != nil {
			return nil, 0, fmt.Errorf("unmarshal alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

type sqliteRuleRepo struct {
	db *sql.DB
}

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, name, enabled, data_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rule.ID, rule.Name, boolToInt(rule.IsEnabled()), string(data),
		toMillis(rule.CreatedAt), toMillis(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET name = ?, enabled = ?, data_json = ?, updated_at_ms = ? WHERE id = ?",
		rule.Name, boolToInt(rule.IsEnabled()), string(data), toMillis(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	return nil
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (r *sqliteRuleRepo) Get(ctx context.Context, id string) (*models.AlertRule, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data_json FROM alert_rules WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	rule := &models.AlertRule{}
	if err := json.Unmarshal([]byte(data), rule); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	return rule, nil
}

func (r *sqliteRuleRepo) List(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT data_json FROM alert_rules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule := &models.AlertRule{}
		if err := json.Unmarshal([]byte(data), rule); err != nil {
			return nil, fmt.Errorf("unmarshal rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

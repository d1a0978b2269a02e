package alerting

import (
	"context"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

const restorePageSize = 500

// Restore reloads rules, open and acknowledged alerts and unexpired
// suppressions from the store and the rules file.
func (m *Manager) Restore(ctx context.Context) error {
	if err := m.ReloadRules(ctx); err != nil {
		return err
	}
	if err := m.loadStoredRules(ctx); err != nil {
		return err
	}

	var restored int
	for offset := 0; ; offset += restorePageSize {
		page, _, err := m.alerts.Search(ctx, &storage.AlertFilter{
			Statuses: []models.AlertStatus{models.AlertOpen, models.AlertAcknowledged},
			Limit:    restorePageSize,
			Offset:   offset,
		})
		if err != nil {
			return errs.Persistence("restore alerts", err)
		}
		m.indexMu.Lock()
		for _, a := range page {
			if _, ok := m.index[a.ID]; !ok {
				m.index[a.ID] = &alertEntry{alert: a}
				restored++
			}
		}
		m.indexMu.Unlock()
		if len(page) < restorePageSize {
			break
		}
	}

	active, err := m.suppressRepo.ListActive(ctx, m.clock.Now())
	if err != nil {
		return errs.Persistence("restore suppressions", err)
	}
	m.suppressions.load(active)
	metrics.SuppressionsActive.Set(float64(m.suppressions.len()))

	m.logger.Info("alert manager restored",
		"rules", len(m.Rules()),
		"alerts", restored,
		"suppressions", len(active))
	return nil
}

// Sweep purges expired suppressions and throttle counters and drops
// resolved and suppressed alerts from the in-memory index. Store failures
// are logged.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.clock.Now()

	expired := m.suppressions.purge(now)
	if _, err := m.suppressRepo.DeleteExpired(ctx, now); err != nil {
		m.logger.Error("delete expired suppressions failed", "error", err)
	}
	metrics.SuppressionsActive.Set(float64(m.suppressions.len()))

	counters := m.throttle.sweep(now)

	m.indexMu.Lock()
	entries := make(map[string]*alertEntry, len(m.index))
	for id, e := range m.index {
		entries[id] = e
	}
	m.indexMu.Unlock()

	var evicted int
	for id, e := range entries {
		e.mu.Lock()
		done := e.alert == nil || e.alert.Status == models.AlertResolved || e.alert.Status == models.AlertSuppressed
		if done {
			m.indexMu.Lock()
			if m.index[id] == e {
				delete(m.index, id)
				evicted++
			}
			m.indexMu.Unlock()
		}
		e.mu.Unlock()
	}

	if expired+counters+evicted > 0 {
		m.logger.Debug("alert sweep",
			"expired_suppressions", expired,
			"throttle_counters", counters,
			"evicted_alerts", evicted)
	}
}

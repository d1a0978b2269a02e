package alerting

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Rule sets are replaced wholesale so evaluation can hold a snapshot
// without locking.

// AddRule validates and persists a new rule. An empty id is generated.
func (m *Manager) AddRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if rule == nil {
		return nil, errs.Validation("add rule", "rule is required")
	}
	r := *rule
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	cr, err := compileRule(&r)
	if err != nil {
		return nil, errs.Validation("add rule", "%v", err)
	}
	if m.Rule(r.ID) != nil {
		return nil, errs.Validation("add rule", "rule %q already exists", r.ID)
	}

	now := m.clock.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	if err := m.ruleRepo.Create(ctx, &r); err != nil {
		return nil, errs.Persistence("add rule", err)
	}

	m.rulesMu.Lock()
	next := make([]*compiledRule, 0, len(m.rules)+1)
	next = append(next, m.rules...)
	m.rules = append(next, cr)
	m.rulesMu.Unlock()

	m.logger.Info("rule added", "rule", r.ID, "name", r.Name)
	m.updateRuleGauge()
	out := r
	return &out, nil
}

// UpdateRule replaces an existing rule and resets its throttle counters.
func (m *Manager) UpdateRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if rule == nil || rule.ID == "" {
		return nil, errs.Validation("update rule", "rule id is required")
	}
	existing := m.Rule(rule.ID)
	if existing == nil {
		return nil, errs.NotFound("update rule", "rule", rule.ID)
	}
	r := *rule
	cr, err := compileRule(&r)
	if err != nil {
		return nil, errs.Validation("update rule", "%v", err)
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = m.clock.Now()

	m.rulesMu.RLock()
	fromFile := m.fromFile[r.ID]
	m.rulesMu.RUnlock()
	if !fromFile {
		if err := m.ruleRepo.Update(ctx, &r); err != nil {
			return nil, errs.Persistence("update rule", err)
		}
	}

	m.replaceRule(r.ID, cr)
	m.throttle.forgetRule(r.ID)
	m.logger.Info("rule updated", "rule", r.ID)
	out := r
	return &out, nil
}

// RemoveRule deletes a rule. Rules loaded from the rules file come back on
// the next reload.
func (m *Manager) RemoveRule(ctx context.Context, id string) error {
	if m.Rule(id) == nil {
		return errs.NotFound("remove rule", "rule", id)
	}

	m.rulesMu.RLock()
	fromFile := m.fromFile[id]
	m.rulesMu.RUnlock()
	if !fromFile {
		if err := m.ruleRepo.Delete(ctx, id); err != nil {
			return errs.Persistence("remove rule", err)
		}
	}

	m.replaceRule(id, nil)
	m.throttle.forgetRule(id)
	m.logger.Info("rule removed", "rule", id)
	m.updateRuleGauge()
	return nil
}

func (m *Manager) replaceRule(id string, cr *compiledRule) {
	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()
	next := make([]*compiledRule, 0, len(m.rules))
	for _, existing := range m.rules {
		if existing.rule.ID != id {
			next = append(next, existing)
			continue
		}
		if cr != nil {
			next = append(next, cr)
		}
	}
	m.rules = next
	if cr == nil {
		delete(m.fromFile, id)
	}
}

// Rule returns a copy of the rule with the given id, or nil.
func (m *Manager) Rule(id string) *models.AlertRule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	for _, cr := range m.rules {
		if cr.rule.ID == id {
			r := *cr.rule
			return &r
		}
	}
	return nil
}

// Rules returns copies of all rules in evaluation order.
func (m *Manager) Rules() []*models.AlertRule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	out := make([]*models.AlertRule, len(m.rules))
	for i, cr := range m.rules {
		r := *cr.rule
		out[i] = &r
	}
	return out
}

// ReloadRules re-reads the rules file and replaces the rules it defines.
// Rules added through the API are kept. A missing file clears file rules.
func (m *Manager) ReloadRules(ctx context.Context) error {
	if m.opts.RulesFile == "" {
		return nil
	}
	loaded, err := LoadRulesFromFile(m.opts.RulesFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return errs.Configuration("reload rules", "%v", err)
		}
		m.logger.Warn("rules file not found", "path", m.opts.RulesFile)
		loaded = nil
	}
	return m.setFileRules(loaded)
}

// setFileRules replaces the file-defined rules.
func (m *Manager) setFileRules(rules []*models.AlertRule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	ids := make(map[string]bool, len(rules))
	now := m.clock.Now()
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return errs.Validation("reload rules", "%v", err)
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		compiled = append(compiled, cr)
		ids[r.ID] = true
	}

	m.rulesMu.Lock()
	next := make([]*compiledRule, 0, len(m.rules)+len(compiled))
	for _, cr := range m.rules {
		if m.fromFile[cr.rule.ID] || ids[cr.rule.ID] {
			continue
		}
		next = append(next, cr)
	}
	m.rules = append(next, compiled...)
	m.fromFile = ids
	m.rulesMu.Unlock()

	for id := range ids {
		m.throttle.forgetRule(id)
	}
	m.logger.Info("rules reloaded", "file_rules", len(compiled))
	m.updateRuleGauge()
	return nil
}

// loadStoredRules adds the persisted API rules. Invalid stored rules are
// logged and skipped.
func (m *Manager) loadStoredRules(ctx context.Context) error {
	stored, err := m.ruleRepo.List(ctx)
	if err != nil {
		return errs.Persistence("load rules", err)
	}
	compiled := make([]*compiledRule, 0, len(stored))
	for _, r := range stored {
		cr, err := compileRule(r)
		if err != nil {
			m.logger.Warn("skipping invalid stored rule", "rule", r.ID, "error", err)
			continue
		}
		compiled = append(compiled, cr)
	}

	m.rulesMu.Lock()
	next := make([]*compiledRule, 0, len(compiled)+len(m.rules))
	seen := make(map[string]bool, len(compiled))
	for _, cr := range compiled {
		if m.fromFile[cr.rule.ID] {
			continue
		}
		seen[cr.rule.ID] = true
		next = append(next, cr)
	}
	for _, cr := range m.rules {
		if !seen[cr.rule.ID] {
			next = append(next, cr)
		}
	}
	m.rules = next
	m.rulesMu.Unlock()

	m.updateRuleGauge()
	return nil
}

func (m *Manager) updateRuleGauge() {
	m.rulesMu.RLock()
	n := len(m.rules)
	m.rulesMu.RUnlock()
	metrics.RulesLoaded.Set(float64(n))
}

package escalation

import (
	"context"
	"errors"
	"os"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Rules are matched in order: rules from the file first, then rules added
// through AddRule. Running instances keep the rule they started with.

// AddRule validates and registers an escalation rule.
func (e *Engine) AddRule(rule *models.EscalationRule) (*models.EscalationRule, error) {
	if rule == nil {
		return nil, errs.Validation("add escalation rule", "rule is required")
	}
	r := copyRule(rule)
	if err := ValidateRule(r); err != nil {
		return nil, errs.Validation("add escalation rule", "%v", err)
	}

	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	for _, existing := range e.rules {
		if existing.ID == r.ID {
			return nil, errs.Validation("add escalation rule", "rule %q already exists", r.ID)
		}
	}
	next := make([]*models.EscalationRule, 0, len(e.rules)+1)
	next = append(next, e.rules...)
	e.rules = append(next, r)
	e.logger.Info("escalation rule added", "rule", r.ID, "levels", len(r.Levels))
	return copyRule(r), nil
}

// RemoveRule unregisters an escalation rule. Rules from the rules file come
// back on the next reload.
func (e *Engine) RemoveRule(id string) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	next := make([]*models.EscalationRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(e.rules) {
		return errs.NotFound("remove escalation rule", "escalation rule", id)
	}
	e.rules = next
	delete(e.fromFile, id)
	e.logger.Info("escalation rule removed", "rule", id)
	return nil
}

// Rule returns a copy of the rule with the given id, or nil.
func (e *Engine) Rule(id string) *models.EscalationRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return copyRule(r)
		}
	}
	return nil
}

// Rules returns copies of all escalation rules in match order.
func (e *Engine) Rules() []*models.EscalationRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	out := make([]*models.EscalationRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = copyRule(r)
	}
	return out
}

// ReloadRules re-reads the rules file. A missing file clears the rules it
// contributed; an invalid file leaves the current rules untouched.
func (e *Engine) ReloadRules(ctx context.Context) error {
	if e.opts.RulesFile == "" {
		return nil
	}
	rules, err := LoadRulesFromFile(e.opts.RulesFile)
	if errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("escalation rules file not found", "path", e.opts.RulesFile)
		rules, err = nil, nil
	}
	if err != nil {
		return errs.Configuration("reload escalation rules", "%v", err)
	}
	e.setFileRules(rules)
	return nil
}

func (e *Engine) setFileRules(rules []*models.EscalationRule) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	ids := make(map[string]bool, len(rules))
	next := make([]*models.EscalationRule, 0, len(rules)+len(e.rules))
	for _, r := range rules {
		ids[r.ID] = true
		next = append(next, r)
	}
	for _, r := range e.rules {
		if e.fromFile[r.ID] || ids[r.ID] {
			continue
		}
		next = append(next, r)
	}
	e.rules = next
	e.fromFile = ids
	e.logger.Info("escalation rules loaded", "path", e.opts.RulesFile, "count", len(rules))
}

func copyRule(r *models.EscalationRule) *models.EscalationRule {
	c := *r
	c.Levels = append([]models.EscalationLevel(nil), r.Levels...)
	c.Triggers.Severities = append([]models.Severity(nil), r.Triggers.Severities...)
	c.Triggers.Types = append([]string(nil), r.Triggers.Types...)
	c.Triggers.Sources = append([]string(nil), r.Triggers.Sources...)
	return &c
}

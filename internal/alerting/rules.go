// Package alerting turns alert-worthy signals into Alert records. It
// evaluates rules with conditions, schedules, throttling and suppression,
// runs rule actions and owns the alert lifecycle.
package alerting

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Operator compares an alert field against a rule value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// ParseOperator accepts the named operators and their symbolic forms.
func ParseOperator(s string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "==", "=":
		return OpEq, true
	case "ne", "!=":
		return OpNe, true
	case "gt", ">":
		return OpGt, true
	case "gte", ">=":
		return OpGte, true
	case "lt", "<":
		return OpLt, true
	case "lte", "<=":
		return OpLte, true
	case "contains":
		return OpContains, true
	case "matches", "regex":
		return OpMatches, true
	default:
		return "", false
	}
}

type condition struct {
	field string
	path  []string
	op    Operator
	value any
	re    *regexp.Regexp
}

// compiledRule is an AlertRule with its regexes, expression and schedule
// prepared for evaluation.
type compiledRule struct {
	rule     *models.AlertRule
	conds    []condition
	expr     *ExprMatcher
	schedule *schedule
}

// RulesConfig is the top-level layout of a rules file.
type RulesConfig struct {
	Rules []*models.AlertRule `yaml:"rules"`
}

// ValidateRule checks a rule the way the manager does before accepting it.
func ValidateRule(r *models.AlertRule) error {
	_, err := compileRule(r)
	return err
}

func compileRule(r *models.AlertRule) (*compiledRule, error) {
	if r == nil {
		return nil, fmt.Errorf("rule is nil")
	}
	if r.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		r.Name = r.ID
	}

	cr := &compiledRule{rule: r}
	for i, c := range r.Conditions {
		if c.Field == "" {
			return nil, fmt.Errorf("condition %d of rule %q: field is required", i, r.ID)
		}
		op, ok := ParseOperator(c.Operator)
		if !ok {
			return nil, fmt.Errorf("condition %d of rule %q: invalid operator %q", i, r.ID, c.Operator)
		}
		cond := condition{
			field: c.Field,
			path:  strings.Split(c.Field, "."),
			op:    op,
			value: c.Value,
		}
		if op == OpMatches {
			re, err := regexp.Compile(fmt.Sprint(c.Value))
			if err != nil {
				return nil, fmt.Errorf("condition %d of rule %q: invalid pattern %q: %w", i, r.ID, c.Value, err)
			}
			cond.re = re
		}
		cr.conds = append(cr.conds, cond)
	}

	if r.Expression != "" {
		m, err := NewExprMatcher(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		cr.expr = m
	}

	for i, a := range r.Actions {
		if err := validateAction(a); err != nil {
			return nil, fmt.Errorf("action %d of rule %q: %w", i, r.ID, err)
		}
	}

	if t := r.Throttle; t != nil {
		if t.Window <= 0 {
			return nil, fmt.Errorf("rule %q: throttle window must be positive", r.ID)
		}
		if t.MaxAlerts <= 0 {
			return nil, fmt.Errorf("rule %q: throttle max_alerts must be positive", r.ID)
		}
	}

	if r.Schedule != nil {
		s, err := parseSchedule(r.Schedule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		cr.schedule = s
	}
	return cr, nil
}

func validateAction(a models.RuleAction) error {
	switch a.Type {
	case models.ActionNotify:
		for _, ch := range a.Channels {
			if !ch.IsValid() {
				return fmt.Errorf("unknown channel %q", ch)
			}
		}
	case models.ActionEscalate:
		if a.MaxLevel < 0 {
			return fmt.Errorf("max_level must not be negative")
		}
	case models.ActionSuppress:
		if a.Duration <= 0 {
			return fmt.Errorf("suppress duration must be positive")
		}
	case models.ActionWebhook:
		if a.URL == "" {
			return fmt.Errorf("webhook url is required")
		}
	case models.ActionScript:
		if a.Command == "" {
			return fmt.Errorf("script command is required")
		}
	default:
		return fmt.Errorf("invalid action type %q", a.Type)
	}
	return nil
}

// matches reports whether every condition and the expression hold for the
// alert described by env.
func (cr *compiledRule) matches(env map[string]any) (bool, error) {
	for _, c := range cr.conds {
		actual, ok := lookupPath(env, c.path)
		if !ok {
			return false, nil
		}
		if !compareValues(actual, c.value, c.op, c.re) {
			return false, nil
		}
	}
	if cr.expr != nil {
		return cr.expr.Match(env)
	}
	return true, nil
}

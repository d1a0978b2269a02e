package alerting

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprMatcher compiles and evaluates expr-lang expressions against alerts.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ExprMatcher) compile() error {
	// expr-lang has built-in operators: contains, startsWith, endsWith, matches.
	// Syntax: title contains "timeout".
	program, err := expr.Compile(m.expression,
		expr.Env(sampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}
	m.program = program
	return nil
}

// Match evaluates the expression against an alert environment built by
// alertEnv.
func (m *ExprMatcher) Match(env map[string]any) (bool, error) {
	result, err := expr.Run(m.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}
	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

// sampleEnv mirrors alertEnv for type checking at compile time.
func sampleEnv() map[string]any {
	return map[string]any{
		"id":            "",
		"type":          "",
		"severity":      "",
		"severity_rank": 0,
		"status":        "",
		"title":         "",
		"message":       "",
		"source":        "",
		"fingerprint":   "",
		"timestamp":     time.Time{},
		"metadata":      map[string]any{},
		"context":       map[string]any{},
		"recipients":    map[string]any{},
		"escalation":    map[string]any{},
	}
}

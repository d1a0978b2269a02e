package escalation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// RulesConfig is the layout of an escalation rules file.
type RulesConfig struct {
	Rules []*models.EscalationRule `yaml:"rules"`
}

// ValidateRule checks an escalation rule and fills in its name.
func ValidateRule(r *models.EscalationRule) error {
	if r == nil {
		return errors.New("rule is nil")
	}
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	for _, s := range r.Triggers.Severities {
		if !s.IsValid() {
			return fmt.Errorf("invalid trigger severity %q", s)
		}
	}
	if len(r.Levels) == 0 {
		return errors.New("at least one level is required")
	}
	for i, l := range r.Levels {
		if l.Delay < 0 {
			return fmt.Errorf("level %d: delay must not be negative", i+1)
		}
		if len(l.Recipients.Flatten()) == 0 {
			return fmt.Errorf("level %d: at least one recipient is required", i+1)
		}
	}
	return nil
}

// LoadRulesFromFile loads escalation rules from a YAML file.
func LoadRulesFromFile(path string) ([]*models.EscalationRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open escalation rules file: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// LoadRules loads escalation rules from a reader.
func LoadRules(r io.Reader) ([]*models.EscalationRule, error) {
	var cfg RulesConfig
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse escalation rules: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		if err := ValidateRule(rule); err != nil {
			return nil, fmt.Errorf("invalid escalation rule at index %d: %w", i, err)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("duplicate escalation rule id %q", rule.ID)
		}
		seen[rule.ID] = true
	}
	return cfg.Rules, nil
}

// LoadRulesFromBytes loads escalation rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*models.EscalationRule, error) {
	return LoadRules(bytes.NewReader(data))
}

package alerting

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name   string
		rule   models.AlertRule
		errMsg string
	}{
		{
			name:   "missing id",
			rule:   models.AlertRule{},
			errMsg: "id is required",
		},
		{
			name: "invalid operator",
			rule: models.AlertRule{ID: "r", Conditions: []models.RuleCondition{
				{Field: "severity", Operator: "approx", Value: "high"},
			}},
			errMsg: "invalid operator",
		},
		{
			name: "missing field",
			rule: models.AlertRule{ID: "r", Conditions: []models.RuleCondition{
				{Operator: "eq", Value: "high"},
			}},
			errMsg: "field is required",
		},
		{
			name: "invalid regex",
			rule: models.AlertRule{ID: "r", Conditions: []models.RuleCondition{
				{Field: "title", Operator: "matches", Value: "[invalid(regex"},
			}},
			errMsg: "invalid pattern",
		},
		{
			name:   "suppress without duration",
			rule:   models.AlertRule{ID: "r", Actions: []models.RuleAction{{Type: models.ActionSuppress}}},
			errMsg: "suppress duration",
		},
		{
			name:   "webhook without url",
			rule:   models.AlertRule{ID: "r", Actions: []models.RuleAction{{Type: models.ActionWebhook}}},
			errMsg: "webhook url",
		},
		{
			name:   "script without command",
			rule:   models.AlertRule{ID: "r", Actions: []models.RuleAction{{Type: models.ActionScript}}},
			errMsg: "script command",
		},
		{
			name:   "unknown action",
			rule:   models.AlertRule{ID: "r", Actions: []models.RuleAction{{Type: "page"}}},
			errMsg: "invalid action type",
		},
		{
			name: "notify with unknown channel",
			rule: models.AlertRule{ID: "r", Actions: []models.RuleAction{
				{Type: models.ActionNotify, Channels: []models.ChannelType{"pager"}},
			}},
			errMsg: "unknown channel",
		},
		{
			name:   "throttle without window",
			rule:   models.AlertRule{ID: "r", Throttle: &models.ThrottlePolicy{MaxAlerts: 3}},
			errMsg: "throttle window",
		},
		{
			name:   "throttle without max",
			rule:   models.AlertRule{ID: "r", Throttle: &models.ThrottlePolicy{Window: models.Duration(time.Minute)}},
			errMsg: "max_alerts",
		},
		{
			name:   "invalid expression",
			rule:   models.AlertRule{ID: "r", Expression: `severity ==`},
			errMsg: "compile expression",
		},
		{
			name:   "non-bool expression",
			rule:   models.AlertRule{ID: "r", Expression: `title`},
			errMsg: "compile expression",
		},
		{
			name:   "invalid schedule",
			rule:   models.AlertRule{ID: "r", Schedule: &models.Schedule{Days: []string{"funday"}}},
			errMsg: "invalid schedule day",
		},
		{
			name: "valid",
			rule: models.AlertRule{
				ID: "r",
				Conditions: []models.RuleCondition{
					{Field: "severity", Operator: ">=", Value: "high"},
					{Field: "metadata.env", Operator: "eq", Value: "prod"},
				},
				Expression: `severity_rank >= 3`,
				Actions: []models.RuleAction{
					{Type: models.ActionNotify, Channels: []models.ChannelType{models.ChannelEmail}},
					{Type: models.ActionSuppress, Duration: models.Duration(time.Minute)},
				},
				Throttle: &models.ThrottlePolicy{Window: models.Duration(time.Minute), MaxAlerts: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			err := ValidateRule(&rule)
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("ValidateRule() error = %v", err)
				}
				if rule.Name != rule.ID {
					t.Errorf("Name = %q, want defaulted to id", rule.Name)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateRule() = nil, want error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestParseOperator(t *testing.T) {
	tests := map[string]Operator{
		"eq": OpEq, "==": OpEq, "ne": OpNe, "!=": OpNe,
		"gt": OpGt, ">": OpGt, "gte": OpGte, ">=": OpGte,
		"lt": OpLt, "<": OpLt, "lte": OpLte, "<=": OpLte,
		"contains": OpContains, "matches": OpMatches, "REGEX": OpMatches,
	}
	for in, want := range tests {
		if got, ok := ParseOperator(in); !ok || got != want {
			t.Errorf("ParseOperator(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseOperator("between"); ok {
		t.Error("ParseOperator(between) should fail")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name   string
		actual any
		want   any
		op     Operator
		re     string
		expect bool
	}{
		{"severity rank gte", "critical", "high", OpGte, "", true},
		{"severity rank below", "medium", "high", OpGte, "", false},
		{"severity rank eq", "high", "HIGH", OpEq, "", true},
		{"numeric against string value", 5, "3", OpGt, "", true},
		{"float lte", 2.5, 2.5, OpLte, "", true},
		{"numeric lt false", 10, 3, OpLt, "", false},
		{"string eq", "prod", "prod", OpEq, "", true},
		{"string ne", "prod", "staging", OpNe, "", true},
		{"string contains", "database timeout", "timeout", OpContains, "", true},
		{"slice contains", []string{"ops", "dev"}, "dev", OpContains, "", true},
		{"slice missing", []string{"ops"}, "dev", OpContains, "", false},
		{"regex", "payment-service-eu", nil, OpMatches, `^payment-.*-eu$`, true},
		{"regex no match", "search", nil, OpMatches, `^payment`, false},
		{"nil actual", nil, "x", OpEq, "", false},
		{"time gt", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-01T00:00:00Z", OpGt, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var re *regexp.Regexp
			if tt.re != "" {
				re = regexp.MustCompile(tt.re)
			}
			if got := compareValues(tt.actual, tt.want, tt.op, re); got != tt.expect {
				t.Errorf("compareValues(%v, %v, %s) = %v, want %v", tt.actual, tt.want, tt.op, got, tt.expect)
			}
		})
	}
}

func TestLookupPath(t *testing.T) {
	env := alertEnv(&models.Alert{
		Severity: models.SeverityHigh,
		Metadata: map[string]any{"env": "prod"},
		Context:  map[string]any{"user": map[string]any{"id": "u-7"}},
		Escalation: models.EscalationState{
			Level:    1,
			MaxLevel: 3,
		},
	})

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"severity", "high", true},
		{"metadata.env", "prod", true},
		{"context.user.id", "u-7", true},
		{"escalation.max_level", 3, true},
		{"metadata.missing", nil, false},
		{"severity.deeper", nil, false},
	}
	for _, tt := range tests {
		got, ok := lookupPath(env, strings.Split(tt.path, "."))
		if ok != tt.ok || got != tt.want {
			t.Errorf("lookupPath(%q) = %v, %v, want %v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRuleMatchesConditionsAndExpression(t *testing.T) {
	cr, err := compileRule(&models.AlertRule{
		ID: "prod-high",
		Conditions: []models.RuleCondition{
			{Field: "severity", Operator: "gte", Value: "high"},
			{Field: "metadata.env", Operator: "eq", Value: "prod"},
		},
		Expression: `title contains "db"`,
	})
	if err != nil {
		t.Fatalf("compileRule() error = %v", err)
	}

	tests := []struct {
		name  string
		alert models.Alert
		want  bool
	}{
		{"all hold", models.Alert{Severity: models.SeverityCritical, Title: "db down", Metadata: map[string]any{"env": "prod"}}, true},
		{"severity too low", models.Alert{Severity: models.SeverityLow, Title: "db down", Metadata: map[string]any{"env": "prod"}}, false},
		{"missing metadata", models.Alert{Severity: models.SeverityHigh, Title: "db down"}, false},
		{"expression fails", models.Alert{Severity: models.SeverityHigh, Title: "cache down", Metadata: map[string]any{"env": "prod"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cr.matches(alertEnv(&tt.alert))
			if err != nil {
				t.Fatalf("matches() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

// 2024-03-11 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestScheduleActive(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.Schedule
		now      time.Time
		want     bool
	}{
		{"weekday business hours", models.Schedule{Days: []string{"mon", "tue", "wed", "thu", "fri"}, Start: "09:00", End: "17:00"}, at(11, 10, 0), true},
		{"end is exclusive", models.Schedule{Start: "09:00", End: "17:00"}, at(11, 17, 0), false},
		{"weekend excluded", models.Schedule{Days: []string{"mon", "fri"}, Start: "09:00", End: "17:00"}, at(16, 10, 0), false},
		{"days only", models.Schedule{Days: []string{"Monday"}}, at(11, 3, 0), true},
		{"overnight evening", models.Schedule{Days: []string{"mon"}, Start: "22:00", End: "06:00"}, at(11, 23, 0), true},
		{"overnight next morning", models.Schedule{Days: []string{"mon"}, Start: "22:00", End: "06:00"}, at(12, 3, 0), true},
		{"overnight morning of unlisted start day", models.Schedule{Days: []string{"mon"}, Start: "22:00", End: "06:00"}, at(11, 3, 0), false},
		{"overnight midday", models.Schedule{Start: "22:00", End: "06:00"}, at(12, 12, 0), false},
		{"equal start and end is all day", models.Schedule{Start: "09:00", End: "09:00"}, at(11, 3, 0), true},
		{"equal start and end at the boundary", models.Schedule{Start: "09:00", End: "09:00"}, at(11, 9, 0), true},
		{"equal start and end keeps days", models.Schedule{Days: []string{"tue"}, Start: "00:00", End: "00:00"}, at(11, 12, 0), false},
		// New York is UTC-4 after the 2024-03-10 DST change.
		{"timezone inside", models.Schedule{Start: "09:00", End: "17:00", Timezone: "America/New_York"}, at(11, 14, 0), true},
		{"timezone before start", models.Schedule{Start: "09:00", End: "17:00", Timezone: "America/New_York"}, at(11, 12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parseSchedule(&tt.schedule)
			if err != nil {
				t.Fatalf("parseSchedule() error = %v", err)
			}
			if got := s.active(tt.now); got != tt.want {
				t.Errorf("active(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestParseScheduleErrors(t *testing.T) {
	tests := []models.Schedule{
		{Start: "25:00", End: "26:00"},
		{Start: "09:00"},
		{Timezone: "Mars/Olympus"},
		{Days: []string{"someday"}},
	}
	for _, s := range tests {
		if _, err := parseSchedule(&s); err == nil {
			t.Errorf("parseSchedule(%+v) = nil error", s)
		}
	}
}

const rulesYAML = `
rules:
  - id: prod-critical
    name: Production critical
    conditions:
      - field: severity
        operator: gte
        value: high
      - field: metadata.env
        operator: eq
        value: prod
    actions:
      - type: notify
        channels: [email, chat]
        recipients: [oncall@example.com]
      - type: escalate
        escalation_rule_id: default
        max_level: 2
    throttle:
      window: 1m
      max_alerts: 3
    schedule:
      days: [mon, tue, wed, thu, fri]
      start: "08:00"
      end: "20:00"
  - id: mute-staging
    enabled: false
    conditions:
      - field: metadata.env
        operator: eq
        value: staging
    actions:
      - type: suppress
        duration: 30m
`

func TestLoadRulesFromBytes(t *testing.T) {
	rules, err := LoadRulesFromBytes([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("LoadRulesFromBytes() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}

	r := rules[0]
	if r.Name != "Production critical" || len(r.Conditions) != 2 || len(r.Actions) != 2 {
		t.Errorf("rule 0 = %+v", r)
	}
	if r.Throttle == nil || r.Throttle.Window.Std() != time.Minute || r.Throttle.MaxAlerts != 3 {
		t.Errorf("throttle = %+v", r.Throttle)
	}
	if r.Actions[1].EscalationRuleID != "default" || r.Actions[1].MaxLevel != 2 {
		t.Errorf("escalate action = %+v", r.Actions[1])
	}
	if rules[1].IsEnabled() {
		t.Error("mute-staging should be disabled")
	}
	if rules[1].Name != "mute-staging" {
		t.Errorf("name = %q, want defaulted to id", rules[1].Name)
	}
	if d := rules[1].Actions[0].Duration.Std(); d != 30*time.Minute {
		t.Errorf("suppress duration = %v, want 30m", d)
	}
}

func TestLoadRulesErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"bad yaml", "rules: [", "failed to parse"},
		{"invalid rule", "rules:\n  - id: a\n  - name: no-id\n", "invalid rule at index 1"},
		{"duplicate", "rules:\n  - id: a\n  - id: a\n", "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("LoadRules() error = %v, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	rules, err := LoadRulesFromFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFromFile() error = %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("got %d rules, want 2", len(rules))
	}

	if _, err := LoadRulesFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestThrottleWindowResets(t *testing.T) {
	th := newThrottle()
	p := &models.ThrottlePolicy{Window: models.Duration(time.Minute), MaxAlerts: 2}
	now := at(11, 10, 0)

	got := []bool{
		th.allow("r", "fp", p, now),
		th.allow("r", "fp", p, now.Add(10*time.Second)),
		th.allow("r", "fp", p, now.Add(20*time.Second)),
		th.allow("r", "other", p, now.Add(20*time.Second)),
		th.allow("r", "fp", p, now.Add(time.Minute)),
	}
	want := []bool{true, true, false, true, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allow #%d = %v, want %v", i, got[i], want[i])
		}
	}

	if n := th.sweep(now.Add(2 * time.Minute)); n != 2 {
		t.Errorf("sweep() = %d, want 2", n)
	}
	if th.len() != 0 {
		t.Errorf("len() = %d after sweep", th.len())
	}
}

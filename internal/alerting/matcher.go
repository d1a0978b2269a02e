package alerting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// alertEnv exposes the fields of an alert to conditions and expressions.
func alertEnv(a *models.Alert) map[string]any {
	env := map[string]any{
		"id":            a.ID,
		"type":          a.Type,
		"severity":      string(a.Severity),
		"severity_rank": a.Severity.Rank(),
		"status":        string(a.Status),
		"title":         a.Title,
		"message":       a.Message,
		"source":        a.Source,
		"fingerprint":   a.Fingerprint,
		"timestamp":     a.Timestamp,
		"metadata":      a.Metadata,
		"context":       a.Context,
		"recipients": map[string]any{
			"users":        a.Recipients.Users,
			"channels":     a.Recipients.Channels,
			"integrations": a.Recipients.Integrations,
		},
		"escalation": map[string]any{
			"level":     a.Escalation.Level,
			"max_level": a.Escalation.MaxLevel,
		},
	}
	if env["metadata"] == nil {
		env["metadata"] = map[string]any{}
	}
	if env["context"] == nil {
		env["context"] = map[string]any{}
	}
	return env
}

// lookupPath walks a dotted field path through nested maps.
func lookupPath(env map[string]any, path []string) (any, bool) {
	var cur any = env
	for _, key := range path {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// compareValues compares actual against want. Severities order by rank,
// numbers numerically and everything else as strings.
func compareValues(actual, want any, op Operator, re *regexp.Regexp) bool {
	if actual == nil {
		return false
	}

	switch op {
	case OpContains:
		return containsValue(actual, want)
	case OpMatches:
		if re == nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	}

	if a, w, ok := severityRanks(actual, want); ok {
		return compareOrdered(a, w, op)
	}
	if a, ok := toFloat64(actual); ok {
		if w, ok := toFloat64(want); ok {
			return compareOrdered(a, w, op)
		}
	}
	if t, ok := actual.(time.Time); ok {
		if w, ok := toTime(want); ok {
			return compareOrdered(t.UnixNano(), w.UnixNano(), op)
		}
	}
	return compareOrdered(fmt.Sprint(actual), fmt.Sprint(want), op)
}

func compareOrdered[T int | int64 | float64 | string](a, b T, op Operator) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func containsValue(actual, want any) bool {
	needle := fmt.Sprint(want)
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, needle)
	case []string:
		for _, s := range v {
			if s == needle {
				return true
			}
		}
		return false
	case []any:
		for _, s := range v {
			if fmt.Sprint(s) == needle {
				return true
			}
		}
		return false
	default:
		return strings.Contains(fmt.Sprint(actual), needle)
	}
}

func severityRanks(actual, want any) (int, int, bool) {
	a, ok := actual.(string)
	if !ok {
		return 0, 0, false
	}
	w, ok := want.(string)
	if !ok {
		return 0, 0, false
	}
	ar, wr := models.Severity(a).Rank(), models.Severity(strings.ToLower(w)).Rank()
	if ar < 0 || wr < 0 {
		return 0, 0, false
	}
	return ar, wr, true
}

// toFloat64 converts an interface to float64 if possible.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		t, err := time.Parse(time.RFC3339, val)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

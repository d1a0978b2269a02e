package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const maxTitleLength = 200

// ValidateTitle checks an alert title.
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("title must be %d characters or less", maxTitleLength)
	}
	return nil
}

// ValidateSeverity checks a severity. Empty is allowed and means medium.
func ValidateSeverity(s models.Severity) error {
	if s == "" || s.IsValid() {
		return nil
	}
	return fmt.Errorf("severity must be one of info, low, medium, high, critical")
}

// ParseStatuses parses alert status filter values.
func ParseStatuses(values []string) ([]models.AlertStatus, error) {
	out := make([]models.AlertStatus, 0, len(values))
	for _, v := range values {
		s := models.AlertStatus(strings.ToLower(v))
		switch s {
		case models.AlertOpen, models.AlertAcknowledged, models.AlertResolved, models.AlertSuppressed:
			out = append(out, s)
		default:
			return nil, fmt.Errorf("unknown status %q", v)
		}
	}
	return out, nil
}

// ParseSeverities parses severity filter values.
func ParseSeverities(values []string) ([]models.Severity, error) {
	out := make([]models.Severity, 0, len(values))
	for _, v := range values {
		s := models.Severity(strings.ToLower(v))
		if !s.IsValid() {
			return nil, fmt.Errorf("unknown severity %q", v)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseSuppressDuration parses a suppression duration such as "30m".
func ParseSuppressDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("duration is required")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}

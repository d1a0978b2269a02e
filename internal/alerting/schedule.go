package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// schedule is a parsed models.Schedule. Minutes are counted from local
// midnight.
type schedule struct {
	days     map[time.Weekday]bool
	start    int
	end      int
	hasRange bool
	loc      *time.Location
}

func parseSchedule(s *models.Schedule) (*schedule, error) {
	out := &schedule{loc: time.UTC}

	if len(s.Days) > 0 {
		out.days = make(map[time.Weekday]bool, len(s.Days))
		for _, d := range s.Days {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return nil, fmt.Errorf("invalid schedule day %q", d)
			}
			out.days[wd] = true
		}
	}

	if (s.Start == "") != (s.End == "") {
		return nil, fmt.Errorf("schedule start and end must be set together")
	}
	if s.Start != "" {
		var err error
		if out.start, err = parseClock(s.Start); err != nil {
			return nil, err
		}
		if out.end, err = parseClock(s.End); err != nil {
			return nil, err
		}
		// Equal start and end spans the whole day.
		out.hasRange = out.start != out.end
	}

	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", s.Timezone, err)
		}
		out.loc = loc
	}
	return out, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// active reports whether now falls inside the schedule. For an overnight
// range the early-morning part belongs to the day the range started.
func (s *schedule) active(now time.Time) bool {
	local := now.In(s.loc)
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	if !s.hasRange {
		return s.dayAllowed(day)
	}

	if s.start <= s.end {
		return s.dayAllowed(day) && minute >= s.start && minute < s.end
	}

	if minute >= s.start {
		return s.dayAllowed(day)
	}
	if minute < s.end {
		return s.dayAllowed((day + 6) % 7)
	}
	return false
}

func (s *schedule) dayAllowed(d time.Weekday) bool {
	return len(s.days) == 0 || s.days[d]
}

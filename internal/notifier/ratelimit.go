package notifier

import (
	"sync"
	"time"
)

// RateLimitConfig caps successful sends per channel. Zero means unlimited.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	PerHour   int `yaml:"per_hour" json:"per_hour"`
}

// RateLimiter counts sends in fixed minute and hour windows. A window is
// reset lazily by the first check after it expires. Capacity is taken when
// a send is allowed, so concurrent senders cannot overshoot the caps.
type RateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig

	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	dropped     int64
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{config: config}
}

// Allow reserves a send in both windows and reports whether it fit. A
// reservation that does not end in a successful send must be handed back
// with Release.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roll(now)
	if r.config.PerMinute > 0 && r.minuteCount >= r.config.PerMinute {
		r.dropped++
		return false
	}
	if r.config.PerHour > 0 && r.hourCount >= r.config.PerHour {
		r.dropped++
		return false
	}
	r.minuteCount++
	r.hourCount++
	return true
}

// Release refunds a reservation made by Allow at reservedAt. Windows that
// have rolled over since then are left alone.
func (r *RateLimiter) Release(reservedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.minuteCount > 0 && !reservedAt.Before(r.minuteStart) {
		r.minuteCount--
	}
	if r.hourCount > 0 && !reservedAt.Before(r.hourStart) {
		r.hourCount--
	}
}

// roll resets expired windows. Must be called with mutex held.
func (r *RateLimiter) roll(now time.Time) {
	if r.minuteStart.IsZero() || now.Sub(r.minuteStart) >= time.Minute {
		r.minuteStart = now
		r.minuteCount = 0
	}
	if r.hourStart.IsZero() || now.Sub(r.hourStart) >= time.Hour {
		r.hourStart = now
		r.hourCount = 0
	}
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimitStats{
		Dropped:     r.dropped,
		MinuteCount: r.minuteCount,
		HourCount:   r.hourCount,
		PerMinute:   r.config.PerMinute,
		PerHour:     r.config.PerHour,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped     int64 `json:"dropped"`
	MinuteCount int   `json:"minute_count"`
	HourCount   int   `json:"hour_count"`
	PerMinute   int   `json:"per_minute"`
	PerHour     int   `json:"per_hour"`
}

package alerting

import (
	"sync"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// throttle keeps a fixed-window counter per rule and alert fingerprint.
// A window opens with the first alert and resets once it has elapsed.
type throttle struct {
	mu       sync.Mutex
	counters map[string]*throttleCounter
}

type throttleCounter struct {
	start  time.Time
	window time.Duration
	count  int
}

func newThrottle() *throttle {
	return &throttle{counters: make(map[string]*throttleCounter)}
}

func throttleKey(ruleID, fingerprint string) string {
	return ruleID + "|" + fingerprint
}

// allow counts one alert and reports whether the rule still lets it through.
func (t *throttle) allow(ruleID, fingerprint string, p *models.ThrottlePolicy, now time.Time) bool {
	if p == nil || p.MaxAlerts <= 0 || p.Window <= 0 {
		return true
	}
	key := throttleKey(ruleID, fingerprint)

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counters[key]
	if !ok || now.Sub(c.start) >= p.Window.Std() {
		c = &throttleCounter{start: now, window: p.Window.Std()}
		t.counters[key] = c
	}
	c.count++
	return c.count <= p.MaxAlerts
}

// count returns the alerts counted in the current window.
func (t *throttle) count(ruleID, fingerprint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[throttleKey(ruleID, fingerprint)]; ok {
		return c.count
	}
	return 0
}

// sweep removes counters whose window has elapsed.
func (t *throttle) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for key, c := range t.counters {
		if now.Sub(c.start) >= c.window {
			delete(t.counters, key)
			n++
		}
	}
	return n
}

// forgetRule drops the counters of a removed or replaced rule.
func (t *throttle) forgetRule(ruleID string) {
	prefix := ruleID + "|"
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.counters {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(t.counters, key)
		}
	}
}

func (t *throttle) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}

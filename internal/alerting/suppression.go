package alerting

import (
	"sync"
	"time"
)

// suppressionTable maps alert fingerprints to the time their suppression
// expires. It mirrors the suppression repository.
type suppressionTable struct {
	mu    sync.RWMutex
	until map[string]time.Time
}

func newSuppressionTable() *suppressionTable {
	return &suppressionTable{until: make(map[string]time.Time)}
}

func (s *suppressionTable) active(fingerprint string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.until[fingerprint]
	return ok && until.After(now)
}

// put records a suppression. An existing later expiry is kept.
func (s *suppressionTable) put(fingerprint string, until time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.until[fingerprint]; ok && cur.After(until) {
		return cur
	}
	s.until[fingerprint] = until
	return until
}

func (s *suppressionTable) remove(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.until[fingerprint]
	delete(s.until, fingerprint)
	return ok
}

// purge removes expired entries.
func (s *suppressionTable) purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for fp, until := range s.until {
		if !until.After(now) {
			delete(s.until, fp)
			n++
		}
	}
	return n
}

func (s *suppressionTable) load(entries map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, until := range entries {
		if cur, ok := s.until[fp]; !ok || until.After(cur) {
			s.until[fp] = until
		}
	}
}

func (s *suppressionTable) snapshot() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.until))
	for fp, until := range s.until {
		out[fp] = until
	}
	return out
}

func (s *suppressionTable) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.until)
}

package notifier

import (
	"context"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Sweep retries failed notifications whose retry time has passed. Timers
// normally fire first; the sweep covers callbacks lost to clock jumps.
// It returns the number retried.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.clock.Now()

	// Attempts take p.mu before pendingMu, so scan a copy.
	s.pendingMu.Lock()
	pending := make(map[string]*pendingResult, len(s.pending))
	for id, p := range s.pending {
		pending[id] = p
	}
	s.pendingMu.Unlock()

	var due []string
	for id, p := range pending {
		p.mu.Lock()
		r := p.result
		if r.Status == models.NotificationFailed && r.NextRetryAt != nil && !r.NextRetryAt.After(now) {
			due = append(due, id)
		}
		p.mu.Unlock()
	}

	var retried int
	for _, id := range due {
		if err := s.retry(ctx, id); err != nil {
			s.logger.Debug("sweep skipped notification", "notification_id", id, "error", err)
			continue
		}
		retried++
	}
	if retried > 0 {
		s.logger.Info("notification sweep", "retried", retried)
	}
	return retried
}

// Restore re-arms retries for failed notifications found in the store.
func (s *Service) Restore(ctx context.Context) error {
	list, err := s.results.ListRetryable(ctx)
	if err != nil {
		return errs.Persistence("restore notifications", err)
	}

	now := s.clock.Now()
	var restored int
	for _, r := range list {
		s.pendingMu.Lock()
		if _, ok := s.pending[r.ID]; ok {
			s.pendingMu.Unlock()
			continue
		}
		s.pending[r.ID] = &pendingResult{result: r}
		s.pendingMu.Unlock()

		s.timers.Schedule(r.ID, r.NextRetryAt.Sub(now), s.fireRetry(r.ID))
		restored++
	}
	s.logger.Info("notifier restored", "retries", restored)
	return nil
}

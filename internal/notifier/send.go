package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Send records a notification and makes the first delivery attempt.
// Delivery failures are not returned: they mark the result failed and
// schedule a retry. Only invalid requests, unconfigured channels and store
// failures return an error.
func (s *Service) Send(ctx context.Context, req models.NotificationRequest) (string, error) {
	if req.Recipient == "" {
		return "", errs.Validation("send notification", "recipient is required")
	}
	if !req.Channel.IsValid() {
		return "", errs.Validation("send notification", "unknown channel %q", req.Channel)
	}
	if s.channel(req.Channel) == nil {
		return "", errs.Configuration("send notification", "channel %q is not configured", req.Channel)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	result := &models.NotificationResult{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    models.NotificationPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.results.Upsert(ctx, result); err != nil {
		return "", errs.Persistence("send notification", err)
	}

	p := &pendingResult{result: result}
	s.pendingMu.Lock()
	s.pending[result.ID] = p
	s.pendingMu.Unlock()

	p.mu.Lock()
	sig, payload := s.attemptLocked(ctx, p)
	p.mu.Unlock()
	s.bus.Publish(sig, payload)
	return result.ID, nil
}

// attemptLocked makes one delivery attempt and records the outcome. The
// caller holds p.mu and publishes the returned signal after unlocking.
func (s *Service) attemptLocked(ctx context.Context, p *pendingResult) (eventbus.Type, eventbus.NotificationPayload) {
	next := p.result.Clone()
	now := s.clock.Now()
	next.NextRetryAt = nil

	ch := s.channel(next.Request.Channel)
	var err error
	switch {
	case ch == nil:
		err = errs.Configuration("deliver notification", "channel %q is not configured", next.Request.Channel)
	case !ch.limiter.Allow(now):
		metrics.NotificationsRateLimitedTotal.WithLabelValues(string(next.Request.Channel)).Inc()
		err = ErrRateLimited
	default:
		err = s.deliver(ctx, ch, s.render(next))
	}

	label := string(next.Request.Channel)
	if err != nil && ch != nil && !errors.Is(err, ErrRateLimited) {
		ch.limiter.Release(now)
	}
	if err == nil {
		sent := s.clock.Now()
		next.Status = models.NotificationSent
		next.SentAt = &sent
		next.LastError = ""
		metrics.NotificationsSentTotal.WithLabelValues(label).Inc()
		s.logger.Debug("notification sent",
			"notification_id", next.ID,
			"channel", label,
			"recipient", next.Request.Recipient,
			"retry", next.RetryCount)
	} else {
		next.Status = models.NotificationFailed
		next.LastError = err.Error()
		metrics.NotificationsFailedTotal.WithLabelValues(label).Inc()

		// A removed channel is not retried.
		if ch != nil && next.RetryCount < ch.retry.MaxRetries {
			delay := ch.retry.delay(next.RetryCount)
			at := now.Add(delay)
			next.NextRetryAt = &at
			s.timers.Schedule(next.ID, delay, s.fireRetry(next.ID))
			metrics.NotificationRetriesTotal.WithLabelValues(label).Inc()
		}
		s.logger.Warn("notification delivery failed",
			"notification_id", next.ID,
			"channel", label,
			"recipient", next.Request.Recipient,
			"retry", next.RetryCount,
			"next_retry_at", next.NextRetryAt,
			"error", err)
	}

	if perr := s.results.Upsert(ctx, next); perr != nil {
		s.logger.Error("persist notification failed", "notification_id", next.ID, "error", perr)
	}
	p.result = next
	if next.NextRetryAt == nil {
		s.release(next.ID)
	}

	sig := eventbus.NotificationSent
	if err != nil {
		sig = eventbus.NotificationFailed
	}
	return sig, eventbus.NotificationPayload{Result: next.Clone()}
}

// deliver calls the adapter under the send timeout.
func (s *Service) deliver(ctx context.Context, ch *channel, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	err := ch.adapter.Deliver(ctx, msg)
	metrics.NotificationDeliveryDuration.WithLabelValues(string(ch.config.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		return errs.Delivery("", err)
	}
	return nil
}

func (s *Service) fireRetry(id string) func() {
	return func() {
		if err := s.retry(context.Background(), id); err != nil {
			s.logger.Debug("notification retry skipped", "notification_id", id, "error", err)
		}
	}
}

// retry makes the next attempt for a failed notification.
func (s *Service) retry(ctx context.Context, id string) error {
	s.pendingMu.Lock()
	p := s.pending[id]
	s.pendingMu.Unlock()
	if p == nil {
		return errs.NotFound("retry notification", "notification", id)
	}

	p.mu.Lock()
	if p.result.Status != models.NotificationFailed || p.result.NextRetryAt == nil {
		status := p.result.Status
		p.mu.Unlock()
		return errs.Validation("retry notification", "notification is %s", status)
	}
	s.timers.Cancel(id)
	p.result.RetryCount++
	sig, payload := s.attemptLocked(ctx, p)
	p.mu.Unlock()
	s.bus.Publish(sig, payload)
	return nil
}

// release forgets a notification that needs no further attempts.
func (s *Service) release(id string) {
	s.timers.Cancel(id)
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// MarkDelivered records a provider delivery receipt for a sent notification.
func (s *Service) MarkDelivered(ctx context.Context, id string) (*models.NotificationResult, error) {
	return s.transition(ctx, "mark delivered", id, func(r *models.NotificationResult, now time.Time) error {
		if r.Status != models.NotificationSent {
			return errs.Validation("mark delivered", "notification is %s", r.Status)
		}
		r.Status = models.NotificationDelivered
		r.DeliveredAt = &now
		return nil
	})
}

// MarkBounced records a provider bounce for a sent or delivered notification.
func (s *Service) MarkBounced(ctx context.Context, id, reason string) (*models.NotificationResult, error) {
	return s.transition(ctx, "mark bounced", id, func(r *models.NotificationResult, now time.Time) error {
		if r.Status != models.NotificationSent && r.Status != models.NotificationDelivered {
			return errs.Validation("mark bounced", "notification is %s", r.Status)
		}
		if reason == "" {
			reason = "bounced"
		}
		r.Status = models.NotificationBounced
		r.LastError = reason
		return nil
	})
}

func (s *Service) transition(ctx context.Context, op, id string, apply func(*models.NotificationResult, time.Time) error) (*models.NotificationResult, error) {
	s.pendingMu.Lock()
	p := s.pending[id]
	s.pendingMu.Unlock()

	if p != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		next := p.result.Clone()
		if err := apply(next, s.clock.Now()); err != nil {
			return nil, err
		}
		if err := s.results.Upsert(ctx, next); err != nil {
			return nil, errs.Persistence(op, err)
		}
		p.result = next
		s.release(id)
		return next.Clone(), nil
	}

	r, err := s.results.Get(ctx, id)
	if err != nil {
		return nil, errs.Persistence(op, err)
	}
	if r == nil {
		return nil, errs.NotFound(op, "notification", id)
	}
	if err := apply(r, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.results.Upsert(ctx, r); err != nil {
		return nil, errs.Persistence(op, err)
	}
	return r, nil
}

// testRecipients are placeholder addresses used by TestChannel.
var testRecipients = map[models.ChannelType]string{
	models.ChannelEmail:   "test@example.com",
	models.ChannelChat:    "",
	models.ChannelSMS:     "+15005550006",
	models.ChannelWebhook: "test",
	models.ChannelPush:    "test-device-token",
}

// TestChannel sends a low-priority message through a configured channel.
// It bypasses rate limits, retries, persistence and metrics.
func (s *Service) TestChannel(ctx context.Context, t models.ChannelType, recipient string) error {
	ch := s.channel(t)
	if ch == nil {
		return errs.Configuration("test channel", "channel %q is not configured", t)
	}
	if recipient == "" {
		recipient = testRecipients[t]
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	err := ch.adapter.Deliver(ctx, &Message{
		ID:        "test-" + uuid.New().String(),
		Recipient: recipient,
		Subject:   "Blazetrack test notification",
		Body:      "This is a test notification. If you received it, the " + string(t) + " channel is configured correctly.",
		Priority:  models.PriorityLow,
		Metadata:  map[string]any{"test": true},
		Timestamp: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("channel test failed", "channel", t, "error", err)
		return errs.Delivery("test channel", err)
	}
	s.logger.Info("channel test sent", "channel", t)
	return nil
}

package notifier

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// Run consumes notification requests and escalation triggers with the
// given number of workers until ctx is done or the service is closed.
func (s *Service) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 4
	}
	s.logger.Info("notifier started", "workers", workers, "default_channel", s.opts.DefaultChannel)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case sig, ok := <-s.sub.C():
					if !ok {
						return nil
					}
					s.handle(ctx, sig)
				}
			}
		})
	}
	err := g.Wait()
	s.logger.Info("notifier stopped")
	return err
}

// handle sends one request per recipient of a signal.
func (s *Service) handle(ctx context.Context, sig eventbus.Signal) {
	var reqs []models.NotificationRequest
	switch p := sig.Payload.(type) {
	case eventbus.NotificationRequestPayload:
		reqs = s.expand(p)
	case eventbus.EscalationPayload:
		reqs = s.expand(escalationRequest(p))
	default:
		s.logger.Warn("unexpected signal payload", "type", sig.Type, "payload", fmt.Sprintf("%T", sig.Payload))
		return
	}

	for _, req := range reqs {
		if _, err := s.Send(ctx, req); err != nil {
			level := s.logger.Error
			if errs.IsKind(err, errs.KindConfiguration) {
				level = s.logger.Warn
			}
			level("notification not sent",
				"signal", sig.Type,
				"alert_id", req.AlertID,
				"channel", req.Channel,
				"recipient", req.Recipient,
				"error", err)
		}
	}
}

// escalationRequest turns a triggered level into a notification request.
func escalationRequest(p eventbus.EscalationPayload) eventbus.NotificationRequestPayload {
	priority := models.PriorityForSeverity(p.Severity)
	if p.RequireAck && priority != models.PriorityUrgent {
		priority = models.PriorityHigh
	}
	message := p.Message
	if p.RequireAck {
		message += "\n\nAcknowledgement required."
	}
	return eventbus.NotificationRequestPayload{
		AlertID:    p.AlertID,
		Recipients: p.Recipients,
		Subject:    p.Subject,
		Message:    message,
		Priority:   priority,
		Metadata: map[string]any{
			"escalationId":    p.InstanceID,
			"escalationRule":  p.RuleID,
			"escalationLevel": p.Level,
			"maxLevel":        p.MaxLevel,
			"requireAck":      p.RequireAck,
			"severity":        string(p.Severity),
		},
	}
}

// expand resolves recipients to one request per channel and address.
// "channel:address" recipients name their channel; bare ids go to each of
// p.Channels, or to the default channel when none are listed.
func (s *Service) expand(p eventbus.NotificationRequestPayload) []models.NotificationRequest {
	seen := make(map[string]bool, len(p.Recipients))
	var out []models.NotificationRequest
	add := func(ch models.ChannelType, addr string) {
		key := string(ch) + ":" + addr
		if addr == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, models.NotificationRequest{
			AlertID:   p.AlertID,
			Recipient: addr,
			Channel:   ch,
			Subject:   p.Subject,
			Message:   p.Message,
			Priority:  p.Priority,
			Template:  p.Template,
			Metadata:  p.Metadata,
		})
	}

	for _, r := range p.Recipients {
		if ch, addr, ok := ParseRecipient(r); ok {
			add(ch, addr)
			continue
		}
		if len(p.Channels) == 0 {
			add(s.opts.DefaultChannel, r)
			continue
		}
		for _, ch := range p.Channels {
			add(ch, r)
		}
	}
	return out
}

// ParseRecipient splits "channel:address". It reports false for bare ids.
func ParseRecipient(r string) (models.ChannelType, string, bool) {
	i := strings.IndexByte(r, ':')
	if i <= 0 {
		return "", r, false
	}
	ch := models.ChannelType(r[:i])
	if !ch.IsValid() {
		return "", r, false
	}
	return ch, r[i+1:], true
}

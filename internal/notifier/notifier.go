// Package notifier delivers notifications over email, chat, SMS, webhook
// and push channels with per-channel rate limits and retry with backoff.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

// Adapter delivers rendered messages on one channel type.
type Adapter interface {
	// Type returns the channel the adapter serves.
	Type() models.ChannelType
	// Deliver sends one message to msg.Recipient.
	Deliver(ctx context.Context, msg *Message) error
	// Close releases any resources.
	Close() error
}

// Message is a rendered notification handed to an adapter.
type Message struct {
	ID        string
	AlertID   string
	Recipient string
	Subject   string
	Body      string
	Priority  models.Priority
	Metadata  map[string]any
	Timestamp time.Time
}

// ErrRateLimited is recorded when a channel's send limit is exhausted.
var ErrRateLimited = errors.New("rate_limited: channel send limit reached")

// Options configures a Service.
type Options struct {
	Results storage.NotificationRepository
	Bus     *eventbus.Bus
	Clock   clock.Clock
	Logger  *slog.Logger

	// DefaultChannel receives bare recipient ids. Defaults to email.
	DefaultChannel models.ChannelType
	// HTTPClient is used by the HTTP adapters.
	HTTPClient *http.Client
	// OutboundRate and OutboundBurst bound requests across HTTP adapters.
	OutboundRate  float64
	OutboundBurst int
	// SendTimeout bounds a single adapter call.
	SendTimeout time.Duration
	// QueueSize is the bus subscription buffer.
	QueueSize int
}

// Service is the notification service.
type Service struct {
	results storage.NotificationRepository
	bus     *eventbus.Bus
	clock   clock.Clock
	logger  *slog.Logger
	opts    Options
	sender  *httpSender

	mu        sync.RWMutex
	channels  map[models.ChannelType]*channel
	templates map[string]Template

	pendingMu sync.Mutex
	pending   map[string]*pendingResult

	timers *clock.Timers
	sub    *eventbus.Subscription
}

// channel is a configured adapter with its limits.
type channel struct {
	config  ChannelConfig
	retry   RetryPolicy
	adapter Adapter
	limiter *RateLimiter
}

// pendingResult serializes attempts on one notification.
type pendingResult struct {
	mu     sync.Mutex
	result *models.NotificationResult
}

// New creates a notification service and subscribes it to the bus.
// Call Run to start consuming requests.
func New(opts Options) (*Service, error) {
	if opts.Results == nil {
		return nil, errs.Configuration("new notifier", "notification repository is required")
	}
	if opts.Bus == nil {
		return nil, errs.Configuration("new notifier", "event bus is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = models.ChannelEmail
	}
	if !opts.DefaultChannel.IsValid() {
		return nil, errs.Configuration("new notifier", "unknown default channel %q", opts.DefaultChannel)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.OutboundRate <= 0 {
		opts.OutboundRate = 20
	}
	if opts.OutboundBurst <= 0 {
		opts.OutboundBurst = 10
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}

	s := &Service{
		results: opts.Results,
		bus:     opts.Bus,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "notifier"),
		opts:    opts,
		sender: &httpSender{
			client:  opts.HTTPClient,
			limiter: rate.NewLimiter(rate.Limit(opts.OutboundRate), opts.OutboundBurst),
		},
		channels:  make(map[models.ChannelType]*channel),
		templates: make(map[string]Template),
		pending:   make(map[string]*pendingResult),
		timers:    clock.NewTimers(opts.Clock),
	}
	s.sub = opts.Bus.Subscribe("notifier", opts.QueueSize, eventbus.NotificationRequested, eventbus.EscalationTriggered)
	return s, nil
}

// ConfigureChannel validates cfg, builds its adapter and replaces any
// adapter configured for the same channel type.
func (s *Service) ConfigureChannel(cfg ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return errs.Configuration("configure channel", "%v", err)
	}
	adapter, err := s.newAdapter(cfg)
	if err != nil {
		return errs.Configuration("configure channel", "%v", err)
	}
	return s.RegisterAdapter(cfg, adapter)
}

// RegisterAdapter installs a prebuilt adapter for cfg.Type.
func (s *Service) RegisterAdapter(cfg ChannelConfig, adapter Adapter) error {
	if !cfg.Type.IsValid() {
		return errs.Configuration("configure channel", "unknown channel type %q", cfg.Type)
	}
	if adapter == nil || adapter.Type() != cfg.Type {
		return errs.Configuration("configure channel", "adapter does not serve channel %q", cfg.Type)
	}

	ch := &channel{
		config:  cfg,
		retry:   cfg.Retry.withDefaults(),
		adapter: adapter,
		limiter: NewRateLimiter(cfg.RateLimit),
	}
	s.mu.Lock()
	old := s.channels[cfg.Type]
	s.channels[cfg.Type] = ch
	s.mu.Unlock()

	if old != nil {
		if err := old.adapter.Close(); err != nil {
			s.logger.Warn("close replaced adapter failed", "channel", cfg.Type, "error", err)
		}
	}
	s.logger.Info("channel configured",
		"channel", cfg.Type,
		"per_minute", cfg.RateLimit.PerMinute,
		"per_hour", cfg.RateLimit.PerHour,
		"max_retries", ch.retry.MaxRetries)
	return nil
}

func (s *Service) newAdapter(cfg ChannelConfig) (Adapter, error) {
	switch cfg.Type {
	case models.ChannelEmail:
		return newEmailAdapter(*cfg.Email), nil
	case models.ChannelChat:
		return newChatAdapter(*cfg.Chat, s.sender), nil
	case models.ChannelSMS:
		return newSMSAdapter(*cfg.SMS, s.sender), nil
	case models.ChannelWebhook:
		var wc WebhookConfig
		if cfg.Webhook != nil {
			wc = *cfg.Webhook
		}
		return newWebhookAdapter(wc, s.sender), nil
	case models.ChannelPush:
		return newPushAdapter(*cfg.Push, s.sender), nil
	}
	return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
}

// RemoveChannel closes and unregisters a channel's adapter.
func (s *Service) RemoveChannel(t models.ChannelType) error {
	s.mu.Lock()
	ch, ok := s.channels[t]
	delete(s.channels, t)
	s.mu.Unlock()
	if !ok {
		return errs.NotFound("remove channel", "channel", string(t))
	}
	s.logger.Info("channel removed", "channel", t)
	return ch.adapter.Close()
}

// ChannelStatus describes a configured channel.
type ChannelStatus struct {
	Type      models.ChannelType `json:"type"`
	RateLimit RateLimitStats     `json:"rate_limit"`
	Retry     RetryPolicy        `json:"retry"`
}

// Channels lists configured channels sorted by type.
func (s *Service) Channels() []ChannelStatus {
	s.mu.RLock()
	out := make([]ChannelStatus, 0, len(s.channels))
	for t, ch := range s.channels {
		out = append(out, ChannelStatus{Type: t, RateLimit: ch.limiter.Stats(), Retry: ch.retry})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func (s *Service) channel(t models.ChannelType) *channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[t]
}

// Result returns the delivery record for a notification.
func (s *Service) Result(ctx context.Context, id string) (*models.NotificationResult, error) {
	s.pendingMu.Lock()
	p := s.pending[id]
	s.pendingMu.Unlock()
	if p != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result.Clone(), nil
	}

	r, err := s.results.Get(ctx, id)
	if err != nil {
		return nil, errs.Persistence("get notification", err)
	}
	if r == nil {
		return nil, errs.NotFound("get notification", "notification", id)
	}
	return r, nil
}

// Close stops retry timers, the bus subscription and every adapter.
func (s *Service) Close() error {
	s.timers.CancelAll()
	s.bus.Unsubscribe(s.sub.Name())

	s.mu.Lock()
	defer s.mu.Unlock()
	var closeErrs []error
	for t, ch := range s.channels {
		if err := ch.adapter.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("%s: %w", t, err))
		}
	}
	s.channels = make(map[models.ChannelType]*channel)
	return errors.Join(closeErrs...)
}

// Package app wires the tracker, alert manager, escalation engine and
// notifier to their stores, the event bus and the HTTP servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazetrack/internal/alerting"
	"github.com/good-yellow-bee/blazetrack/internal/api"
	"github.com/good-yellow-bee/blazetrack/internal/api/health"
	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/escalation"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/notifier"
	"github.com/good-yellow-bee/blazetrack/internal/rulewatch"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
	"github.com/good-yellow-bee/blazetrack/internal/tracker"
)

// Config is the resolved runtime configuration.
type Config struct {
	API api.Config
	// MetricsAddress serves /metrics. Empty disables the metrics server.
	MetricsAddress string
	// DatabasePath is the SQLite file. Empty keeps all state in memory.
	DatabasePath string
	// ClickHouse stores error events when set.
	ClickHouse  *storage.ClickHouseConfig
	EventBuffer storage.EventBufferConfig

	Tracker       TrackerConfig
	Alerting      AlertingConfig
	Escalation    EscalationConfig
	Notifications NotificationsConfig
	Schedule      ScheduleConfig

	Version string
}

// TrackerConfig configures the error tracker.
type TrackerConfig struct {
	RecentCapacity int
	Retention      time.Duration
	SpikeWindow    time.Duration
	SpikeFactor    float64
	DisableAlerts  bool
}

// AlertingConfig configures the alert manager.
type AlertingConfig struct {
	RulesFile          string
	WatchRules         bool
	DefaultRecipients  models.Recipients
	MaxEscalationLevel int
	ScriptTimeout      time.Duration
	QueueSize          int
}

// EscalationConfig configures the escalation engine.
type EscalationConfig struct {
	RulesFile    string
	WatchRules   bool
	DefaultDelay time.Duration
	MaxLevel     int
}

// NotificationsConfig configures the notifier.
type NotificationsConfig struct {
	DefaultChannel models.ChannelType
	Channels       []notifier.ChannelConfig
	Templates      []notifier.Template
	Workers        int
	OutboundRate   float64
	OutboundBurst  int
	SendTimeout    time.Duration
	QueueSize      int
}

// ScheduleConfig holds cron specs for periodic jobs. Empty disables a job.
type ScheduleConfig struct {
	EscalationSweep   string
	NotificationSweep string
	AlertSweep        string
	Cleanup           string
	Analytics         string
}

// DefaultSchedule returns the standard job intervals.
func DefaultSchedule() ScheduleConfig {
	return ScheduleConfig{
		EscalationSweep:   "@every 60s",
		NotificationSweep: "@every 30s",
		AlertSweep:        "@every 5m",
		Cleanup:           "@every 1h",
		Analytics:         "@every 5m",
	}
}

// App owns every long-lived component.
type App struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	bus      *eventbus.Bus
	store    storage.Storage
	events   storage.EventStorage
	buffer   *storage.EventBuffer
	watchers []*rulewatch.Watcher

	Tracker     *tracker.Tracker
	Alerts      *alerting.Manager
	Escalations *escalation.Engine
	Notifier    *notifier.Service

	api     *api.Server
	metrics *metrics.Server
	cron    *cron.Cron
}

// New opens the stores and builds the components. Call Close when done,
// whether or not Run was called.
func New(cfg Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  clock.Real{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.bus = eventbus.New(eventbus.Options{Logger: logger, Clock: a.clock})

	if err := a.openStores(); err != nil {
		return nil, err
	}
	if err := a.buildComponents(); err != nil {
		return nil, err
	}

	a.api, err = api.New(&cfg.API, api.Services{
		Tracker:     a.Tracker,
		Alerts:      a.Alerts,
		Escalations: a.Escalations,
		Notifier:    a.Notifier,
		Bus:         a.bus,
		Clock:       a.clock,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create api server: %w", err)
	}
	a.api.SetVersion(cfg.Version)
	a.api.RegisterHealthChecker(health.NewPingChecker("database", a.store))
	if a.events != nil {
		a.api.RegisterHealthChecker(health.NewPingChecker("clickhouse", a.events))
	}
	a.api.RegisterHealthChecker(health.NewFuncChecker("notifier", a.checkChannels))
	a.registerHealthComponents()

	if cfg.MetricsAddress != "" {
		a.metrics = metrics.NewServer(cfg.MetricsAddress, logger)
	}
	return a, nil
}

func (a *App) openStores() error {
	if a.cfg.DatabasePath == "" {
		a.logger.Warn("no database path configured, state is kept in memory only")
		a.store = storage.NewMemoryStorage()
	} else {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DatabasePath), 0750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		a.store = storage.NewSQLiteStorage(a.cfg.DatabasePath)
	}
	if err := a.store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := a.store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if a.cfg.DatabasePath != "" {
		a.logger.Info("database initialized", "path", a.cfg.DatabasePath)
	}

	if a.cfg.ClickHouse != nil {
		ch := storage.NewClickHouseStorage(a.cfg.ClickHouse, a.logger)
		if err := ch.Open(); err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		a.events = ch
		if err := ch.Migrate(); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
		repo, ok := ch.Events().(storage.BatchEventRepository)
		if !ok {
			return fmt.Errorf("clickhouse event repository does not support batches")
		}
		bufCfg := a.cfg.EventBuffer
		bufCfg.Logger = a.logger
		a.buffer = storage.NewEventBuffer(repo, bufCfg)
		a.logger.Info("error events stored in clickhouse", "addresses", a.cfg.ClickHouse.Addresses)
	}
	return nil
}

func (a *App) eventRepository() storage.EventRepository {
	if a.buffer != nil {
		return a.buffer
	}
	return a.store.Events()
}

func (a *App) buildComponents() error {
	var err error
	cfg := a.cfg

	a.Tracker, err = tracker.New(tracker.Options{
		Events:         a.eventRepository(),
		Groups:         a.store.Groups(),
		Bus:            a.bus,
		Clock:          a.clock,
		Logger:         a.logger,
		RecentCapacity: cfg.Tracker.RecentCapacity,
		Retention:      cfg.Tracker.Retention,
		DisableAlerts:  cfg.Tracker.DisableAlerts,
		SpikeWindow:    cfg.Tracker.SpikeWindow,
		SpikeFactor:    cfg.Tracker.SpikeFactor,
	})
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}

	a.Alerts, err = alerting.New(alerting.Options{
		Alerts:             a.store.Alerts(),
		Rules:              a.store.Rules(),
		Suppressions:       a.store.Suppressions(),
		Bus:                a.bus,
		Clock:              a.clock,
		Logger:             a.logger,
		RulesFile:          cfg.Alerting.RulesFile,
		DefaultRecipients:  cfg.Alerting.DefaultRecipients,
		MaxEscalationLevel: cfg.Alerting.MaxEscalationLevel,
		ScriptTimeout:      cfg.Alerting.ScriptTimeout,
		QueueSize:          cfg.Alerting.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("create alert manager: %w", err)
	}

	a.Escalations, err = escalation.New(escalation.Options{
		Instances:    a.store.Escalations(),
		Alerts:       a.store.Alerts(),
		Bus:          a.bus,
		Clock:        a.clock,
		Logger:       a.logger,
		RulesFile:    cfg.Escalation.RulesFile,
		DefaultDelay: cfg.Escalation.DefaultDelay,
		MaxLevel:     cfg.Escalation.MaxLevel,
	})
	if err != nil {
		return fmt.Errorf("create escalation engine: %w", err)
	}

	a.Notifier, err = notifier.New(notifier.Options{
		Results:        a.store.Notifications(),
		Bus:            a.bus,
		Clock:          a.clock,
		Logger:         a.logger,
		DefaultChannel: cfg.Notifications.DefaultChannel,
		OutboundRate:   cfg.Notifications.OutboundRate,
		OutboundBurst:  cfg.Notifications.OutboundBurst,
		SendTimeout:    cfg.Notifications.SendTimeout,
		QueueSize:      cfg.Notifications.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	for _, ch := range cfg.Notifications.Channels {
		if err := a.Notifier.ConfigureChannel(ch); err != nil {
			return fmt.Errorf("configure %s channel: %w", ch.Type, err)
		}
	}
	for _, t := range cfg.Notifications.Templates {
		if err := a.Notifier.RegisterTemplate(t); err != nil {
			return fmt.Errorf("register template %s: %w", t.ID, err)
		}
	}
	return nil
}

// checkChannels fails readiness when channels are configured but the
// default channel is not among them.
func (a *App) checkChannels(context.Context) error {
	statuses := a.Notifier.Channels()
	if len(statuses) == 0 {
		return nil
	}
	def := a.cfg.Notifications.DefaultChannel
	if def == "" {
		def = models.ChannelEmail
	}
	for _, st := range statuses {
		if st.Type == def {
			return nil
		}
	}
	return fmt.Errorf("default channel %s is not configured", def)
}

// registerHealthComponents puts component counters on /health. A full
// subscriber queue marks the bus degraded since its signals are being lost.
func (a *App) registerHealthComponents() {
	a.api.RegisterHealthComponent("tracker", func() (any, error) {
		return a.Tracker.Stats(), nil
	})
	a.api.RegisterHealthComponent("alerting", func() (any, error) {
		return a.Alerts.Stats(), nil
	})
	a.api.RegisterHealthComponent("escalation", func() (any, error) {
		return a.Escalations.Stats(), nil
	})
	a.api.RegisterHealthComponent("notifier", func() (any, error) {
		return a.Notifier.Channels(), a.checkChannels(context.Background())
	})
	a.api.RegisterHealthComponent("eventbus", func() (any, error) {
		queues := a.bus.Queues()
		details := map[string]any{"published": a.bus.Published(), "queues": queues}
		var full []string
		for name, q := range queues {
			if q.Full() {
				full = append(full, name)
			}
		}
		if len(full) > 0 {
			sort.Strings(full)
			return details, fmt.Errorf("subscriber queue full: %s", strings.Join(full, ", "))
		}
		return details, nil
	})
}

// API returns the HTTP API server.
func (a *App) API() *api.Server {
	return a.api
}

// Bus returns the event bus.
func (a *App) Bus() *eventbus.Bus {
	return a.bus
}

// Run restores persisted state, then runs the scheduler, rule watchers,
// notifier workers and HTTP servers until ctx is canceled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.restore(ctx); err != nil {
		return err
	}

	a.cron = cron.New(cron.WithLogger(cronLogger{a.logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.logger})))
	if err := a.scheduleJobs(ctx); err != nil {
		return err
	}
	if err := a.startWatchers(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	a.cron.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-a.cron.Stop().Done()
		return nil
	})

	g.Go(func() error {
		return a.Alerts.Run(gctx)
	})

	g.Go(func() error {
		return a.Notifier.Run(gctx, a.cfg.Notifications.Workers)
	})

	for _, w := range a.watchers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		return a.api.Run(gctx)
	})

	if a.metrics != nil {
		g.Go(a.metrics.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.metrics.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("blazetrack running", "version", a.cfg.Version, "api", a.api.Address(), "metrics", a.cfg.MetricsAddress)
	return g.Wait()
}

// restore rebuilds in-memory state from the store.
func (a *App) restore(ctx context.Context) error {
	if err := a.Alerts.Restore(ctx); err != nil {
		return fmt.Errorf("restore alerts: %w", err)
	}
	if err := a.Escalations.Restore(ctx); err != nil {
		return fmt.Errorf("restore escalations: %w", err)
	}
	if err := a.Notifier.Restore(ctx); err != nil {
		return fmt.Errorf("restore notifications: %w", err)
	}
	return nil
}

// Close releases every component and store. It is safe to call on a
// partially built App.
func (a *App) Close() error {
	for _, w := range a.watchers {
		w.Close()
	}
	if a.Alerts != nil {
		a.Alerts.Close()
	}
	if a.Escalations != nil {
		a.Escalations.Close()
	}
	var errs []error
	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if a.buffer != nil {
		if err := a.buffer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event buffer: %w", err))
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close clickhouse: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	return errors.Join(errs...)
}

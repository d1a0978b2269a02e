package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/rulewatch"
)

// job is a periodic task. A non-nil error marks the run as failed.
type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func (a *App) jobs() []job {
	s := a.cfg.Schedule
	return []job{
		{"escalation_sweep", s.EscalationSweep, func(ctx context.Context) error {
			if n := a.Escalations.Sweep(ctx); n > 0 {
				a.logger.Info("escalation sweep recovered instances", "count", n)
			}
			return nil
		}},
		{"notification_sweep", s.NotificationSweep, func(ctx context.Context) error {
			if n := a.Notifier.Sweep(ctx); n > 0 {
				a.logger.Info("notification sweep retried", "count", n)
			}
			return nil
		}},
		{"alert_sweep", s.AlertSweep, func(ctx context.Context) error {
			a.Alerts.Sweep(ctx)
			return nil
		}},
		{"cleanup", s.Cleanup, func(ctx context.Context) error {
			if n := a.Tracker.Cleanup(ctx); n > 0 {
				a.logger.Info("dropped stale error groups", "count", n)
			}
			return nil
		}},
		{"analytics", s.Analytics, func(ctx context.Context) error {
			a.Tracker.RefreshAnalytics(ctx)
			return nil
		}},
		{"event_flush", a.flushSpec(), func(ctx context.Context) error {
			return a.buffer.Flush(ctx)
		}},
	}
}

// flushSpec schedules an extra event buffer flush alongside cleanup so
// buffered events are written before expired ones are deleted.
func (a *App) flushSpec() string {
	if a.buffer == nil {
		return ""
	}
	return a.cfg.Schedule.Cleanup
}

// scheduleJobs registers every job with a spec. Jobs run with ctx, so they
// stop early on shutdown.
func (a *App) scheduleJobs(ctx context.Context) error {
	for _, j := range a.jobs() {
		if j.spec == "" {
			continue
		}
		if _, err := a.cron.AddFunc(j.spec, a.wrap(ctx, j)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		a.logger.Debug("job scheduled", "job", j.name, "spec", j.spec)
	}
	return nil
}

func (a *App) wrap(ctx context.Context, j job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		if err := j.run(ctx); err != nil {
			metrics.SweepRunsTotal.WithLabelValues(j.name, "error").Inc()
			a.logger.Error("job failed", "job", j.name, "error", err)
			return
		}
		metrics.SweepRunsTotal.WithLabelValues(j.name, "success").Inc()
	}
}

// startWatchers creates file watchers for rule files that ask for hot
// reload.
func (a *App) startWatchers() error {
	watch := []struct {
		name    string
		path    string
		enabled bool
		reload  rulewatch.ReloadFunc
	}{
		{"alert_rules", a.cfg.Alerting.RulesFile, a.cfg.Alerting.WatchRules, a.Alerts.ReloadRules},
		{"escalation_rules", a.cfg.Escalation.RulesFile, a.cfg.Escalation.WatchRules, a.Escalations.ReloadRules},
	}
	for _, w := range watch {
		if !w.enabled || w.path == "" {
			continue
		}
		watcher, err := rulewatch.New(w.path, w.reload, rulewatch.Options{
			Logger: a.logger.With("watcher", w.name),
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", w.name, err)
		}
		a.watchers = append(a.watchers, watcher)
		a.logger.Info("watching rule file", "watcher", w.name, "path", w.path)
	}
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// ValidateSchedule checks every cron spec.
func ValidateSchedule(s ScheduleConfig) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"escalation_sweep":   s.EscalationSweep,
		"notification_sweep": s.NotificationSweep,
		"alert_sweep":        s.AlertSweep,
		"cleanup":            s.Cleanup,
		"analytics":          s.Analytics,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("schedule.%s: %w", name, err)
		}
	}
	return nil
}

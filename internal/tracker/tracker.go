// Package tracker captures error occurrences, fingerprints them and folds
// them into persistent error groups with trend and severity statistics.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/errs"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
)

// Options configures a Tracker.
type Options struct {
	Events storage.EventRepository
	Groups storage.GroupRepository
	Bus    *eventbus.Bus
	Clock  clock.Clock
	Logger *slog.Logger

	// RecentCapacity bounds the in-memory recent-events buffer.
	RecentCapacity int
	// Retention is how long a group survives without new occurrences.
	Retention time.Duration
	// DisableAlerts turns off the built-in alert checks.
	DisableAlerts bool
	// SpikeWindow is the period compared by the spike check.
	SpikeWindow time.Duration
	// SpikeFactor is the ratio of current to previous period that counts as a spike.
	SpikeFactor float64
	// Snapshot samples runtime state for each event. Defaults to runtime
	// stats read at most once per SnapshotInterval.
	Snapshot func() models.PerformanceSnapshot
	// SnapshotInterval is how long the default runtime sample is reused.
	SnapshotInterval time.Duration
}

// Stats are tracker counters.
type Stats struct {
	Captured        int64 `json:"captured"`
	CaptureFailures int64 `json:"capture_failures"`
	AlertSignals    int64 `json:"alert_signals"`
	Groups          int   `json:"groups"`
	RecentSize      int   `json:"recent_size"`
	CacheSize       int   `json:"cache_size"`
	Breadcrumbs     int   `json:"breadcrumbs"`
}

// CaptureInput describes one error occurrence.
type CaptureInput struct {
	Type       string               `json:"type"`
	Message    string               `json:"message"`
	StackTrace string               `json:"stack_trace,omitempty"`
	Level      models.Level         `json:"level"`
	Context    models.ErrorContext  `json:"context"`
	Metadata   models.ErrorMetadata `json:"metadata"`
	// Timestamp defaults to the capture time.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Tracker is the error tracker.
type Tracker struct {
	events storage.EventRepository
	groups storage.GroupRepository
	bus    *eventbus.Bus
	clock  clock.Clock
	logger *slog.Logger
	opts   Options

	fingerprints *Fingerprinter
	crumbs       *breadcrumbRing
	rate         *rateWindow
	analytics    singleflight.Group

	recentMu sync.Mutex
	recent   []*models.ErrorEvent

	groupsMu sync.Mutex
	entries  map[string]*groupEntry

	spikeMu   sync.Mutex
	lastSpike time.Time

	captured        atomic.Int64
	captureFailures atomic.Int64
	alertSignals    atomic.Int64
}

// groupEntry serializes read-modify-write cycles on one fingerprint.
type groupEntry struct {
	mu    sync.Mutex
	group *models.ErrorGroup
}

// New creates a tracker.
func New(opts Options) (*Tracker, error) {
	if opts.Events == nil || opts.Groups == nil {
		return nil, errs.Configuration("new tracker", "event and group repositories are required")
	}
	if opts.Bus == nil {
		return nil, errs.Configuration("new tracker", "event bus is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RecentCapacity <= 0 {
		opts.RecentCapacity = 1000
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if opts.SpikeWindow <= 0 {
		opts.SpikeWindow = 5 * time.Minute
	}
	if opts.SpikeFactor <= 0 {
		opts.SpikeFactor = 5
	}
	if opts.Snapshot == nil {
		opts.Snapshot = newSnapshotSampler(opts.Clock, opts.SnapshotInterval, runtimeSnapshot).Sample
	}

	return &Tracker{
		events:       opts.Events,
		groups:       opts.Groups,
		bus:          opts.Bus,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "tracker"),
		opts:         opts,
		fingerprints: NewFingerprinter(),
		crumbs:       newBreadcrumbRing(maxBreadcrumbs),
		rate:         newRateWindow(opts.SpikeWindow),
		entries:      make(map[string]*groupEntry),
	}, nil
}

// Capture records an error occurrence and returns the event id. When the
// event or its group cannot be persisted it returns a persistence error and
// leaves the in-memory state untouched.
func (t *Tracker) Capture(ctx context.Context, in CaptureInput) (string, error) {
	if strings.TrimSpace(in.Type) == "" && strings.TrimSpace(in.Message) == "" {
		return "", errs.Validation("capture", "type or message is required")
	}
	if in.Type == "" {
		in.Type = "Error"
	}
	if in.Level == "" {
		in.Level = models.LevelError
	}
	if !in.Level.IsValid() {
		return "", errs.Validation("capture", "unknown level %q", in.Level)
	}

	now := t.clock.Now()
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}

	event := &models.ErrorEvent{
		ID:          uuid.New().String(),
		Fingerprint: t.fingerprints.Fingerprint(in.Type, in.Message, in.StackTrace),
		Timestamp:   ts,
		Level:       in.Level,
		Message:     in.Message,
		Type:        in.Type,
		StackTrace:  in.StackTrace,
		Context:     in.Context,
		Metadata:    in.Metadata,
		Breadcrumbs: t.crumbs.last(eventBreadcrumbs),
		Performance: t.opts.Snapshot(),
	}

	if err := t.events.Store(ctx, event); err != nil {
		t.captureFailed(event, err)
		return "", errs.Persistence("capture", err)
	}

	group, created, reopened, err := t.group(ctx, event)
	if err != nil {
		t.captureFailed(event, err)
		return "", errs.Persistence("capture", err)
	}

	t.pushRecent(event)
	t.captured.Add(1)
	metrics.ErrorsCapturedTotal.WithLabelValues(string(event.Level)).Inc()

	if created {
		t.updateGroupGauge()
		t.logger.Info("new error group", "fingerprint", group.Fingerprint, "type", group.Type, "level", group.Level)
	} else if reopened {
		t.logger.Info("error group regressed", "fingerprint", group.Fingerprint, "count", group.Count)
	}

	if !t.opts.DisableAlerts {
		t.runChecks(event, group, created, now)
	}

	t.bus.Publish(eventbus.ErrorCaptured, eventbus.ErrorCapturedPayload{Event: event})
	if created {
		t.bus.Publish(eventbus.NewErrorGroup, eventbus.GroupPayload{Group: group})
	} else {
		t.bus.Publish(eventbus.ErrorGroupUpdated, eventbus.GroupPayload{Group: group, Reopened: reopened})
	}

	return event.ID, nil
}

// CaptureError records a Go error. The type is derived from the error chain
// and the stack from the caller.
func (t *Tracker) CaptureError(ctx context.Context, err error, level models.Level, ectx models.ErrorContext, meta models.ErrorMetadata) (string, error) {
	if err == nil {
		return "", errs.Validation("capture", "nil error")
	}
	return t.Capture(ctx, CaptureInput{
		Type:       errorType(err),
		Message:    err.Error(),
		StackTrace: callerStack(3),
		Level:      level,
		Context:    ectx,
		Metadata:   meta,
	})
}

func (t *Tracker) captureFailed(event *models.ErrorEvent, err error) {
	t.captureFailures.Add(1)
	metrics.CaptureFailuresTotal.Inc()
	t.logger.Error("capture failed", "fingerprint", event.Fingerprint, "error", err)
}

func (t *Tracker) pushRecent(event *models.ErrorEvent) {
	t.recentMu.Lock()
	defer t.recentMu.Unlock()

	t.recent = append(t.recent, event)
	if over := len(t.recent) - t.opts.RecentCapacity; over > 0 {
		copy(t.recent, t.recent[over:])
		for i := len(t.recent) - over; i < len(t.recent); i++ {
			t.recent[i] = nil
		}
		t.recent = t.recent[:len(t.recent)-over]
	}
}

// RecentEvents returns up to n of the newest events, newest first.
// n <= 0 returns the whole buffer.
func (t *Tracker) RecentEvents(n int) []*models.ErrorEvent {
	t.recentMu.Lock()
	defer t.recentMu.Unlock()

	if n <= 0 || n > len(t.recent) {
		n = len(t.recent)
	}
	out := make([]*models.ErrorEvent, 0, n)
	for i := len(t.recent) - 1; i >= len(t.recent)-n; i-- {
		out = append(out, t.recent[i])
	}
	return out
}

// AddBreadcrumb records a trace entry attached to subsequent events.
func (t *Tracker) AddBreadcrumb(b models.Breadcrumb) {
	if b.Timestamp.IsZero() {
		b.Timestamp = t.clock.Now()
	}
	t.crumbs.add(b)
}

// Breadcrumbs returns the breadcrumb ring, oldest first.
func (t *Tracker) Breadcrumbs() []models.Breadcrumb {
	return t.crumbs.last(0)
}

// ClearBreadcrumbs empties the breadcrumb ring.
func (t *Tracker) ClearBreadcrumbs() {
	t.crumbs.clear()
}

// Stats returns tracker counters.
func (t *Tracker) Stats() Stats {
	t.recentMu.Lock()
	recent := len(t.recent)
	t.recentMu.Unlock()

	return Stats{
		Captured:        t.captured.Load(),
		CaptureFailures: t.captureFailures.Load(),
		AlertSignals:    t.alertSignals.Load(),
		Groups:          len(t.Groups()),
		RecentSize:      recent,
		CacheSize:       t.fingerprints.Size(),
		Breadcrumbs:     len(t.crumbs.last(0)),
	}
}

// SearchErrors queries the event store.
func (t *Tracker) SearchErrors(ctx context.Context, filter *storage.ErrorFilter) (*storage.ErrorSearchResult, error) {
	res, err := t.events.Search(ctx, filter)
	if err != nil {
		return nil, errs.Persistence("search errors", err)
	}
	return res, nil
}

// Trends returns event counts bucketed by granularity.
func (t *Tracker) Trends(ctx context.Context, r models.TimeRange, g storage.Granularity) ([]storage.TrendPoint, error) {
	points, err := t.events.Trends(ctx, r, g)
	if err != nil {
		return nil, errs.Persistence("error trends", err)
	}
	return points, nil
}

// genericErrorTypes are the stdlib wrappers that say nothing about the cause.
var genericErrorTypes = map[string]bool{
	"errors.errorString": true,
	"fmt.wrapError":      true,
	"fmt.wrapErrors":     true,
	"errors.joinError":   true,
}

// errorType names the innermost non-generic error type in err's chain.
// Chains made only of errors.New and fmt.Errorf values report "Error".
func errorType(err error) string {
	name := "Error"
	for ; err != nil; err = errors.Unwrap(err) {
		n := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
		if !genericErrorTypes[n] {
			name = n
		}
	}
	return name
}

// callerStack formats the calling goroutine's stack, skipping skip frames.
func callerStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s (%s:%d)\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

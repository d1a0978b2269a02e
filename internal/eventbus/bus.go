// Package eventbus is the in-process dispatcher the tracker, alert manager,
// escalation engine and notifier use to talk to each other.
package eventbus

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
)

// Handler consumes a signal inline. Handlers must not block; anything slow
// belongs on a goroutine owned by the handler's component.
type Handler func(Signal)

// Options configures a Bus.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock
}

// Bus dispatches signals to inline handlers and buffered subscriptions.
type Bus struct {
	logger *slog.Logger
	clock  clock.Clock

	mu       sync.RWMutex
	handlers map[Type][]Handler
	subs     map[string]*Subscription

	published atomic.Uint64
}

// Subscription receives signals on a buffered channel.
type Subscription struct {
	name    string
	ch      chan Signal
	types   map[Type]bool
	dropped atomic.Uint64
}

// New creates a bus.
func New(opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Bus{
		logger:   opts.Logger.With("component", "eventbus"),
		clock:    opts.Clock,
		handlers: make(map[Type][]Handler),
		subs:     make(map[string]*Subscription),
	}
}

// On registers an inline handler for a signal type.
func (b *Bus) On(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Subscribe registers a buffered subscription. With no types it receives
// every signal. Subscribing twice with the same name replaces the old
// subscription and closes its channel.
func (b *Bus) Subscribe(name string, buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		name: name,
		ch:   make(chan Signal, buffer),
	}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[name]; ok {
		close(old.ch)
	}
	b.subs[name] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[name]; ok {
		close(sub.ch)
		delete(b.subs, name)
	}
}

// Publish dispatches a signal. Inline handlers run on the caller's
// goroutine; subscriptions never block the caller. Callers must not hold
// their own locks while publishing.
func (b *Bus) Publish(t Type, payload any) {
	sig := Signal{Type: t, Time: b.clock.Now(), Payload: payload}
	b.published.Add(1)
	metrics.BusSignalsTotal.WithLabelValues(string(t)).Inc()

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[t]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, sig)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[t] {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			sub.dropped.Add(1)
			metrics.BusDroppedTotal.WithLabelValues(sub.name).Inc()
		}
	}
}

// Published returns the number of signals published.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// QueueStats describes one subscription's buffer.
type QueueStats struct {
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// Full reports whether the next signal would be dropped.
func (q QueueStats) Full() bool { return q.Queued >= q.Capacity }

// Queues returns buffer usage per subscription name.
func (b *Bus) Queues() map[string]QueueStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]QueueStats, len(b.subs))
	for name, sub := range b.subs {
		out[name] = QueueStats{Queued: len(sub.ch), Capacity: cap(sub.ch), Dropped: sub.dropped.Load()}
	}
	return out
}

// Close removes all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, name)
	}
}

func (b *Bus) invoke(h Handler, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerPanicsTotal.WithLabelValues(string(sig.Type)).Inc()
			b.logger.Error("signal handler panicked",
				"type", sig.Type,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	h(sig)
}

// Name returns the subscription name.
func (s *Subscription) Name() string { return s.name }

// C returns the receive channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Signal { return s.ch }

// Dropped returns how many signals were dropped on a full buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Recorder collects signals synchronously. Used by tests.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

// Record registers the recorder for the given types on b.
func Record(b *Bus, types ...Type) *Recorder {
	r := &Recorder{}
	for _, t := range types {
		b.On(t, r.add)
	}
	return r
}

func (r *Recorder) add(s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

// Signals returns recorded signals of type t, or all when t is empty.
func (r *Recorder) Signals(t Type) []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Signal
	for _, s := range r.signals {
		if t == "" || s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of recorded signals of type t.
func (r *Recorder) Count(t Type) int {
	return len(r.Signals(t))
}

// Wait polls until the recorder holds at least n signals of type t or the
// timeout elapses.
func (r *Recorder) Wait(t Type, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Count(t) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// BatchEventRepository is an EventRepository that can insert many events
// at once.
type BatchEventRepository interface {
	EventRepository
	StoreBatch(ctx context.Context, events []*models.ErrorEvent) error
}

// EventBuffer buffers error events for batch insertion.
// It flushes on either batch size threshold or time interval,
// whichever comes first. It implements backpressure by dropping
// oldest events when the buffer reaches max capacity.
//
// Reads go straight to the wrapped repository, so events still in the
// buffer are not visible to Search or Trends until the next flush.
type EventBuffer struct {
	repo          BatchEventRepository
	batchSize     int
	flushInterval time.Duration
	maxSize       int
	logger        *slog.Logger

	mu       sync.Mutex
	buffer   []*models.ErrorEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

var _ EventRepository = (*EventBuffer)(nil)

// EventBufferConfig holds EventBuffer configuration.
type EventBufferConfig struct {
	// BatchSize is the number of events to trigger a flush.
	BatchSize int

	// FlushInterval is the time interval to trigger a flush.
	FlushInterval time.Duration

	// MaxSize is the maximum buffer size. When reached, oldest events are dropped.
	MaxSize int

	Logger *slog.Logger
}

// NewEventBuffer creates a new event buffer and starts its flush loop.
func NewEventBuffer(repo BatchEventRepository, config EventBufferConfig) *EventBuffer {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 50000
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	b := &EventBuffer{
		repo:          repo,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		logger:        config.Logger.With("component", "event_buffer"),
		buffer:        make([]*models.ErrorEvent, 0, config.BatchSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go b.flushLoop()
	return b
}

// Store queues an event. It only fails when the batch it completes cannot
// be written.
func (b *EventBuffer) Store(ctx context.Context, event *models.ErrorEvent) error {
	if b.stopped.Load() {
		return b.repo.Store(ctx, event)
	}

	b.mu.Lock()
	if len(b.buffer) >= b.maxSize {
		toDrop := len(b.buffer) - b.maxSize + 1
		b.dropped.Add(int64(toDrop))
		b.buffer = b.buffer[toDrop:]
		b.logger.Warn("event buffer overflow, dropped oldest events", "dropped", toDrop)
	}
	b.buffer = append(b.buffer, event)
	shouldFlush := len(b.buffer) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush(ctx)
	}
	return nil
}

// Search reads from the wrapped repository.
func (b *EventBuffer) Search(ctx context.Context, filter *ErrorFilter) (*ErrorSearchResult, error) {
	return b.repo.Search(ctx, filter)
}

// Trends reads from the wrapped repository.
func (b *EventBuffer) Trends(ctx context.Context, r models.TimeRange, g Granularity) ([]TrendPoint, error) {
	return b.repo.Trends(ctx, r, g)
}

// DeleteBefore deletes from the wrapped repository.
func (b *EventBuffer) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return b.repo.DeleteBefore(ctx, before)
}

// Flush forces a flush of the current buffer.
func (b *EventBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}

	toFlush := b.buffer
	b.buffer = make([]*models.ErrorEvent, 0, b.batchSize)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := b.repo.StoreBatch(ctx, toFlush); err != nil {
		// Put events back at the front so they're flushed next.
		b.mu.Lock()
		b.buffer = append(toFlush, b.buffer...)
		if len(b.buffer) > b.maxSize {
			excess := len(b.buffer) - b.maxSize
			b.dropped.Add(int64(excess))
			b.buffer = b.buffer[excess:]
		}
		b.mu.Unlock()
		return err
	}

	b.flushed.Add(1)
	b.inserted.Add(int64(len(toFlush)))
	return nil
}

// flushLoop periodically flushes the buffer.
func (b *EventBuffer) flushLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.logger.Error("event buffer flush failed", "error", err)
			}
		case <-b.stopCh:
			if err := b.Flush(context.Background()); err != nil {
				b.logger.Error("event buffer final flush failed", "error", err)
			}
			return
		}
	}
}

// Close stops the buffer and flushes remaining events. Later stores go
// straight to the wrapped repository.
func (b *EventBuffer) Close() error {
	if b.stopped.Swap(true) {
		return nil
	}
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Stats returns buffer statistics.
func (b *EventBuffer) Stats() EventBufferStats {
	b.mu.Lock()
	pending := len(b.buffer)
	b.mu.Unlock()

	return EventBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}

// EventBufferStats contains buffer statistics.
type EventBufferStats struct {
	// Pending is the number of events waiting to be flushed.
	Pending int
	// Dropped is the total number of events dropped due to backpressure.
	Dropped int64
	// Flushed is the total number of flush operations.
	Flushed int64
	// Inserted is the total number of events successfully inserted.
	Inserted int64
}

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// batchRepo records batches on top of the in-memory event repository.
type batchRepo struct {
	EventRepository

	mu      sync.Mutex
	batches []int
	fail    bool
}

func (r *batchRepo) StoreBatch(ctx context.Context, events []*models.ErrorEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("store unavailable")
	}
	for _, e := range events {
		if err := r.EventRepository.Store(ctx, e); err != nil {
			return err
		}
	}
	r.batches = append(r.batches, len(events))
	return nil
}

func (r *batchRepo) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func (r *batchRepo) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.batches...)
}

func newBatchRepo() *batchRepo {
	return &batchRepo{EventRepository: NewMemoryStorage().Events()}
}

func TestEventBuffer_FlushesOnBatchSize(t *testing.T) {
	repo := newBatchRepo()
	buf := NewEventBuffer(repo, EventBufferConfig{BatchSize: 3, FlushInterval: time.Hour})
	defer buf.Close()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 7; i++ {
		if err := buf.Store(ctx, newEvent("fp", now, models.LevelError)); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	if got := repo.batchSizes(); len(got) != 2 || got[0] != 3 || got[1] != 3 {
		t.Errorf("batches = %v, want [3 3]", got)
	}
	if st := buf.Stats(); st.Pending != 1 || st.Inserted != 6 || st.Flushed != 2 {
		t.Errorf("stats = %+v", st)
	}

	// Close flushes the remainder.
	if err := buf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	res, err := buf.Search(ctx, &ErrorFilter{Fingerprint: "fp"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 7 {
		t.Errorf("total = %d, want 7", res.Total)
	}
}

func TestEventBuffer_RequeuesOnFailure(t *testing.T) {
	repo := newBatchRepo()
	repo.setFail(true)
	buf := NewEventBuffer(repo, EventBufferConfig{BatchSize: 100, FlushInterval: time.Hour})
	defer buf.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = buf.Store(ctx, newEvent("fp", time.Now(), models.LevelError))
	}
	if err := buf.Flush(ctx); err == nil {
		t.Fatal("Flush() should fail while the store is down")
	}
	if st := buf.Stats(); st.Pending != 4 {
		t.Errorf("pending = %d, want 4 after failed flush", st.Pending)
	}

	repo.setFail(false)
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if st := buf.Stats(); st.Pending != 0 || st.Inserted != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEventBuffer_DropsOldestWhenFull(t *testing.T) {
	repo := newBatchRepo()
	repo.setFail(true)
	buf := NewEventBuffer(repo, EventBufferConfig{BatchSize: 100, FlushInterval: time.Hour, MaxSize: 3})
	defer buf.Close()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		e := newEvent("fp", time.Now(), models.LevelError)
		ids = append(ids, e.ID)
		_ = buf.Store(ctx, e)
	}
	if st := buf.Stats(); st.Pending != 3 || st.Dropped != 2 {
		t.Fatalf("stats = %+v, want 3 pending and 2 dropped", st)
	}

	repo.setFail(false)
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	res, _ := repo.Search(ctx, &ErrorFilter{Fingerprint: "fp"})
	kept := map[string]bool{}
	for _, e := range res.Events {
		kept[e.ID] = true
	}
	if kept[ids[0]] || kept[ids[1]] || !kept[ids[4]] {
		t.Errorf("kept = %v, want the newest three", kept)
	}
}

func TestEventBuffer_StoreAfterCloseWritesThrough(t *testing.T) {
	repo := newBatchRepo()
	buf := NewEventBuffer(repo, EventBufferConfig{BatchSize: 100, FlushInterval: time.Hour})
	if err := buf.Close(); err != nil {
		t.Fatal(err)
	}
	if err := buf.Store(context.Background(), newEvent("late", time.Now(), models.LevelError)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	res, _ := repo.Search(context.Background(), &ErrorFilter{Fingerprint: "late"})
	if res.Total != 1 {
		t.Errorf("total = %d, want 1", res.Total)
	}
}

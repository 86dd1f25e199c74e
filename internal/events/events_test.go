package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
	"github.com/jj902/delayedjobs/internal/testutil"
)

type busMetrics struct {
	mu       sync.Mutex
	sizes    []int
	capacity int
	errors   int
}

func (m *busMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	m.sizes = append(m.sizes, size)
	m.mu.Unlock()
}

func (m *busMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	m.capacity = capacity
	m.mu.Unlock()
}

func (m *busMetrics) EmitError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(10)
	ctx := testutil.TestContext(t)

	for i := uint64(1); i <= 3; i++ {
		if err := bus.Emit(ctx, domain.Event{Type: domain.EventNewWinner, JobID: i}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	for want := uint64(1); want <= 3; want++ {
		ev := <-bus.Channel()
		if ev.JobID != want {
			t.Fatalf("received job %d, want %d", ev.JobID, want)
		}
	}
}

func TestBusEmitBlocksUntilCancelled(t *testing.T) {
	metrics := &busMetrics{}
	bus := NewBus(1, WithMetrics(metrics))
	ctx := testutil.TestContext(t)

	if err := bus.Emit(ctx, domain.Event{JobID: 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	// Buffer full: the next emit must give up when the context dies.
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := bus.Emit(shortCtx, domain.Event{JobID: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Emit error = %v, want deadline exceeded", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.capacity != 1 {
		t.Errorf("capacity = %d, want 1", metrics.capacity)
	}
	if metrics.errors != 1 {
		t.Errorf("emit errors = %d, want 1", metrics.errors)
	}
	if len(metrics.sizes) != 1 || metrics.sizes[0] != 1 {
		t.Errorf("size updates = %v, want [1]", metrics.sizes)
	}
}

func TestLogByJob(t *testing.T) {
	l := NewLog()
	ctx := testutil.TestContext(t)

	for i := 0; i < 5; i++ {
		jobID := uint64(1)
		if i%2 == 1 {
			jobID = 2
		}
		if err := l.Emit(ctx, domain.Event{Type: domain.EventNewWinner, JobID: jobID}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	if got := l.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
	if got := len(l.ByJob(1, 100, 0)); got != 3 {
		t.Errorf("job 1 events = %d, want 3", got)
	}
	if got := len(l.ByJob(2, 100, 0)); got != 2 {
		t.Errorf("job 2 events = %d, want 2", got)
	}
	if got := len(l.ByJob(1, 2, 0)); got != 2 {
		t.Errorf("limited page = %d events, want 2", got)
	}
	if got := len(l.ByJob(1, 2, 2)); got != 1 {
		t.Errorf("offset page = %d events, want 1", got)
	}
	if got := l.ByJob(3, 100, 0); got != nil {
		t.Errorf("unknown job events = %v, want nil", got)
	}
}

func TestLogStoresCopies(t *testing.T) {
	l := NewLog()
	ctx := testutil.TestContext(t)

	ev := domain.Event{Type: domain.EventWithdrawal, JobID: 1, Amount: testutil.Amount(100)}
	if err := l.Emit(ctx, ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	ev.Amount.SetInt64(0)

	got := l.ByJob(1, 1, 0)
	if len(got) != 1 || got[0].Amount.Cmp(testutil.Amount(100)) != 0 {
		t.Fatalf("stored event mutated: %v", got)
	}
}

type failingEmitter struct{ err error }

func (f *failingEmitter) Emit(ctx context.Context, event domain.Event) error { return f.err }

func TestMultiTriesEveryEmitter(t *testing.T) {
	l := NewLog()
	boom := errors.New("sink down")
	m := Multi{&failingEmitter{err: boom}, l}
	ctx := testutil.TestContext(t)

	err := m.Emit(ctx, domain.Event{JobID: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("Emit error = %v, want %v", err, boom)
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("later emitter skipped: Len() = %d, want 1", got)
	}
}

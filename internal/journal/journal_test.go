package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []domain.Event
	err      error
}

func (s *fakeStore) InsertEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, event)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type fakeAnalytics struct {
	mu       sync.Mutex
	recorded []domain.Event
}

func (a *fakeAnalytics) Record(ctx context.Context, event domain.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recorded = append(a.recorded, event)
}

type journalMetrics struct {
	mu     sync.Mutex
	incr   int
	decr   int
	errors int
}

func (m *journalMetrics) EventsInFlightIncr() { m.mu.Lock(); m.incr++; m.mu.Unlock() }
func (m *journalMetrics) EventsInFlightDecr() { m.mu.Lock(); m.decr++; m.mu.Unlock() }
func (m *journalMetrics) JournalWriteError()  { m.mu.Lock(); m.errors++; m.mu.Unlock() }

func TestRunProcessesEvents(t *testing.T) {
	store := &fakeStore{}
	analytics := &fakeAnalytics{}
	w := New().WithStore(store).WithAnalytics(analytics)

	ch := make(chan domain.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	ch <- domain.Event{Type: domain.EventJobCreated, JobID: 1}
	ch <- domain.Event{Type: domain.EventNewWinner, JobID: 1}

	waitFor(t, func() bool { return store.count() == 2 })
	cancel()
	<-done

	analytics.mu.Lock()
	defer analytics.mu.Unlock()
	if len(analytics.recorded) != 2 {
		t.Fatalf("analytics recorded %d events, want 2", len(analytics.recorded))
	}
}

func TestRunDrainsBufferedEventsOnShutdown(t *testing.T) {
	store := &fakeStore{}
	w := New().WithStore(store).WithDrainTimeout(time.Second)

	ch := make(chan domain.Event, 10)
	for i := uint64(1); i <= 5; i++ {
		ch <- domain.Event{Type: domain.EventJobCreated, JobID: i}
	}

	// Already-cancelled context: Run must still drain the buffer.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain")
	}
	if got := store.count(); got != 5 {
		t.Fatalf("drained %d events, want 5", got)
	}
}

func TestStoreErrorIsNonFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	metrics := &journalMetrics{}
	w := New().WithStore(store).WithMetrics(metrics)

	ch := make(chan domain.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	ch <- domain.Event{Type: domain.EventJobCreated, JobID: 1}
	ch <- domain.Event{Type: domain.EventJobExecuted, JobID: 1}

	waitFor(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return metrics.errors == 2 && metrics.decr == 2
	})
	cancel()
	<-done

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.incr != metrics.decr {
		t.Fatalf("in-flight gauge unbalanced: incr=%d decr=%d", metrics.incr, metrics.decr)
	}
}

func TestRunWithoutSinksDiscardsEvents(t *testing.T) {
	w := New()

	ch := make(chan domain.Event, 1)
	ch <- domain.Event{Type: domain.EventJobCreated, JobID: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

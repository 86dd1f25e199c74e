// Package journal consumes the event bus and fans events out to the durable
// sinks: the Postgres journal and the Redis analytics counters. The writer is
// deliberately single-consumer; the ledger itself never depends on it.
package journal

import (
	"context"
	"log"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
)

// DefaultDrainTimeout is the maximum time to wait for buffered events during
// shutdown.
const DefaultDrainTimeout = 30 * time.Second

type Store interface {
	InsertEvent(ctx context.Context, event domain.Event) error
}

// AnalyticsSink records per-job counters as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.Event)
}

// MetricsSink records writer metrics. Methods must be non-blocking.
type MetricsSink interface {
	EventsInFlightIncr()
	EventsInFlightDecr()
	JournalWriteError()
}

type Writer struct {
	store        Store         // optional, nil = disabled
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	drainTimeout time.Duration
}

func New() *Writer {
	return &Writer{drainTimeout: DefaultDrainTimeout}
}

// WithStore attaches the durable event store.
func (w *Writer) WithStore(store Store) *Writer {
	w.store = store
	return w
}

// WithAnalytics attaches the analytics sink.
func (w *Writer) WithAnalytics(sink AnalyticsSink) *Writer {
	w.analytics = sink
	return w
}

// WithMetrics attaches a metrics sink.
func (w *Writer) WithMetrics(sink MetricsSink) *Writer {
	w.metrics = sink
	return w
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (w *Writer) WithDrainTimeout(d time.Duration) *Writer {
	if d > 0 {
		w.drainTimeout = d
	}
	return w
}

// Run processes events from the channel until ctx is cancelled, then drains
// remaining buffered events with a timeout.
func (w *Writer) Run(ctx context.Context, ch <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			w.drain(ch)
			return
		case event := <-ch:
			w.process(ctx, event)
		}
	}
}

// drain processes events left in the channel buffer after the shutdown
// signal. Uses a fresh context since the main one is already cancelled.
func (w *Writer) drain(ch <-chan domain.Event) {
	drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("journal: drain timeout, processed %d events", count)
			return
		case event := <-ch:
			w.process(drainCtx, event)
			count++
		default:
			if count > 0 {
				log.Printf("journal: drain complete, processed %d events", count)
			}
			return
		}
	}
}

func (w *Writer) process(ctx context.Context, event domain.Event) {
	if w.metrics != nil {
		w.metrics.EventsInFlightIncr()
		defer w.metrics.EventsInFlightDecr()
	}

	if w.store != nil {
		if err := w.store.InsertEvent(ctx, event); err != nil {
			log.Printf("journal: insert failed type=%s job=%d: %v", event.Type, event.JobID, err)
			if w.metrics != nil {
				w.metrics.JournalWriteError()
			}
		}
	}

	if w.analytics != nil {
		w.analytics.Record(ctx, event)
	}
}

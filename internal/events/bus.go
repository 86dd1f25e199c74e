// Package events carries the ledger's observable event stream: a buffered
// bus feeding the journal writer and an in-memory append-only log backing the
// read API.
package events

import (
	"context"

	"github.com/jj902/delayedjobs/internal/domain"
)

// MetricsSink records bus metrics. Methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*Bus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Bus) {
		b.metrics = sink
	}
}

type Bus struct {
	ch      chan domain.Event
	metrics MetricsSink // optional, nil = disabled
}

func NewBus(buffer int, opts ...Option) *Bus {
	b := &Bus{ch: make(chan domain.Event, buffer)}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit blocks when the buffer is full until space frees up or ctx is done.
func (b *Bus) Emit(ctx context.Context, event domain.Event) error {
	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *Bus) Channel() <-chan domain.Event {
	return b.ch
}

package events

import (
	"context"
	"errors"

	"github.com/jj902/delayedjobs/internal/domain"
)

type Emitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// Multi fans an event out to every emitter in order. All emitters are tried
// even when an earlier one fails.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

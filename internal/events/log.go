package events

import (
	"context"
	"sync"

	"github.com/jj902/delayedjobs/internal/domain"
)

// Log is the in-memory append-only event log. Entries are kept for the
// process lifetime in emission order.
type Log struct {
	mu     sync.RWMutex
	events []domain.Event
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Emit(ctx context.Context, event domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event.Clone())
	return nil
}

// Len returns the number of events recorded so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// ByJob returns copies of the events for one job in emission order,
// paginated by limit and offset.
func (l *Log) ByJob(jobID uint64, limit, offset int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []domain.Event
	skipped := 0
	for _, e := range l.events {
		if e.JobID != jobID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(result) == limit {
			break
		}
		result = append(result, e.Clone())
	}
	return result
}

// Package analytics keeps hourly per-job counters in Redis: accepted bids
// and executions. Best-effort only; failures are logged and never propagate.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jj902/delayedjobs/internal/domain"
)

// DefaultRetention is how long counter keys live without configuration.
const DefaultRetention = 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

// Record increments the counter bucket matching the event, if any.
func (s *RedisSink) Record(ctx context.Context, event domain.Event) {
	var kind string
	switch event.Type {
	case domain.EventNewWinner:
		kind = "bids"
	case domain.EventJobExecuted:
		kind = "executions"
	default:
		return
	}

	key := buildKey(event.JobID, kind, event.OccurredAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline job=%d: %v", event.JobID, err)
	}
}

func buildKey(jobID uint64, kind string, t time.Time) string {
	return fmt.Sprintf("dj:j:%d:%s:%s", jobID, kind, t.UTC().Format("2006010215"))
}

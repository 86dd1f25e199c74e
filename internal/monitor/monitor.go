// Package monitor periodically publishes observability gauges from registry
// snapshots: jobs per lifecycle phase and total value held. It never mutates
// ledger state; window expiry is only a deadline comparison at call time.
package monitor

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
	"github.com/jj902/delayedjobs/internal/metrics"
)

type Registry interface {
	Snapshot() []domain.Job
}

type MetricsSink interface {
	JobsByPhaseUpdate(phase string, count int)
	ValueHeldUpdate(value float64)
}

type Config struct {
	Interval time.Duration
}

type Monitor struct {
	config   Config
	registry Registry
	metrics  MetricsSink
	clock    func() time.Time
}

func New(config Config, registry Registry, sink MetricsSink) *Monitor {
	return &Monitor{
		config:   config,
		registry: registry,
		metrics:  sink,
		clock:    time.Now,
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	log.Printf("monitor: started, interval=%s", m.config.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("monitor: stopped")
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := m.clock().UTC()
	jobs := m.registry.Snapshot()

	counts := map[string]int{
		metrics.PhaseBidding:    0,
		metrics.PhaseExecutable: 0,
		metrics.PhaseExpired:    0,
		metrics.PhaseExecuted:   0,
		metrics.PhaseCancelled:  0,
	}
	held := new(big.Int)

	for _, job := range jobs {
		counts[phase(job, now)]++
		if job.Held != nil {
			held.Add(held, job.Held)
		}
	}

	for p, count := range counts {
		m.metrics.JobsByPhaseUpdate(p, count)
	}

	value, _ := new(big.Float).SetInt(held).Float64()
	m.metrics.ValueHeldUpdate(value)
}

// phase maps a job to its current lifecycle phase. A pending job past its
// execution window counts as expired even though its status never changes
// on its own.
func phase(job domain.Job, now time.Time) string {
	switch job.Status {
	case domain.JobStatusExecuted:
		return metrics.PhaseExecuted
	case domain.JobStatusCancelled:
		return metrics.PhaseCancelled
	}
	if now.Before(job.BiddingEndsAt()) {
		return metrics.PhaseBidding
	}
	if now.Before(job.ExecutionEndsAt()) {
		return metrics.PhaseExecutable
	}
	return metrics.PhaseExpired
}

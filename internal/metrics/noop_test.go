package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Escrow metrics
	s.JobCreated()
	s.BidAccepted()
	s.BidRejected("not_improved")
	s.JobExecuted()
	s.JobWithdrawn()
	s.TransferFailed()
	s.InvocationCompleted(true, 100*time.Millisecond)
	s.InvocationCompleted(false, time.Second)

	// Event pipeline metrics
	s.BufferSizeUpdate(10)
	s.BufferCapacitySet(100)
	s.EmitError()
	s.EventsInFlightIncr()
	s.EventsInFlightDecr()
	s.JournalWriteError()

	// Monitor metrics
	s.JobsByPhaseUpdate(PhaseBidding, 2)
	s.ValueHeldUpdate(1.5)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)

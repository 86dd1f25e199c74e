package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobCreated()                                              {}
func (n *NoopSink) BidAccepted()                                             {}
func (n *NoopSink) BidRejected(reason string)                                {}
func (n *NoopSink) JobExecuted()                                             {}
func (n *NoopSink) JobWithdrawn()                                            {}
func (n *NoopSink) TransferFailed()                                          {}
func (n *NoopSink) InvocationCompleted(success bool, duration time.Duration) {}
func (n *NoopSink) BufferSizeUpdate(size int)                                {}
func (n *NoopSink) BufferCapacitySet(capacity int)                           {}
func (n *NoopSink) EmitError()                                               {}
func (n *NoopSink) EventsInFlightIncr()                                      {}
func (n *NoopSink) EventsInFlightDecr()                                      {}
func (n *NoopSink) JournalWriteError()                                       {}
func (n *NoopSink) JobsByPhaseUpdate(phase string, count int)                {}
func (n *NoopSink) ValueHeldUpdate(value float64)                            {}

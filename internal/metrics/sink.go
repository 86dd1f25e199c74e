package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Escrow metrics
	JobCreated()
	BidAccepted()
	BidRejected(reason string)
	JobExecuted()
	JobWithdrawn()
	TransferFailed()
	InvocationCompleted(success bool, duration time.Duration)

	// Event pipeline metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
	EventsInFlightIncr()
	EventsInFlightDecr()
	JournalWriteError()

	// Monitor metrics
	JobsByPhaseUpdate(phase string, count int)
	ValueHeldUpdate(value float64)
}

// Phase constants for JobsByPhaseUpdate. Pending jobs are split by which
// window is open; terminal states map straight through.
const (
	PhaseBidding    = "bidding"
	PhaseExecutable = "executable"
	PhaseExpired    = "expired"
	PhaseExecuted   = "executed"
	PhaseCancelled  = "cancelled"
)

// Bid rejection reason labels use bounded cardinality; see the ledger's
// reject classifier.

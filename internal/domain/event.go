package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventJobCreated     EventType = "job_created"
	EventNewWinner      EventType = "new_winner"
	EventJobExecuted    EventType = "job_executed"
	EventWithdrawal     EventType = "withdrawal"
	EventTransferFailed EventType = "transfer_failed"
)

// Event is one entry in the append-only observable log.
// Field meaning varies by type:
//   - job_created: Target, Signature, windows and Amount (maximum reward) are set
//   - new_winner: Account is the new winner, Amount the accepted bid
//   - job_executed: Account is the winner, Amount the payout
//   - withdrawal: Account is the creator, Amount the value paid out
//   - transfer_failed: Account is the intended recipient, Amount the value
type Event struct {
	ID    uuid.UUID
	Type  EventType
	JobID uint64

	Target          string
	Signature       string
	BiddingWindow   time.Duration
	ExecutionWindow time.Duration

	Account Address
	Amount  *big.Int

	OccurredAt time.Time
}

// Clone returns a copy that shares no big.Int storage with the original.
func (e Event) Clone() Event {
	c := e
	if e.Amount != nil {
		c.Amount = new(big.Int).Set(e.Amount)
	}
	return c
}

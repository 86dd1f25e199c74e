package domain

import (
	"math/big"
	"time"
)

// Address identifies an account that can hold and move funds.
type Address string

// NoAddress marks the absence of an account (e.g. a job with no bids yet).
const NoAddress Address = ""

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusExecuted  JobStatus = "executed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCancelled || s == JobStatusExecuted
}

// Job is a single auctioned execution right. The creator funds MaximumReward
// up front; bidders undercut each other by posting collateral covering the
// gap between their bid and the maximum, and the lowest bidder holds the
// exclusive right to execute during the execution window.
type Job struct {
	ID uint64

	Target              string
	InvocationSignature string
	Creator             Address

	BiddingWindow   time.Duration
	ExecutionWindow time.Duration

	// MaximumReward is fixed for the job's lifetime.
	MaximumReward *big.Int

	// WinningBidAmount starts at MaximumReward (no bid yet) and strictly
	// decreases with every accepted bid.
	WinningBidAmount *big.Int
	WinningBidder    Address

	// Held is the value the escrow currently holds for this job, including
	// funds stranded by failed outbound transfers.
	Held *big.Int

	Status JobStatus

	CreatedAt time.Time
}

// BiddingEndsAt is the instant the bidding window closes. Bids are accepted
// strictly before it; execution strictly after it.
func (j Job) BiddingEndsAt() time.Time {
	return j.CreatedAt.Add(j.BiddingWindow)
}

// ExecutionEndsAt is the instant the execution window closes.
func (j Job) ExecutionEndsAt() time.Time {
	return j.CreatedAt.Add(j.BiddingWindow + j.ExecutionWindow)
}

// Clone returns a copy that shares no big.Int storage with the original.
func (j Job) Clone() Job {
	c := j
	if j.MaximumReward != nil {
		c.MaximumReward = new(big.Int).Set(j.MaximumReward)
	}
	if j.WinningBidAmount != nil {
		c.WinningBidAmount = new(big.Int).Set(j.WinningBidAmount)
	}
	if j.Held != nil {
		c.Held = new(big.Int).Set(j.Held)
	}
	return c
}

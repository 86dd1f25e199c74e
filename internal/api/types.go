package api

import "time"

type CreateJobRequest struct {
	Target                 string `json:"target"`
	Signature              string `json:"signature"`
	BiddingWindowSeconds   int64  `json:"bidding_window_seconds"`
	ExecutionWindowSeconds int64  `json:"execution_window_seconds"`
	MaximumReward          string `json:"maximum_reward"`
	Deposit                string `json:"deposit"`
}

type CreateJobResponse struct {
	ID uint64 `json:"id"`
}

type BidRequest struct {
	Amount  string `json:"amount"`
	Deposit string `json:"deposit"`
}

type ExecuteRequest struct {
	Args string `json:"args,omitempty"` // base64
}

type DepositRequest struct {
	Amount string `json:"amount"`
}

type JobResponse struct {
	ID                     uint64 `json:"id"`
	Target                 string `json:"target"`
	Signature              string `json:"signature"`
	Creator                string `json:"creator"`
	BiddingWindowSeconds   int64  `json:"bidding_window_seconds"`
	ExecutionWindowSeconds int64  `json:"execution_window_seconds"`
	MaximumReward          string `json:"maximum_reward"`
	WinningBidAmount       string `json:"winning_bid_amount"`
	WinningBidder          string `json:"winning_bidder,omitempty"`
	Status                 string `json:"status"`
	CreatedAt              string `json:"created_at"`
	BiddingEndsAt          string `json:"bidding_ends_at"`
	ExecutionEndsAt        string `json:"execution_ends_at"`
}

type EventResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	JobID      uint64 `json:"job_id"`
	Target     string `json:"target,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Account    string `json:"account,omitempty"`
	Amount     string `json:"amount,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total uint64        `json:"total"`
}

type ListEventsResponse struct {
	Events []EventResponse `json:"events"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

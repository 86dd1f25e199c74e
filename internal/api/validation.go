package api

import (
	"fmt"
	"math/big"
)

func validateCreateJob(req CreateJobRequest) error {
	if req.Target == "" {
		return fmt.Errorf("target is required")
	}
	if req.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	if req.BiddingWindowSeconds <= 0 {
		return fmt.Errorf("bidding_window_seconds must be positive")
	}
	if req.ExecutionWindowSeconds <= 0 {
		return fmt.Errorf("execution_window_seconds must be positive")
	}
	if _, err := parseAmount(req.MaximumReward); err != nil {
		return fmt.Errorf("invalid maximum_reward: %w", err)
	}
	if _, err := parseAmount(req.Deposit); err != nil {
		return fmt.Errorf("invalid deposit: %w", err)
	}
	return nil
}

// parseAmount parses a non-negative base-10 integer amount.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	a, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if a.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return a, nil
}

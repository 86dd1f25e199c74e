// Package escrow implements the descending-price reverse-auction ledger for
// delayed job execution. A creator escrows a maximum reward; bidders undercut
// each other by posting collateral covering the gap between their bid and the
// maximum; the lowest bidder holds the exclusive right to execute the job
// during the execution window and collects the full pool on success. If the
// job is never executed, the creator can withdraw the current winning amount
// at any time.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jj902/delayedjobs/internal/domain"
)

var (
	ErrInvalidTarget     = errors.New("target is not invocable")
	ErrInvalidWindow     = errors.New("bidding and execution windows must be positive")
	ErrInvalidReward     = errors.New("maximum reward must be positive")
	ErrDepositMismatch   = errors.New("deposit must equal the maximum reward")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotPending     = errors.New("job is not pending")
	ErrBiddingClosed     = errors.New("bidding window has closed")
	ErrInvalidBidAmount  = errors.New("bid amount must be positive and at most the maximum reward")
	ErrInvalidCollateral = errors.New("deposit must equal maximum reward minus bid amount")
	ErrBidNotImproved    = errors.New("bid does not improve on the current winning amount")
	ErrStillBidding      = errors.New("bidding window has not closed")
	ErrExecutionExpired  = errors.New("execution window has closed")
	ErrNotWinner         = errors.New("caller is not the winning bidder")
	ErrInvocationFailed  = errors.New("job invocation failed")
	ErrAlreadyExecuted   = errors.New("job already executed")
	ErrNotCreator        = errors.New("caller is not the job creator")
	ErrNothingToWithdraw = errors.New("nothing left to withdraw")
	ErrInsufficientFunds = errors.New("caller cannot fund the deposit")
)

// Treasury moves value between caller accounts and the escrow pool.
// Debit pulls a deposit in; Credit pays a refund or reward out. Credit
// failures are tolerated by the ledger (see payOut); Debit failures reject
// the operation before any state changes.
type Treasury interface {
	Debit(ctx context.Context, from domain.Address, amount *big.Int) error
	Credit(ctx context.Context, to domain.Address, amount *big.Int) error
}

// JobInvoker executes an opaque target on the winner's behalf.
type JobInvoker interface {
	// CanInvoke reports whether target names a real invocable entity.
	CanInvoke(target string) bool
	Invoke(ctx context.Context, target, signature string, args []byte) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// MetricsSink records ledger metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	JobCreated()
	BidAccepted()
	BidRejected(reason string)
	JobExecuted()
	JobWithdrawn()
	TransferFailed()
	InvocationCompleted(success bool, duration time.Duration)
}

type Config struct {
	// LegacyTransferEvents reproduces the reporting of the original on-chain
	// contract, which emitted TransferFailed after a transfer succeeded and
	// stayed silent when it failed. Leave unset for correct reporting.
	LegacyTransferEvents bool
}

// Ledger is the auction/escrow state machine. Every job record lives in
// memory for the lifetime of the process; ids are assigned monotonically
// starting at 1 and never reused.
type Ledger struct {
	config   Config
	treasury Treasury
	invoker  JobInvoker
	emitter  EventEmitter
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time

	mu   sync.RWMutex
	jobs []*jobState // index = id-1
}

// jobState serializes all mutating operations against one job. The invoker
// call in ExecuteJob happens under this lock so that the terminal transition
// and the payout commit together.
type jobState struct {
	mu  sync.Mutex
	job domain.Job
}

func New(config Config, treasury Treasury, invoker JobInvoker, emitter EventEmitter) *Ledger {
	return &Ledger{
		config:   config,
		treasury: treasury,
		invoker:  invoker,
		emitter:  emitter,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the ledger.
func (l *Ledger) WithMetrics(sink MetricsSink) *Ledger {
	l.metrics = sink
	return l
}

// CreateJob escrows maxReward from caller and registers a new pending job.
// The deposit must equal maxReward exactly.
func (l *Ledger) CreateJob(ctx context.Context, caller domain.Address, target, signature string, biddingWindow, executionWindow time.Duration, maxReward, deposit *big.Int) (uint64, error) {
	if !l.invoker.CanInvoke(target) {
		return 0, ErrInvalidTarget
	}
	if biddingWindow <= 0 || executionWindow <= 0 {
		return 0, ErrInvalidWindow
	}
	if maxReward == nil || maxReward.Sign() <= 0 {
		return 0, ErrInvalidReward
	}
	if deposit == nil || deposit.Cmp(maxReward) != 0 {
		return 0, ErrDepositMismatch
	}

	if err := l.treasury.Debit(ctx, caller, maxReward); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	now := l.clock().UTC()
	job := domain.Job{
		Target:              target,
		InvocationSignature: signature,
		Creator:             caller,
		BiddingWindow:       biddingWindow,
		ExecutionWindow:     executionWindow,
		MaximumReward:       new(big.Int).Set(maxReward),
		WinningBidAmount:    new(big.Int).Set(maxReward),
		WinningBidder:       domain.NoAddress,
		Held:                new(big.Int).Set(maxReward),
		Status:              domain.JobStatusPending,
		CreatedAt:           now,
	}

	l.mu.Lock()
	job.ID = uint64(len(l.jobs)) + 1
	l.jobs = append(l.jobs, &jobState{job: job})
	l.mu.Unlock()

	l.emit(ctx, domain.Event{
		Type:            domain.EventJobCreated,
		JobID:           job.ID,
		Target:          target,
		Signature:       signature,
		BiddingWindow:   biddingWindow,
		ExecutionWindow: executionWindow,
		Amount:          new(big.Int).Set(maxReward),
	})
	if l.metrics != nil {
		l.metrics.JobCreated()
	}

	log.Printf("escrow: job created id=%d creator=%s target=%s reward=%s", job.ID, caller, target, maxReward)
	return job.ID, nil
}

// BidJob accepts a strictly lower bid for a pending job inside the bidding
// window. The deposit must equal maxReward-amount. On acceptance the previous
// winner's full collateral is returned and the creator receives the offset
// between the old and new winning amounts; both transfers are non-blocking.
func (l *Ledger) BidJob(ctx context.Context, caller domain.Address, id uint64, amount, deposit *big.Int) error {
	err := l.bidJob(ctx, caller, id, amount, deposit)
	if l.metrics != nil {
		if err != nil {
			l.metrics.BidRejected(rejectReason(err))
		} else {
			l.metrics.BidAccepted()
		}
	}
	return err
}

func (l *Ledger) bidJob(ctx context.Context, caller domain.Address, id uint64, amount, deposit *big.Int) error {
	state, err := l.state(id)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	job := &state.job

	if job.Status != domain.JobStatusPending {
		return ErrJobNotPending
	}
	if !l.clock().UTC().Before(job.BiddingEndsAt()) {
		return ErrBiddingClosed
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(job.MaximumReward) > 0 {
		return ErrInvalidBidAmount
	}
	collateral := new(big.Int).Sub(job.MaximumReward, amount)
	if deposit == nil || deposit.Cmp(collateral) != 0 {
		return ErrInvalidCollateral
	}
	if amount.Cmp(job.WinningBidAmount) >= 0 {
		return ErrBidNotImproved
	}

	if err := l.treasury.Debit(ctx, caller, collateral); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	job.Held.Add(job.Held, collateral)

	// Return the previous winner's full collateral, then the price
	// improvement to the creator. Only one refund obligation is ever
	// outstanding because the live winner is recomputed on every bid.
	prevRefund := new(big.Int).Sub(job.MaximumReward, job.WinningBidAmount)
	l.payOut(ctx, job, job.WinningBidder, prevRefund)

	offset := new(big.Int).Sub(job.WinningBidAmount, amount)
	l.payOut(ctx, job, job.Creator, offset)

	job.WinningBidder = caller
	job.WinningBidAmount.Set(amount)

	l.emit(ctx, domain.Event{
		Type:    domain.EventNewWinner,
		JobID:   job.ID,
		Account: caller,
		Amount:  new(big.Int).Set(amount),
	})

	log.Printf("escrow: new winner job=%d bidder=%s amount=%s", job.ID, caller, amount)
	return nil
}

// ExecuteJob invokes the job's target on behalf of the winning bidder. Only
// the winner may call it, strictly after the bidding window and strictly
// before the execution window closes. A failed invocation aborts the call
// with no state change; the winner may retry while the window is open. On
// success the job becomes executed and the full pool (reward plus the
// winner's own collateral) is paid to the winner.
func (l *Ledger) ExecuteJob(ctx context.Context, caller domain.Address, id uint64, args []byte) error {
	state, err := l.state(id)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	job := &state.job

	if job.Status != domain.JobStatusPending {
		return ErrJobNotPending
	}
	now := l.clock().UTC()
	if !now.After(job.BiddingEndsAt()) {
		return ErrStillBidding
	}
	if !now.Before(job.ExecutionEndsAt()) {
		return ErrExecutionExpired
	}
	if job.WinningBidder == domain.NoAddress || caller != job.WinningBidder {
		return ErrNotWinner
	}

	start := time.Now()
	invokeErr := l.invoker.Invoke(ctx, job.Target, job.InvocationSignature, args)
	if l.metrics != nil {
		l.metrics.InvocationCompleted(invokeErr == nil, time.Since(start))
	}
	if invokeErr != nil {
		log.Printf("escrow: invocation failed job=%d target=%s err=%v", job.ID, job.Target, invokeErr)
		return fmt.Errorf("%w: %v", ErrInvocationFailed, invokeErr)
	}

	job.Status = domain.JobStatusExecuted
	payout := new(big.Int).Set(job.MaximumReward)
	l.payOut(ctx, job, job.WinningBidder, payout)

	l.emit(ctx, domain.Event{
		Type:    domain.EventJobExecuted,
		JobID:   job.ID,
		Account: job.WinningBidder,
		Amount:  payout,
	})
	if l.metrics != nil {
		l.metrics.JobExecuted()
	}

	log.Printf("escrow: job executed id=%d winner=%s payout=%s", job.ID, job.WinningBidder, payout)
	return nil
}

// Withdraw is the creator's unconditional escape hatch: available before,
// during and after the windows as long as the job was not executed. It pays
// the current winning amount to the creator and cancels the job. The current
// winner's collateral is not refunded and stays held by the ledger.
func (l *Ledger) Withdraw(ctx context.Context, caller domain.Address, id uint64) error {
	state, err := l.state(id)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	job := &state.job

	if job.Status == domain.JobStatusExecuted {
		return ErrAlreadyExecuted
	}
	if caller != job.Creator {
		return ErrNotCreator
	}
	if job.WinningBidAmount.Sign() == 0 {
		return ErrNothingToWithdraw
	}

	amount := new(big.Int).Set(job.WinningBidAmount)
	l.payOut(ctx, job, job.Creator, amount)
	job.WinningBidAmount.SetInt64(0)
	job.Status = domain.JobStatusCancelled

	l.emit(ctx, domain.Event{
		Type:    domain.EventWithdrawal,
		JobID:   job.ID,
		Account: job.Creator,
		Amount:  amount,
	})
	if l.metrics != nil {
		l.metrics.JobWithdrawn()
	}

	log.Printf("escrow: withdrawn job=%d creator=%s amount=%s", job.ID, caller, amount)
	return nil
}

// GetJob returns a copy of the job record.
func (l *Ledger) GetJob(id uint64) (domain.Job, error) {
	state, err := l.state(id)
	if err != nil {
		return domain.Job{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.job.Clone(), nil
}

// JobCount returns the highest job id ever issued.
func (l *Ledger) JobCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.jobs))
}

// ListJobs returns job copies ordered by id, paginated by limit and offset.
func (l *Ledger) ListJobs(limit, offset int) []domain.Job {
	l.mu.RLock()
	states := l.jobs
	l.mu.RUnlock()

	if offset >= len(states) {
		return nil
	}
	end := offset + limit
	if end > len(states) {
		end = len(states)
	}

	result := make([]domain.Job, 0, end-offset)
	for _, state := range states[offset:end] {
		state.mu.Lock()
		result = append(result, state.job.Clone())
		state.mu.Unlock()
	}
	return result
}

// Snapshot returns copies of every job record, ordered by id.
func (l *Ledger) Snapshot() []domain.Job {
	l.mu.RLock()
	n := len(l.jobs)
	l.mu.RUnlock()
	return l.ListJobs(n, 0)
}

func (l *Ledger) state(id uint64) (*jobState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == 0 || id > uint64(len(l.jobs)) {
		return nil, ErrJobNotFound
	}
	return l.jobs[id-1], nil
}

// payOut credits amount to the recipient as a best-effort side effect. A
// failed transfer never aborts the surrounding operation: the value stays
// held by the ledger and the failure is logged, counted and (unless the
// legacy flag inverts it) evented. This keeps a hostile or broken recipient
// from blocking the auction.
func (l *Ledger) payOut(ctx context.Context, job *domain.Job, to domain.Address, amount *big.Int) {
	if to == domain.NoAddress || amount.Sign() == 0 {
		return
	}

	err := l.treasury.Credit(ctx, to, amount)
	failed := err != nil
	if failed {
		log.Printf("escrow: transfer failed job=%d to=%s amount=%s err=%v", job.ID, to, amount, err)
		if l.metrics != nil {
			l.metrics.TransferFailed()
		}
	} else {
		job.Held.Sub(job.Held, amount)
	}

	if failed != l.config.LegacyTransferEvents {
		l.emit(ctx, domain.Event{
			Type:    domain.EventTransferFailed,
			JobID:   job.ID,
			Account: to,
			Amount:  new(big.Int).Set(amount),
		})
	}
}

func (l *Ledger) emit(ctx context.Context, event domain.Event) {
	event.ID = uuid.New()
	event.OccurredAt = l.clock().UTC()
	if err := l.emitter.Emit(ctx, event); err != nil {
		log.Printf("escrow: emit error type=%s job=%d: %v", event.Type, event.JobID, err)
	}
}

// rejectReason maps a bid rejection to a bounded-cardinality metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, ErrJobNotPending):
		return "not_pending"
	case errors.Is(err, ErrBiddingClosed):
		return "bidding_closed"
	case errors.Is(err, ErrInvalidBidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidCollateral):
		return "invalid_collateral"
	case errors.Is(err, ErrBidNotImproved):
		return "not_improved"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "other"
	}
}

package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
	"github.com/jj902/delayedjobs/internal/escrow"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Escrow interface {
	CreateJob(ctx context.Context, caller domain.Address, target, signature string, biddingWindow, executionWindow time.Duration, maxReward, deposit *big.Int) (uint64, error)
	BidJob(ctx context.Context, caller domain.Address, id uint64, amount, deposit *big.Int) error
	ExecuteJob(ctx context.Context, caller domain.Address, id uint64, args []byte) error
	Withdraw(ctx context.Context, caller domain.Address, id uint64) error
	GetJob(id uint64) (domain.Job, error)
	ListJobs(limit, offset int) []domain.Job
	JobCount() uint64
}

type EventReader interface {
	ByJob(jobID uint64, limit, offset int) []domain.Event
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Faucet funds accounts. Demo/development surface; nil disables it.
type Faucet interface {
	Deposit(account domain.Address, amount *big.Int)
	Balance(account domain.Address) *big.Int
}

type Handler struct {
	ledger Escrow
	events EventReader
	db     HealthChecker // optional
	faucet Faucet        // optional
}

func NewHandler(ledger Escrow, events EventReader) *Handler {
	return &Handler{ledger: ledger, events: events}
}

// WithHealthChecker sets the database health checker for verbose /health
// responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithFaucet enables the account funding endpoints.
func (h *Handler) WithFaucet(f Faucet) *Handler {
	h.faucet = f
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "health" && r.Method == http.MethodGet:
		h.health(w, r)

	case len(parts) == 1 && parts[0] == "jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case len(parts) == 1 && parts[0] == "jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case len(parts) == 2 && parts[0] == "jobs" && r.Method == http.MethodGet:
		h.getJob(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "bids" && r.Method == http.MethodPost:
		h.bidJob(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "execute" && r.Method == http.MethodPost:
		h.executeJob(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "withdraw" && r.Method == http.MethodPost:
		h.withdraw(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "events" && r.Method == http.MethodGet:
		h.listEvents(w, r, parts[1])

	case len(parts) == 2 && parts[0] == "accounts" && r.Method == http.MethodGet:
		h.getBalance(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "accounts" && parts[2] == "deposit" && r.Method == http.MethodPost:
		h.fundAccount(w, r, parts[1])

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return
	}

	var req CreateJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateCreateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxReward, _ := parseAmount(req.MaximumReward)
	deposit, _ := parseAmount(req.Deposit)

	id, err := h.ledger.CreateJob(
		r.Context(),
		caller,
		req.Target,
		req.Signature,
		time.Duration(req.BiddingWindowSeconds)*time.Second,
		time.Duration(req.ExecutionWindowSeconds)*time.Second,
		maxReward,
		deposit,
	)
	if err != nil {
		writeEscrowError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateJobResponse{ID: id})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs := h.ledger.ListJobs(limit, offset)
	resp := ListJobsResponse{
		Jobs:  make([]JobResponse, len(jobs)),
		Total: h.ledger.JobCount(),
	}
	for i, job := range jobs {
		resp.Jobs[i] = jobResponse(job)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseJobID(w, rawID)
	if !ok {
		return
	}

	job, err := h.ledger.GetJob(id)
	if err != nil {
		writeEscrowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) bidJob(w http.ResponseWriter, r *http.Request, rawID string) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return
	}
	id, ok := parseJobID(w, rawID)
	if !ok {
		return
	}

	var req BidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	deposit, err := parseAmount(req.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deposit: "+err.Error())
		return
	}

	if err := h.ledger.BidJob(r.Context(), caller, id, amount, deposit); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) executeJob(w http.ResponseWriter, r *http.Request, rawID string) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return
	}
	id, ok := parseJobID(w, rawID)
	if !ok {
		return
	}

	var req ExecuteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	args, err := base64.StdEncoding.DecodeString(req.Args)
	if err != nil {
		writeError(w, http.StatusBadRequest, "args must be base64")
		return
	}

	if err := h.ledger.ExecuteJob(r.Context(), caller, id, args); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request, rawID string) {
	caller, ok := callerAccount(w, r)
	if !ok {
		return
	}
	id, ok := parseJobID(w, rawID)
	if !ok {
		return
	}

	if err := h.ledger.Withdraw(r.Context(), caller, id); err != nil {
		writeEscrowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseJobID(w, rawID)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := h.events.ByJob(id, limit, offset)
	resp := ListEventsResponse{Events: make([]EventResponse, len(events))}
	for i, e := range events {
		er := EventResponse{
			ID:         e.ID.String(),
			Type:       string(e.Type),
			JobID:      e.JobID,
			Target:     e.Target,
			Signature:  e.Signature,
			Account:    string(e.Account),
			OccurredAt: formatTime(e.OccurredAt),
		}
		if e.Amount != nil {
			er.Amount = e.Amount.String()
		}
		resp.Events[i] = er
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request, account string) {
	if h.faucet == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	balance := h.faucet.Balance(domain.Address(account))
	writeJSON(w, http.StatusOK, BalanceResponse{
		Account: account,
		Balance: balance.String(),
	})
}

func (h *Handler) fundAccount(w http.ResponseWriter, r *http.Request, account string) {
	if h.faucet == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}

	h.faucet.Deposit(domain.Address(account), amount)
	w.WriteHeader(http.StatusNoContent)
}

// callerAccount extracts the caller identity from the X-Account header.
func callerAccount(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	account := r.Header.Get("X-Account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "X-Account header is required")
		return domain.NoAddress, false
	}
	return domain.Address(account), true
}

func parseJobID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

// decodeBody decodes a size-limited JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func jobResponse(job domain.Job) JobResponse {
	return JobResponse{
		ID:                     job.ID,
		Target:                 job.Target,
		Signature:              job.InvocationSignature,
		Creator:                string(job.Creator),
		BiddingWindowSeconds:   int64(job.BiddingWindow / time.Second),
		ExecutionWindowSeconds: int64(job.ExecutionWindow / time.Second),
		MaximumReward:          job.MaximumReward.String(),
		WinningBidAmount:       job.WinningBidAmount.String(),
		WinningBidder:          string(job.WinningBidder),
		Status:                 string(job.Status),
		CreatedAt:              formatTime(job.CreatedAt),
		BiddingEndsAt:          formatTime(job.BiddingEndsAt()),
		ExecutionEndsAt:        formatTime(job.ExecutionEndsAt()),
	}
}

// writeEscrowError maps ledger sentinel errors to HTTP statuses.
func writeEscrowError(w http.ResponseWriter, err error) {
	writeError(w, escrowStatus(err), err.Error())
}

func escrowStatus(err error) int {
	switch {
	case errors.Is(err, escrow.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrNotWinner), errors.Is(err, escrow.ErrNotCreator):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrJobNotPending),
		errors.Is(err, escrow.ErrBiddingClosed),
		errors.Is(err, escrow.ErrBidNotImproved),
		errors.Is(err, escrow.ErrStillBidding),
		errors.Is(err, escrow.ErrExecutionExpired),
		errors.Is(err, escrow.ErrAlreadyExecuted),
		errors.Is(err, escrow.ErrNothingToWithdraw):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrInvocationFailed):
		return http.StatusBadGateway
	case errors.Is(err, escrow.ErrInvalidTarget),
		errors.Is(err, escrow.ErrInvalidWindow),
		errors.Is(err, escrow.ErrInvalidReward),
		errors.Is(err, escrow.ErrDepositMismatch),
		errors.Is(err, escrow.ErrInvalidBidAmount),
		errors.Is(err, escrow.ErrInvalidCollateral):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}

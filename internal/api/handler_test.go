package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
	"github.com/jj902/delayedjobs/internal/escrow"
	"github.com/jj902/delayedjobs/internal/testutil"
)

// fakeLedger records calls and returns scripted results.
type fakeLedger struct {
	createID  uint64
	createErr error
	bidErr    error
	execErr   error
	wdErr     error
	job       domain.Job
	jobErr    error
	jobs      []domain.Job
	count     uint64

	lastCaller domain.Address
	lastArgs   []byte
}

func (f *fakeLedger) CreateJob(ctx context.Context, caller domain.Address, target, signature string, biddingWindow, executionWindow time.Duration, maxReward, deposit *big.Int) (uint64, error) {
	f.lastCaller = caller
	return f.createID, f.createErr
}

func (f *fakeLedger) BidJob(ctx context.Context, caller domain.Address, id uint64, amount, deposit *big.Int) error {
	f.lastCaller = caller
	return f.bidErr
}

func (f *fakeLedger) ExecuteJob(ctx context.Context, caller domain.Address, id uint64, args []byte) error {
	f.lastCaller = caller
	f.lastArgs = args
	return f.execErr
}

func (f *fakeLedger) Withdraw(ctx context.Context, caller domain.Address, id uint64) error {
	f.lastCaller = caller
	return f.wdErr
}

func (f *fakeLedger) GetJob(id uint64) (domain.Job, error) { return f.job, f.jobErr }
func (f *fakeLedger) ListJobs(limit, offset int) []domain.Job {
	if offset >= len(f.jobs) {
		return nil
	}
	end := offset + limit
	if end > len(f.jobs) {
		end = len(f.jobs)
	}
	return f.jobs[offset:end]
}
func (f *fakeLedger) JobCount() uint64 { return f.count }

type fakeEvents struct {
	events []domain.Event
}

func (f *fakeEvents) ByJob(jobID uint64, limit, offset int) []domain.Event {
	var out []domain.Event
	for _, e := range f.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

type fakeFaucet struct {
	balances map[domain.Address]*big.Int
}

func (f *fakeFaucet) Deposit(account domain.Address, amount *big.Int) {
	if f.balances == nil {
		f.balances = make(map[domain.Address]*big.Int)
	}
	f.balances[account] = new(big.Int).Set(amount)
}

func (f *fakeFaucet) Balance(account domain.Address) *big.Int {
	if bal, ok := f.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func sampleJob() domain.Job {
	return domain.Job{
		ID:                  1,
		Target:              "https://worker.example/run",
		InvocationSignature: "process(uint256)",
		Creator:             "creator",
		BiddingWindow:       10 * time.Minute,
		ExecutionWindow:     10 * time.Minute,
		MaximumReward:       testutil.Amount(100),
		WinningBidAmount:    testutil.Amount(90),
		WinningBidder:       "bidder-a",
		Held:                testutil.Amount(100),
		Status:              domain.JobStatusPending,
		CreatedAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func doRequest(h http.Handler, method, path, account, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob(t *testing.T) {
	ledger := &fakeLedger{createID: 7}
	h := NewHandler(ledger, &fakeEvents{})

	body := `{"target":"https://worker.example/run","signature":"process(uint256)",
		"bidding_window_seconds":600,"execution_window_seconds":600,
		"maximum_reward":"100","deposit":"100"}`
	rec := doRequest(h, http.MethodPost, "/jobs", "creator", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body)
	}
	var resp CreateJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != 7 {
		t.Errorf("id = %d, want 7", resp.ID)
	}
	if ledger.lastCaller != "creator" {
		t.Errorf("caller = %s, want creator", ledger.lastCaller)
	}
}

func TestCreateJobRequiresAccountHeader(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	rec := doRequest(h, http.MethodPost, "/jobs", "", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJobValidatesBody(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing target", `{"signature":"s","bidding_window_seconds":1,"execution_window_seconds":1,"maximum_reward":"1","deposit":"1"}`},
		{"zero window", `{"target":"t","signature":"s","bidding_window_seconds":0,"execution_window_seconds":1,"maximum_reward":"1","deposit":"1"}`},
		{"negative reward", `{"target":"t","signature":"s","bidding_window_seconds":1,"execution_window_seconds":1,"maximum_reward":"-5","deposit":"1"}`},
		{"non-numeric deposit", `{"target":"t","signature":"s","bidding_window_seconds":1,"execution_window_seconds":1,"maximum_reward":"1","deposit":"abc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/jobs", "creator", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body)
			}
		})
	}
}

func TestEscrowErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{escrow.ErrJobNotFound, http.StatusNotFound},
		{escrow.ErrNotWinner, http.StatusForbidden},
		{escrow.ErrNotCreator, http.StatusForbidden},
		{escrow.ErrJobNotPending, http.StatusConflict},
		{escrow.ErrBiddingClosed, http.StatusConflict},
		{escrow.ErrBidNotImproved, http.StatusConflict},
		{escrow.ErrStillBidding, http.StatusConflict},
		{escrow.ErrExecutionExpired, http.StatusConflict},
		{escrow.ErrAlreadyExecuted, http.StatusConflict},
		{escrow.ErrNothingToWithdraw, http.StatusConflict},
		{escrow.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{escrow.ErrInvocationFailed, http.StatusBadGateway},
		{escrow.ErrInvalidCollateral, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ledger := &fakeLedger{bidErr: tt.err}
			h := NewHandler(ledger, &fakeEvents{})

			rec := doRequest(h, http.MethodPost, "/jobs/1/bids", "bidder", `{"amount":"90","deposit":"10"}`)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestBidJob(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewHandler(ledger, &fakeEvents{})

	rec := doRequest(h, http.MethodPost, "/jobs/1/bids", "bidder", `{"amount":"90","deposit":"10"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (%s)", rec.Code, rec.Body)
	}
	if ledger.lastCaller != "bidder" {
		t.Errorf("caller = %s, want bidder", ledger.lastCaller)
	}
}

func TestExecuteJobDecodesArgs(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewHandler(ledger, &fakeEvents{})

	rec := doRequest(h, http.MethodPost, "/jobs/1/execute", "bidder", `{"args":"cGF5bG9hZA=="}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (%s)", rec.Code, rec.Body)
	}
	if string(ledger.lastArgs) != "payload" {
		t.Errorf("args = %q, want payload", ledger.lastArgs)
	}

	rec = doRequest(h, http.MethodPost, "/jobs/1/execute", "bidder", `{"args":"!!!"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad base64 status = %d, want 400", rec.Code)
	}
}

func TestWithdraw(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewHandler(ledger, &fakeEvents{})

	rec := doRequest(h, http.MethodPost, "/jobs/1/withdraw", "creator", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (%s)", rec.Code, rec.Body)
	}
}

func TestGetJob(t *testing.T) {
	ledger := &fakeLedger{job: sampleJob()}
	h := NewHandler(ledger, &fakeEvents{})

	rec := doRequest(h, http.MethodGet, "/jobs/1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != 1 || resp.MaximumReward != "100" || resp.WinningBidAmount != "90" {
		t.Errorf("response = %+v", resp)
	}
	if resp.BiddingWindowSeconds != 600 || resp.ExecutionWindowSeconds != 600 {
		t.Errorf("windows = %d/%d, want 600/600", resp.BiddingWindowSeconds, resp.ExecutionWindowSeconds)
	}
	if resp.BiddingEndsAt != "2025-06-01T12:10:00Z" {
		t.Errorf("bidding ends at = %s", resp.BiddingEndsAt)
	}
}

func TestGetJobInvalidID(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	for _, raw := range []string{"0", "abc", "-1"} {
		rec := doRequest(h, http.MethodGet, "/jobs/"+raw, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("id %q status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestListJobs(t *testing.T) {
	ledger := &fakeLedger{jobs: []domain.Job{sampleJob()}, count: 9}
	h := NewHandler(ledger, &fakeEvents{})

	rec := doRequest(h, http.MethodGet, "/jobs", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListJobsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Total != 9 {
		t.Errorf("jobs = %d total = %d, want 1/9", len(resp.Jobs), resp.Total)
	}
}

func TestListJobsPaginationValidation(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	for _, query := range []string{"?limit=-1", "?limit=abc", "?limit=1001", "?offset=-5"} {
		rec := doRequest(h, http.MethodGet, "/jobs"+query, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", query, rec.Code)
		}
	}
}

func TestListEvents(t *testing.T) {
	ev := &fakeEvents{events: []domain.Event{
		{Type: domain.EventJobCreated, JobID: 1, Amount: testutil.Amount(100)},
		{Type: domain.EventNewWinner, JobID: 1, Account: "bidder-a", Amount: testutil.Amount(90)},
		{Type: domain.EventJobCreated, JobID: 2},
	}}
	h := NewHandler(&fakeLedger{}, ev)

	rec := doRequest(h, http.MethodGet, "/jobs/1/events", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListEventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	if resp.Events[1].Type != string(domain.EventNewWinner) || resp.Events[1].Amount != "90" {
		t.Errorf("event = %+v", resp.Events[1])
	}
}

func TestHealth(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	rec := doRequest(h, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

type failingDB struct{}

func (failingDB) PingContext(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthVerboseDegraded(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{}).WithHealthChecker(failingDB{})

	rec := doRequest(h, http.MethodGet, "/health?verbose=true", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}

func TestFaucetEndpoints(t *testing.T) {
	faucet := &fakeFaucet{}
	h := NewHandler(&fakeLedger{}, &fakeEvents{}).WithFaucet(faucet)

	rec := doRequest(h, http.MethodPost, "/accounts/alice/deposit", "", `{"amount":"500"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deposit status = %d, want 204 (%s)", rec.Code, rec.Body)
	}

	rec = doRequest(h, http.MethodGet, "/accounts/alice", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, want 200", rec.Code)
	}
	var resp BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Balance != "500" {
		t.Errorf("balance = %s, want 500", resp.Balance)
	}
}

func TestFaucetDisabled(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	rec := doRequest(h, http.MethodGet, "/accounts/alice", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewHandler(&fakeLedger{}, &fakeEvents{})

	rec := doRequest(h, http.MethodDelete, "/jobs/1", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

package invoker

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jj902/delayedjobs/internal/circuitbreaker"
	"github.com/jj902/delayedjobs/internal/testutil"
)

func TestCanInvoke(t *testing.T) {
	inv := NewHTTPInvoker("secret", time.Second)

	tests := []struct {
		target string
		want   bool
	}{
		{"https://worker.example/run", true},
		{"http://localhost:8081/run", true},
		{"ftp://worker.example/run", false},
		{"worker.example/run", false},
		{"https://", false},
		{"", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := inv.CanInvoke(tt.target); got != tt.want {
			t.Errorf("CanInvoke(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestInvokeSignsAndPosts(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
		gotAttemptID string
		gotMethod    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-DelayedJobs-Signature")
		gotAttemptID = r.Header.Get("X-DelayedJobs-Attempt-ID")
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker("secret", time.Second)
	ctx := testutil.TestContext(t)

	if err := inv.Invoke(ctx, srv.URL, "process(uint256)", []byte("payload")); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if !VerifySignature("secret", gotBody, gotSignature) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong", gotBody, gotSignature) {
		t.Error("signature verifies under the wrong secret")
	}

	var payload InvocationPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Signature != "process(uint256)" {
		t.Errorf("payload signature = %q", payload.Signature)
	}
	args, err := base64.StdEncoding.DecodeString(payload.Args)
	if err != nil || string(args) != "payload" {
		t.Errorf("payload args = %q (%v), want payload", payload.Args, err)
	}
	if payload.AttemptID == "" || payload.AttemptID != gotAttemptID {
		t.Errorf("attempt id mismatch: body=%q header=%q", payload.AttemptID, gotAttemptID)
	}
}

func TestInvokeNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker("secret", time.Second)
	ctx := testutil.TestContext(t)

	err := inv.Invoke(ctx, srv.URL, "sig", nil)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("Invoke error = %v, want status 500 failure", err)
	}
}

func TestInvokeBreakerOpensAfterFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker("secret", time.Second).
		WithBreaker(circuitbreaker.New(2, time.Minute))
	ctx := testutil.TestContext(t)

	for i := 0; i < 2; i++ {
		if err := inv.Invoke(ctx, srv.URL, "sig", nil); err == nil {
			t.Fatalf("invocation %d unexpectedly succeeded", i)
		}
	}

	// Third attempt is rejected without reaching the target.
	err := inv.Invoke(ctx, srv.URL, "sig", nil)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("error = %v, want %v", err, circuitbreaker.ErrCircuitOpen)
	}
	if hits != 2 {
		t.Fatalf("target hit %d times, want 2", hits)
	}
}

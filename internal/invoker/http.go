package invoker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Breaker gates invocations per target. *circuitbreaker.CircuitBreaker
// satisfies it.
type Breaker interface {
	Allow(target string) error
	RecordSuccess(target string)
	RecordFailure(target string)
}

// InvocationPayload is the body posted to the target.
type InvocationPayload struct {
	Signature string `json:"signature"`
	Args      string `json:"args"` // base64
	AttemptID string `json:"attempt_id"`
}

// HTTPInvoker executes jobs by POSTing an HMAC-signed payload to the target
// URL. A target is invocable when it is a well-formed http(s) URL; any
// non-2xx response or transport error is an invocation failure.
type HTTPInvoker struct {
	client  *http.Client
	secret  string
	timeout time.Duration
	breaker Breaker // optional, nil = disabled
}

func NewHTTPInvoker(secret string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		client:  &http.Client{},
		secret:  secret,
		timeout: timeout,
	}
}

// WithBreaker attaches a per-target circuit breaker.
func (s *HTTPInvoker) WithBreaker(b Breaker) *HTTPInvoker {
	s.breaker = b
	return s
}

func (s *HTTPInvoker) CanInvoke(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Invoke posts the invocation to the target.
// Headers: X-DelayedJobs-Attempt-ID, X-DelayedJobs-Signature (HMAC-SHA256 of
// the body with the shared secret).
func (s *HTTPInvoker) Invoke(ctx context.Context, target, signature string, args []byte) error {
	if s.breaker != nil {
		if err := s.breaker.Allow(target); err != nil {
			return err
		}
	}

	err := s.invoke(ctx, target, signature, args)
	if s.breaker != nil {
		if err != nil {
			s.breaker.RecordFailure(target)
		} else {
			s.breaker.RecordSuccess(target)
		}
	}
	return err
}

func (s *HTTPInvoker) invoke(ctx context.Context, target, signature string, args []byte) error {
	attemptID := uuid.New().String()

	body, err := json.Marshal(InvocationPayload{
		Signature: signature,
		Args:      base64.StdEncoding.EncodeToString(args),
		AttemptID: attemptID,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-DelayedJobs-Attempt-ID", attemptID)
	httpReq.Header.Set("X-DelayedJobs-Signature", ComputeSignature(s.secret, body))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return nil
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for targets to verify incoming invocations.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Command job-receiver is a standalone invocation target for local testing.
// It verifies the HMAC signature on incoming invocation requests and keeps
// simple in-memory stats. Set FAIL=true to make it answer 500, which is
// handy for exercising retry and circuit-breaker behavior.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type invocation struct {
	Timestamp string `json:"timestamp"`
	AttemptID string `json:"attempt_id"`
	Signature string `json:"signature"`
	Verified  bool   `json:"verified"`
	Body      string `json:"body"`
}

type stats struct {
	Count           int64        `json:"count"`
	LastInvocations []invocation `json:"last_invocations"`
	Since           string       `json:"since"`
}

var (
	mu              sync.Mutex
	count           int64
	lastInvocations []invocation
	since           time.Time
	maxStored       = 50

	secret string
	fail   bool
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")
	fail = os.Getenv("FAIL") == "true"

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/run", runHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastInvocations = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("job-receiver listening on %s (fail=%v)", addr, fail)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func runHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	sig := r.Header.Get("X-DelayedJobs-Signature")
	verified := verify(body, sig)

	inv := invocation{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		AttemptID: r.Header.Get("X-DelayedJobs-Attempt-ID"),
		Signature: sig,
		Verified:  verified,
		Body:      string(body),
	}

	mu.Lock()
	count++
	lastInvocations = append(lastInvocations, inv)
	if len(lastInvocations) > maxStored {
		lastInvocations = lastInvocations[len(lastInvocations)-maxStored:]
	}
	current := count
	mu.Unlock()

	if secret != "" && !verified {
		log.Printf("invocation #%d rejected: bad signature", current)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"bad signature"}`)
		return
	}

	if fail {
		log.Printf("invocation #%d failing on purpose", current)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"induced failure"}`)
		return
	}

	log.Printf("invocation #%d: %s", current, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func verify(body []byte, sig string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:           count,
		LastInvocations: lastInvocations,
		Since:           since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

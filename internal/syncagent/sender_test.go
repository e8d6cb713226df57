package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/offlinesync/internal/records"
)

func sampleRecord() records.Record {
	return records.Record{
		ID:          7,
		StudentName: "Ana",
		Activity:    "Lab",
		Date:        "2024-01-15",
		Hours:       2,
		CreatedAt:   time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestHTTPSenderPostsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "activity-7-1705311000000000000" {
			t.Errorf("unexpected idempotency key %q", got)
		}
		if !strings.HasPrefix(r.Header.Get("X-Correlation-Id"), "sync_") {
			t.Errorf("expected correlation id, got %q", r.Header.Get("X-Correlation-Id"))
		}
		var env records.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if env.Type != "activity-sync" || env.Data.StudentName != "Ana" || env.Data.ID != 7 {
			t.Errorf("unexpected envelope %+v", env)
		}
		if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
			t.Errorf("timestamp is not ISO-8601: %q", env.Timestamp)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL, server.Client())
	if err := sender.Send(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestHTTPSenderRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL, server.Client()).WithRetries(2, time.Millisecond, 5*time.Millisecond)
	if err := sender.Send(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", got)
	}
}

func TestHTTPSenderDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid","message":"bad record"}`))
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL, server.Client()).WithRetries(2, time.Millisecond, 5*time.Millisecond)
	err := sender.Send(context.Background(), sampleRecord())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest || httpErr.Code != "invalid" {
		t.Fatalf("unexpected http error %+v", httpErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestHTTPSenderRejectsUnpersistedRecord(t *testing.T) {
	sender := NewHTTPSender("http://127.0.0.1:1/never", nil)
	rec := sampleRecord()
	rec.ID = 0
	if err := sender.Send(context.Background(), rec); !errors.Is(err, records.ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	sender := NewHTTPSender("http://example", nil).WithRetries(3, 100*time.Millisecond, time.Second)
	if got := sender.retryDelay(1, ""); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %s", got)
	}
	if got := sender.retryDelay(3, ""); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %s", got)
	}
	if got := sender.retryDelay(10, ""); got != time.Second {
		t.Fatalf("expected cap at 1s, got %s", got)
	}
	if got := sender.retryDelay(1, "30"); got != time.Second {
		t.Fatalf("expected Retry-After capped at 1s, got %s", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("2"); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0 for garbage, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0 for empty, got %s", got)
	}
}

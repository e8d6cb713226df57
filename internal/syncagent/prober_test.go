package syncagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProberSendsUncachedHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		if got := r.Header.Get("Cache-Control"); got != "no-cache" {
			t.Errorf("expected no-cache, got %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if !NewHTTPProber(server.URL, server.Client(), time.Second).Reachable(context.Background()) {
		t.Fatalf("expected endpoint to be reachable")
	}
}

func TestHTTPProberTreatsAnyResponseAsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if !NewHTTPProber(server.URL, server.Client(), time.Second).Reachable(context.Background()) {
		t.Fatalf("a 404 still proves connectivity")
	}
}

func TestHTTPProberUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if NewHTTPProber(url, nil, time.Second).Reachable(context.Background()) {
		t.Fatalf("expected closed server to be unreachable")
	}
}

func TestHTTPProberTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	if NewHTTPProber(server.URL, server.Client(), 50*time.Millisecond).Reachable(context.Background()) {
		t.Fatalf("expected a hanging endpoint to count as unreachable")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe did not honor its timeout, took %s", elapsed)
	}
}

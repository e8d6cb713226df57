// Package cachetier stores HTTP response snapshots in named caches and manages
// the three versioned cache tiers (shell, static, dynamic) on top of them.
package cachetier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Snapshot is a fully buffered response, independent of the connection it was
// read from.
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Cache maps request keys to snapshots.
type Cache interface {
	Match(ctx context.Context, key string) (Snapshot, bool, error)
	Put(ctx context.Context, key string, snap Snapshot) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the set of named caches. Open creates a cache that does not exist
// yet.
type Storage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// RequestKey is the identity of a request inside a cache.
func RequestKey(method, rawURL string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + rawURL
}

// KeyFor returns the cache key for req.
func KeyFor(req *http.Request) string {
	return RequestKey(req.Method, req.URL.String())
}

// ReadSnapshot buffers resp and closes its body.
func ReadSnapshot(resp *http.Response, now time.Time) (Snapshot, error) {
	if resp == nil {
		return Snapshot{}, ErrInvalidInput
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read response body: %w", err)
	}
	return Snapshot{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now.UTC(),
	}, nil
}

// Response materializes the snapshot as a fresh response for req. Each call
// returns an independent body.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

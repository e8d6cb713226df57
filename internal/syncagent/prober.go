package syncagent

import (
	"context"
	"io"
	"net/http"
	"time"
)

const DefaultProbeTimeout = 5 * time.Second

// Prober answers whether the remote side is reachable right now.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// HTTPProber sends a bodiless HEAD that bypasses caches. Any response counts as
// reachable; transport errors and timeouts count as unreachable.
type HTTPProber struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPProber(endpoint string, client *http.Client, timeout time.Duration) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{endpoint: endpoint, client: client, timeout: timeout}
}

func (p *HTTPProber) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}

// Package intercept decides, for every request leaving the application, whether
// it is answered from a cache tier, from the network, or from a synthesized
// offline response.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/offlinesync/internal/bridge"
	"github.com/agentworkforce/offlinesync/internal/cachetier"
)

// ErrDeclined means no strategy claims the request and it should take the
// default network path.
var ErrDeclined = errors.New("request not intercepted")

const (
	DefaultImageMaxBytes   = 500000
	DefaultOfflinePagePath = "/offline.html"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// Origin is the application origin. Relative requests are resolved
	// against it and navigation fallbacks only apply to it.
	Origin *url.URL
	Rules  Rules
	// ShellAssets are precached on install. Defaults to Rules.ShellPaths.
	ShellAssets     []string
	Tiers           *cachetier.Manager
	Transport       http.RoundTripper
	FetchTimeout    time.Duration
	ImageMaxBytes   int64
	OfflinePagePath string
	IndexPaths      []string
	// Online gates background image revalidation. Nil means always online.
	Online  func() bool
	Metrics *bridge.Metrics
	Logger  Logger
	Now     func() time.Time
}

type Interceptor struct {
	rules        Rules
	shellAssets  []string
	tiers        *cachetier.Manager
	transport    http.RoundTripper
	fetchTimeout time.Duration
	metrics      *bridge.Metrics
	logger       Logger
	now          func() time.Time
	origin       *url.URL
	offlinePage  string
	tasks        sync.WaitGroup
	env          strategyEnv
}

func New(opts Options) (*Interceptor, error) {
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, fmt.Errorf("interceptor origin must be an absolute url")
	}
	if opts.Tiers == nil {
		return nil, fmt.Errorf("interceptor requires cache tiers")
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.ImageMaxBytes <= 0 {
		opts.ImageMaxBytes = DefaultImageMaxBytes
	}
	if strings.TrimSpace(opts.OfflinePagePath) == "" {
		opts.OfflinePagePath = DefaultOfflinePagePath
	}
	if len(opts.IndexPaths) == 0 {
		opts.IndexPaths = []string{"/", "/index.html"}
	}
	if len(opts.ShellAssets) == 0 {
		opts.ShellAssets = opts.Rules.ShellPaths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	origin := *opts.Origin
	origin.Path, origin.RawQuery, origin.Fragment = "", "", ""

	i := &Interceptor{
		rules:        opts.Rules,
		shellAssets:  append([]string(nil), opts.ShellAssets...),
		tiers:        opts.Tiers,
		transport:    opts.Transport,
		fetchTimeout: opts.FetchTimeout,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Now,
		origin:       &origin,
		offlinePage:  opts.OfflinePagePath,
	}
	i.env = strategyEnv{
		tiers:         opts.Tiers,
		fetch:         i.network,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		now:           opts.Now,
		online:        opts.Online,
		imageMaxBytes: opts.ImageMaxBytes,
		tasks:         &i.tasks,
		origin:        &origin,
		offlinePage:   opts.OfflinePagePath,
		indexPaths:    append([]string(nil), opts.IndexPaths...),
	}
	return i, nil
}

// Fetch applies the strategy for req's category. Unmatched requests return
// ErrDeclined.
func (i *Interceptor) Fetch(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	switch Classify(RequestFromHTTP(req), i.rules) {
	case AppShell:
		if req.Method != http.MethodGet {
			return i.network(req)
		}
		return cacheFirst(ctx, i.env, cachetier.Shell, req)
	case StaticAsset:
		return cacheFirst(ctx, i.env, cachetier.Static, req)
	case API:
		return networkFirst(ctx, i.env, req)
	case Image:
		return imageCacheFirst(ctx, i.env, req)
	case Navigation:
		return navigate(ctx, i.env, req)
	default:
		return nil, ErrDeclined
	}
}

// RoundTrip lets Go HTTP clients use the cache tiers directly.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := i.Fetch(req)
	if errors.Is(err, ErrDeclined) {
		return i.network(req)
	}
	return resp, err
}

// network performs the real request. With a fetch timeout the whole body is
// read within the deadline.
func (i *Interceptor) network(req *http.Request) (*http.Response, error) {
	i.metrics.NetworkFetch()
	if i.fetchTimeout <= 0 {
		resp, err := i.transport.RoundTrip(req)
		if err != nil {
			i.metrics.NetworkFailure()
		}
		return resp, err
	}
	ctx, cancel := context.WithTimeout(req.Context(), i.fetchTimeout)
	defer cancel()
	resp, err := i.transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		i.metrics.NetworkFailure()
		return nil, err
	}
	snap, err := cachetier.ReadSnapshot(resp, i.now())
	if err != nil {
		i.metrics.NetworkFailure()
		return nil, err
	}
	return snap.Response(req), nil
}

// Install precaches the shell assets into the current shell tier. Any asset
// that cannot be fetched fails the whole install and nothing is stored.
func (i *Interceptor) Install(ctx context.Context) error {
	return i.InstallInto(ctx, i.tiers.Names())
}

// InstallInto precaches the shell assets into the shell cache of names without
// making that generation current. Requests keep being served from the current
// generation until the caller switches to names.
func (i *Interceptor) InstallInto(ctx context.Context, names cachetier.Names) error {
	type entry struct {
		key  string
		snap cachetier.Snapshot
	}
	entries := make([]entry, 0, len(i.shellAssets))
	for _, p := range i.shellAssets {
		target := resolve(i.origin, p)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		resp, err := i.network(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		if !isOK(resp.StatusCode) {
			discard(resp)
			return fmt.Errorf("precache %s: unexpected status %d", p, resp.StatusCode)
		}
		snap, err := cachetier.ReadSnapshot(resp, i.now())
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		entries = append(entries, entry{key: cachetier.RequestKey(http.MethodGet, target), snap: snap})
	}
	cache, err := i.tiers.Storage().Open(ctx, names.Shell)
	if err != nil {
		return fmt.Errorf("open shell tier %s: %w", names.Shell, err)
	}
	for _, e := range entries {
		if err := cache.Put(ctx, e.key, e.snap); err != nil {
			return fmt.Errorf("store %s: %w", e.key, err)
		}
	}
	i.logf("precached %d shell assets into %s", len(entries), names.Shell)
	return nil
}

// EnsureOfflinePage stores the offline page in the shell tier unless it is
// already there.
func (i *Interceptor) EnsureOfflinePage(ctx context.Context) error {
	target := i.OfflinePageURL()
	key := cachetier.RequestKey(http.MethodGet, target)
	if _, ok, err := i.tiers.Match(ctx, cachetier.Shell, key); err == nil && ok {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := i.network(req)
	if err != nil {
		return fmt.Errorf("fetch offline page: %w", err)
	}
	if !isOK(resp.StatusCode) {
		discard(resp)
		return fmt.Errorf("fetch offline page: unexpected status %d", resp.StatusCode)
	}
	snap, err := cachetier.ReadSnapshot(resp, i.now())
	if err != nil {
		return err
	}
	return i.tiers.Put(ctx, cachetier.Shell, key, snap)
}

func (i *Interceptor) OfflinePageURL() string {
	return resolve(i.origin, i.offlinePage)
}

// Wait blocks until detached background work such as image revalidation has
// finished.
func (i *Interceptor) Wait() {
	i.tasks.Wait()
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP proxies the application through the interceptor.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := i.outbound(r)
	resp, err := i.RoundTrip(out)
	if err != nil {
		i.logf("proxy %s %s failed: %v", r.Method, out.URL, err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		i.logf("proxy copy %s failed: %v", out.URL, err)
	}
}

func (i *Interceptor) outbound(r *http.Request) *http.Request {
	target := *r.URL
	if !target.IsAbs() {
		target.Scheme = i.origin.Scheme
		target.Host = i.origin.Host
	}
	out := r.Clone(r.Context())
	out.URL = &target
	out.Host = target.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if r.ContentLength == 0 {
		out.Body = nil
	}
	return out
}

func (i *Interceptor) logf(format string, args ...any) {
	if i.logger != nil {
		i.logger.Printf(format, args...)
	}
}

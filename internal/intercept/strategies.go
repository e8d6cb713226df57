package intercept

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/agentworkforce/offlinesync/internal/bridge"
	"github.com/agentworkforce/offlinesync/internal/cachetier"
)

const revalidateTimeout = 30 * time.Second

type fetchFunc func(*http.Request) (*http.Response, error)

// strategyEnv is everything a caching strategy may touch. Strategies are plain
// functions of it so each one can be exercised on its own.
type strategyEnv struct {
	tiers         *cachetier.Manager
	fetch         fetchFunc
	metrics       *bridge.Metrics
	logger        Logger
	now           func() time.Time
	online        func() bool
	imageMaxBytes int64
	tasks         *sync.WaitGroup
	origin        *url.URL
	offlinePage   string
	indexPaths    []string
}

func (env strategyEnv) logf(format string, args ...any) {
	if env.logger != nil {
		env.logger.Printf(format, args...)
	}
}

func isOK(status int) bool {
	return status >= 200 && status <= 299
}

// isRedirect covers redirects and 304 Not Modified. Both are live answers from
// a reachable upstream and go back to the client untouched.
func isRedirect(status int) bool {
	return status >= 300 && status <= 399
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// cacheFirst serves tier hits without touching the network. A miss goes to the
// network and successful GET responses are stored. A failing cache lookup falls
// straight through to the network and the network's error is returned as is.
func cacheFirst(ctx context.Context, env strategyEnv, tier cachetier.Tier, req *http.Request) (*http.Response, error) {
	key := cachetier.KeyFor(req)
	snap, ok, err := env.tiers.Match(ctx, tier, key)
	if err != nil {
		env.logf("%s cache lookup for %s failed: %v", tier, req.URL, err)
		return env.fetch(req)
	}
	if ok {
		env.metrics.CacheHit()
		return snap.Response(req), nil
	}
	env.metrics.CacheMiss()

	resp, err := env.fetch(req)
	if err != nil {
		return nil, err
	}
	if !isOK(resp.StatusCode) || req.Method != http.MethodGet {
		return resp, nil
	}
	fresh, err := cachetier.ReadSnapshot(resp, env.now())
	if err != nil {
		return nil, err
	}
	if err := env.tiers.Put(ctx, tier, key, fresh); err != nil {
		env.logf("%s cache store for %s failed: %v", tier, req.URL, err)
	}
	return fresh.Response(req), nil
}

// networkFirst prefers a live answer and falls back to the dynamic tier, then to
// a synthesized 503. Only transport errors and 4xx/5xx answers fall back.
func networkFirst(ctx context.Context, env strategyEnv, req *http.Request) (*http.Response, error) {
	key := cachetier.KeyFor(req)
	resp, err := env.fetch(req)
	if err == nil && isRedirect(resp.StatusCode) {
		return resp, nil
	}
	if err == nil && isOK(resp.StatusCode) {
		if req.Method != http.MethodGet {
			return resp, nil
		}
		fresh, readErr := cachetier.ReadSnapshot(resp, env.now())
		if readErr == nil {
			if putErr := env.tiers.Put(ctx, cachetier.Dynamic, key, fresh); putErr != nil {
				env.logf("dynamic cache store for %s failed: %v", req.URL, putErr)
			}
			return fresh.Response(req), nil
		}
		env.logf("reading %s failed: %v", req.URL, readErr)
	} else if err == nil {
		discard(resp)
	}

	cached, ok, matchErr := env.tiers.Match(ctx, cachetier.Dynamic, key)
	if matchErr != nil {
		env.logf("dynamic cache lookup for %s failed: %v", req.URL, matchErr)
	}
	if matchErr == nil && ok {
		env.metrics.CacheHit()
		return cached.Response(req), nil
	}
	env.metrics.OfflineFallback()
	return offlineAPIResponse(req, env.now()), nil
}

// imageCacheFirst serves cached images immediately and refreshes them in the
// background while online. Only small successful responses are stored.
func imageCacheFirst(ctx context.Context, env strategyEnv, req *http.Request) (*http.Response, error) {
	key := cachetier.KeyFor(req)
	snap, ok, err := env.tiers.Match(ctx, cachetier.Dynamic, key)
	if err != nil {
		env.logf("image cache lookup for %s failed: %v", req.URL, err)
	}
	if err == nil && ok {
		env.metrics.CacheHit()
		if env.online == nil || env.online() {
			revalidateImage(env, req, key)
		}
		return snap.Response(req), nil
	}
	env.metrics.CacheMiss()

	resp, err := env.fetch(req)
	if err != nil {
		env.metrics.OfflineFallback()
		return placeholderImage(req), nil
	}
	if !isOK(resp.StatusCode) {
		return resp, nil
	}
	declared := declaredLength(resp)
	fresh, err := cachetier.ReadSnapshot(resp, env.now())
	if err != nil {
		env.metrics.OfflineFallback()
		return placeholderImage(req), nil
	}
	if cacheableImage(declared, len(fresh.Body), env.imageMaxBytes) {
		if err := env.tiers.Put(ctx, cachetier.Dynamic, key, fresh); err != nil {
			env.logf("image cache store for %s failed: %v", req.URL, err)
		}
	}
	return fresh.Response(req), nil
}

func revalidateImage(env strategyEnv, req *http.Request, key string) {
	if env.tasks != nil {
		env.tasks.Add(1)
	}
	go func() {
		if env.tasks != nil {
			defer env.tasks.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()

		fresh := req.Clone(ctx)
		fresh.Body = nil
		fresh.ContentLength = 0
		resp, err := env.fetch(fresh)
		if err != nil {
			env.logf("image revalidation for %s dropped: %v", req.URL, err)
			return
		}
		if !isOK(resp.StatusCode) {
			discard(resp)
			return
		}
		declared := declaredLength(resp)
		snap, err := cachetier.ReadSnapshot(resp, env.now())
		if err != nil {
			env.logf("image revalidation for %s dropped: %v", req.URL, err)
			return
		}
		if !cacheableImage(declared, len(snap.Body), env.imageMaxBytes) {
			return
		}
		if err := env.tiers.Put(ctx, cachetier.Dynamic, key, snap); err != nil {
			env.logf("image revalidation store for %s failed: %v", req.URL, err)
		}
	}()
}

// declaredLength is the advertised body size, or -1 when unknown.
func declaredLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

func cacheableImage(declared int64, actual int, max int64) bool {
	if declared >= 0 && declared >= max {
		return false
	}
	return int64(actual) < max
}

// navigate handles page loads. Root requests come from the shell tier; other
// same-origin pages go to the network and fall back to the offline page on
// transport errors and 4xx/5xx answers.
func navigate(ctx context.Context, env strategyEnv, req *http.Request) (*http.Response, error) {
	if !sameOrigin(req.URL, env.origin) {
		return env.fetch(req)
	}
	if req.URL.Path == "/" || req.URL.Path == "" {
		for _, p := range env.indexPaths {
			key := cachetier.RequestKey(http.MethodGet, resolve(env.origin, p))
			snap, ok, err := env.tiers.Match(ctx, cachetier.Shell, key)
			if err != nil {
				env.logf("shell lookup for %s failed: %v", p, err)
				continue
			}
			if ok {
				env.metrics.CacheHit()
				return snap.Response(req), nil
			}
		}
		env.metrics.CacheMiss()
		return env.fetch(req)
	}

	resp, err := env.fetch(req)
	if err == nil && (resp.StatusCode == http.StatusOK || isRedirect(resp.StatusCode)) {
		return resp, nil
	}
	if err == nil {
		discard(resp)
	}
	env.metrics.OfflineFallback()
	return offlinePage(ctx, env, req), nil
}

func offlinePage(ctx context.Context, env strategyEnv, req *http.Request) *http.Response {
	key := cachetier.RequestKey(http.MethodGet, resolve(env.origin, env.offlinePage))
	snap, ok, err := env.tiers.Match(ctx, cachetier.Shell, key)
	if err != nil {
		env.logf("offline page lookup failed: %v", err)
	}
	if err == nil && ok {
		return snap.Response(req)
	}
	return fallbackOfflinePage(req)
}

func sameOrigin(u, origin *url.URL) bool {
	if u == nil || origin == nil {
		return false
	}
	if !u.IsAbs() {
		return true
	}
	return u.Scheme == origin.Scheme && u.Host == origin.Host
}

func resolve(origin *url.URL, p string) string {
	if origin == nil {
		return p
	}
	return origin.ResolveReference(&url.URL{Path: p}).String()
}

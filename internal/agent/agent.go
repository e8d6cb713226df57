// Package agent ties the interceptor, cache tiers, record store and sync
// orchestrator into one lifecycle: install, activate, sync and upgrade.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/offlinesync/internal/bridge"
	"github.com/agentworkforce/offlinesync/internal/cachetier"
	"github.com/agentworkforce/offlinesync/internal/intercept"
	"github.com/agentworkforce/offlinesync/internal/records"
	"github.com/agentworkforce/offlinesync/internal/syncagent"
)

const DefaultSyncDelay = 2 * time.Second

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Version      string
	CachePrefix  string
	Records      records.Store
	Tiers        *cachetier.Manager
	Interceptor  *intercept.Interceptor
	Orchestrator *syncagent.Orchestrator
	Bridge       *bridge.Bridge
	Prober       syncagent.Prober
	Metrics      *bridge.Metrics
	Logger       Logger
	// SyncDelay is how long activation waits before its opportunistic sync.
	SyncDelay time.Duration
}

type Agent struct {
	records      records.Store
	tiers        *cachetier.Manager
	interceptor  *intercept.Interceptor
	orchestrator *syncagent.Orchestrator
	bridge       *bridge.Bridge
	prober       syncagent.Prober
	metrics      *bridge.Metrics
	logger       Logger
	prefix       string
	syncDelay    time.Duration

	mu      sync.Mutex
	version string
	timers  map[*time.Timer]struct{}
	closed  bool
	runs    sync.WaitGroup
}

func New(opts Options) (*Agent, error) {
	if opts.Records == nil || opts.Tiers == nil || opts.Interceptor == nil || opts.Orchestrator == nil {
		return nil, fmt.Errorf("%w: agent needs records, tiers, an interceptor and an orchestrator", records.ErrInvalidInput)
	}
	if opts.Bridge == nil {
		opts.Bridge = bridge.New(bridge.Options{Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.Prober == nil {
		opts.Prober = syncagent.ProberFunc(func(context.Context) bool { return true })
	}
	if opts.SyncDelay <= 0 {
		opts.SyncDelay = DefaultSyncDelay
	}
	a := &Agent{
		records:      opts.Records,
		tiers:        opts.Tiers,
		interceptor:  opts.Interceptor,
		orchestrator: opts.Orchestrator,
		bridge:       opts.Bridge,
		prober:       opts.Prober,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		prefix:       opts.CachePrefix,
		syncDelay:    opts.SyncDelay,
		version:      strings.TrimSpace(opts.Version),
		timers:       map[*time.Timer]struct{}{},
	}
	a.bridge.Handle(bridge.TypeStartSync, func(ctx context.Context, _ bridge.Client, _ bridge.Message) {
		a.TriggerSync(ctx)
	})
	return a, nil
}

func (a *Agent) Version() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

func (a *Agent) Bridge() *bridge.Bridge {
	return a.bridge
}

func (a *Agent) Records() records.Store {
	return a.records
}

func (a *Agent) Interceptor() *intercept.Interceptor {
	return a.interceptor
}

// Metrics may be nil.
func (a *Agent) Metrics() *bridge.Metrics {
	return a.metrics
}

// Install precaches the application shell for the current generation.
func (a *Agent) Install(ctx context.Context) error {
	if err := a.interceptor.Install(ctx); err != nil {
		a.logf("install %s failed: %v", a.Version(), err)
		return err
	}
	a.logf("install %s complete", a.Version())
	return nil
}

type activationStep struct {
	name string
	run  func(ctx context.Context) error
}

// Activate runs every activation step in order. A failed step is logged and
// the remaining steps still run; the failures are returned joined.
func (a *Agent) Activate(ctx context.Context) error {
	steps := []activationStep{
		{name: "claim clients", run: a.claimClients},
		{name: "purge stale caches", run: a.purgeStale},
		{name: "ensure offline page", run: a.interceptor.EnsureOfflinePage},
		{name: "opportunistic sync", run: a.opportunisticSync},
	}
	var errs []error
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			a.logf("activate: %s failed: %v", step.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		a.logf("activate: %s done", step.name)
	}
	return errors.Join(errs...)
}

func (a *Agent) claimClients(ctx context.Context) error {
	n := a.bridge.Claim(ctx, a.Version())
	a.logf("claimed %d clients for %s", n, a.Version())
	return nil
}

func (a *Agent) purgeStale(ctx context.Context) error {
	deleted, err := a.tiers.PurgeStale(ctx)
	for _, name := range deleted {
		a.logf("deleted stale cache %s", name)
	}
	return err
}

func (a *Agent) opportunisticSync(ctx context.Context) error {
	if !a.prober.Reachable(ctx) {
		return nil
	}
	pending, err := a.orchestrator.Pending(ctx)
	if err != nil {
		return err
	}
	if pending == 0 {
		return nil
	}
	a.scheduleSync(a.syncDelay)
	a.logf("scheduled sync of %d pending records in %s", pending, a.syncDelay)
	return nil
}

// RequestSync runs one sync pass and waits for it.
func (a *Agent) RequestSync(ctx context.Context) syncagent.Result {
	return a.orchestrator.Run(ctx)
}

// TriggerSync starts a sync pass in the background. Its lifetime is not tied
// to ctx.
func (a *Agent) TriggerSync(ctx context.Context) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.runs.Add(1)
	a.mu.Unlock()
	go func() {
		defer a.runs.Done()
		a.orchestrator.Run(context.WithoutCancel(ctx))
	}()
}

func (a *Agent) scheduleSync(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.runs.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer a.runs.Done()
		a.mu.Lock()
		delete(a.timers, timer)
		a.mu.Unlock()
		a.orchestrator.Run(context.Background())
	})
	a.timers[timer] = struct{}{}
}

// Upgrade installs the generation for version alongside the current one, then
// switches to it and activates it. The current generation keeps serving until
// the install has succeeded; a failed install only deletes what it built.
func (a *Agent) Upgrade(ctx context.Context, version string) error {
	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("%w: empty version", records.ErrInvalidInput)
	}
	a.mu.Lock()
	previousVersion := a.version
	a.mu.Unlock()
	if version == previousVersion {
		return nil
	}
	next := cachetier.NamesFor(a.prefix, version)
	if err := a.interceptor.InstallInto(ctx, next); err != nil {
		a.logf("install %s failed: %v", version, err)
		if discardErr := a.tiers.Discard(ctx, next); discardErr != nil {
			a.logf("cleanup after failed upgrade: %v", discardErr)
		}
		return fmt.Errorf("upgrade to %s: %w", version, err)
	}
	a.logf("install %s complete", version)

	a.tiers.SetNames(next)
	a.mu.Lock()
	a.version = version
	a.mu.Unlock()
	return a.Activate(ctx)
}

// Close cancels scheduled syncs and waits for running ones and for detached
// interceptor work.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for timer := range a.timers {
		if timer.Stop() {
			a.runs.Done()
		}
		delete(a.timers, timer)
	}
	a.mu.Unlock()
	a.runs.Wait()
	a.interceptor.Wait()
	a.bridge.Close()
	return nil
}

func (a *Agent) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

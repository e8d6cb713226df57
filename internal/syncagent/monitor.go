package syncagent

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"
)

type MonitorOptions struct {
	Interval    time.Duration
	JitterRatio float64
	// OnOnline runs after every offline to online transition. The first probe
	// only sets the starting state and never fires it.
	OnOnline func(ctx context.Context)
	Logger   Logger
}

// Monitor polls a Prober and tracks the last known connectivity state.
type Monitor struct {
	prober   Prober
	interval time.Duration
	jitter   float64
	onOnline func(ctx context.Context)
	logger   Logger
	online   atomic.Bool
	started  atomic.Bool
}

func NewMonitor(prober Prober, opts MonitorOptions) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	m := &Monitor{
		prober:   prober,
		interval: opts.Interval,
		jitter:   clampJitterRatio(opts.JitterRatio),
		onOnline: opts.OnOnline,
		logger:   opts.Logger,
	}
	return m
}

// Online is the result of the most recent probe. It starts out false.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Check probes once and fires OnOnline on a transition to online.
func (m *Monitor) Check(ctx context.Context) bool {
	reachable := m.prober.Reachable(ctx)
	was := m.online.Swap(reachable)
	if !m.started.Swap(true) {
		return reachable
	}
	switch {
	case reachable && !was:
		m.logf("connectivity restored")
		if m.onOnline != nil {
			m.onOnline(ctx)
		}
	case !reachable && was:
		m.logf("connectivity lost")
	}
	return reachable
}

// Run checks immediately and then at a jittered interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(m.interval, m.jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.Check(ctx)
			timer.Reset(jitteredIntervalWithSample(m.interval, m.jitter, rng.Float64()))
		}
	}
}

func (m *Monitor) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

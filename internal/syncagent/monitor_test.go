package syncagent

import (
	"context"
	"testing"
	"time"
)

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}

func TestMonitorFiresOnOnlineTransitionOnly(t *testing.T) {
	prober := &fixedProber{}
	transitions := 0
	m := NewMonitor(prober, MonitorOptions{OnOnline: func(context.Context) { transitions++ }})
	ctx := context.Background()

	if m.Check(ctx) || m.Online() {
		t.Fatalf("expected offline start")
	}
	prober.set(true)
	m.Check(ctx)
	m.Check(ctx)
	if transitions != 1 {
		t.Fatalf("expected exactly one online transition, got %d", transitions)
	}
	prober.set(false)
	m.Check(ctx)
	prober.set(true)
	m.Check(ctx)
	if transitions != 2 {
		t.Fatalf("expected a second transition after reconnecting, got %d", transitions)
	}
	if !m.Online() {
		t.Fatalf("expected monitor to report online")
	}
}

func TestMonitorFirstCheckOnlySetsState(t *testing.T) {
	prober := &fixedProber{reachable: true}
	transitions := 0
	m := NewMonitor(prober, MonitorOptions{OnOnline: func(context.Context) { transitions++ }})
	ctx := context.Background()

	if !m.Check(ctx) || !m.Online() {
		t.Fatalf("expected first check to report online")
	}
	m.Check(ctx)
	if transitions != 0 {
		t.Fatalf("expected no transition when starting online, got %d", transitions)
	}

	prober.set(false)
	m.Check(ctx)
	prober.set(true)
	m.Check(ctx)
	if transitions != 1 {
		t.Fatalf("expected one transition after reconnecting, got %d", transitions)
	}
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	prober := &fixedProber{reachable: true}
	m := NewMonitor(prober, MonitorOptions{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("monitor did not stop after its context ended")
	}
	if !m.Online() {
		t.Fatalf("expected monitor to have probed online")
	}
}

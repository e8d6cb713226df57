package bridge

import (
	"sync/atomic"
	"time"
)

// Metrics counts agent activity. It is created once per agent and handed to
// every component that reports into it. A nil *Metrics ignores all updates.
type Metrics struct {
	startedAt time.Time

	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	networkFetches   atomic.Int64
	networkFailures  atomic.Int64
	offlineFallbacks atomic.Int64
	syncRuns         atomic.Int64
	syncAborted      atomic.Int64
	recordsSynced    atomic.Int64
	recordsFailed    atomic.Int64
	messagesSent     atomic.Int64
	clientsDropped   atomic.Int64
}

type MetricsSnapshot struct {
	StartedAt        string `json:"startedAt"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	CacheHits        int64  `json:"cacheHits"`
	CacheMisses      int64  `json:"cacheMisses"`
	NetworkFetches   int64  `json:"networkFetches"`
	NetworkFailures  int64  `json:"networkFailures"`
	OfflineFallbacks int64  `json:"offlineFallbacks"`
	SyncRuns         int64  `json:"syncRuns"`
	SyncAborted      int64  `json:"syncAborted"`
	RecordsSynced    int64  `json:"recordsSynced"`
	RecordsFailed    int64  `json:"recordsFailed"`
	MessagesSent     int64  `json:"messagesSent"`
	ClientsDropped   int64  `json:"clientsDropped"`
}

func NewMetrics(now time.Time) *Metrics {
	return &Metrics{startedAt: now.UTC()}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Add(1)
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Add(1)
	}
}

func (m *Metrics) NetworkFetch() {
	if m != nil {
		m.networkFetches.Add(1)
	}
}

func (m *Metrics) NetworkFailure() {
	if m != nil {
		m.networkFailures.Add(1)
	}
}

func (m *Metrics) OfflineFallback() {
	if m != nil {
		m.offlineFallbacks.Add(1)
	}
}

func (m *Metrics) SyncRun(aborted bool, successful, failed int) {
	if m == nil {
		return
	}
	m.syncRuns.Add(1)
	if aborted {
		m.syncAborted.Add(1)
	}
	m.recordsSynced.Add(int64(successful))
	m.recordsFailed.Add(int64(failed))
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.messagesSent.Add(1)
	}
}

func (m *Metrics) clientDropped() {
	if m != nil {
		m.clientsDropped.Add(1)
	}
}

func (m *Metrics) Snapshot(now time.Time) MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		StartedAt:        formatTime(m.startedAt),
		UptimeSeconds:    int64(now.Sub(m.startedAt) / time.Second),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		NetworkFetches:   m.networkFetches.Load(),
		NetworkFailures:  m.networkFailures.Load(),
		OfflineFallbacks: m.offlineFallbacks.Load(),
		SyncRuns:         m.syncRuns.Load(),
		SyncAborted:      m.syncAborted.Load(),
		RecordsSynced:    m.recordsSynced.Load(),
		RecordsFailed:    m.recordsFailed.Load(),
		MessagesSent:     m.messagesSent.Load(),
		ClientsDropped:   m.clientsDropped.Load(),
	}
}

// Package syncagent drains pending records to the remote endpoint and reports
// the outcome to connected views.
package syncagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/offlinesync/internal/bridge"
	"github.com/agentworkforce/offlinesync/internal/records"
)

type State int

const (
	StateIdle State = iota
	StateProbing
	StateAborted
	StateDraining
	StateSending
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateAborted:
		return "aborted"
	case StateDraining:
		return "draining"
	case StateSending:
		return "sending"
	case StateReporting:
		return "reporting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Notifier is where run progress is broadcast.
type Notifier interface {
	Broadcast(ctx context.Context, msg bridge.Message) int
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Store    records.Store
	Sender   Sender
	Prober   Prober
	Notifier Notifier
	Metrics  *bridge.Metrics
	Logger   Logger
	// SendTimeout bounds each record's send and delete. Zero leaves them to
	// the transport.
	SendTimeout time.Duration
	Now         func() time.Time
}

// Outcome is the settled result of one record's send.
type Outcome struct {
	RecordID int64
	Err      error
}

func (o Outcome) Fulfilled() bool {
	return o.Err == nil
}

type Result struct {
	RunID      string    `json:"runId"`
	Aborted    bool      `json:"aborted"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message,omitempty"`
	Outcomes   []Outcome `json:"-"`
	States     []State   `json:"-"`
}

type Orchestrator struct {
	store       records.Store
	sender      Sender
	prober      Prober
	notifier    Notifier
	metrics     *bridge.Metrics
	logger      Logger
	sendTimeout time.Duration
	now         func() time.Time
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Sender == nil || opts.Prober == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a store, a sender and a prober", records.ErrInvalidInput)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:       opts.Store,
		sender:      opts.Sender,
		prober:      opts.Prober,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		sendTimeout: opts.SendTimeout,
		now:         opts.Now,
	}, nil
}

type syncRun struct {
	result Result
}

func (r *syncRun) enter(s State) {
	r.result.States = append(r.result.States, s)
}

// Run performs one complete sync pass. It never returns an error: an
// unreachable remote aborts the run silently, storage errors read as nothing
// pending and per-record failures are counted. Runs may overlap.
func (o *Orchestrator) Run(ctx context.Context) Result {
	run := &syncRun{result: Result{RunID: uuid.NewString()}}
	run.enter(StateIdle)

	run.enter(StateProbing)
	if !o.prober.Reachable(ctx) {
		run.enter(StateAborted)
		run.result.Aborted = true
		run.result.Timestamp = o.now().UTC()
		o.logf("sync %s aborted: remote unreachable", run.result.RunID)
		o.metrics.SyncRun(true, 0, 0)
		run.enter(StateIdle)
		return run.result
	}

	run.enter(StateDraining)
	pending, err := o.store.GetAll(ctx)
	if err != nil {
		o.logf("sync %s: reading pending records failed, treating as empty: %v", run.result.RunID, err)
		pending = nil
	}

	if len(pending) > 0 {
		ids := make([]int64, 0, len(pending))
		for _, rec := range pending {
			ids = append(ids, rec.ID)
		}
		o.notify(ctx, bridge.SyncStarted(ids, o.now()))

		run.enter(StateSending)
		run.result.Outcomes = o.sendAll(ctx, pending)
	}

	run.enter(StateReporting)
	for _, outcome := range run.result.Outcomes {
		if outcome.Fulfilled() {
			run.result.Successful++
		} else {
			run.result.Failed++
			o.logf("sync %s: record %d not synced: %v", run.result.RunID, outcome.RecordID, outcome.Err)
		}
	}
	run.result.Total = len(pending)
	run.result.Timestamp = o.now().UTC()
	run.result.Message = summaryMessage(run.result.Successful, run.result.Failed, run.result.Total)
	o.notify(ctx, bridge.SyncCompleted(bridge.SyncSummary{
		Successful: run.result.Successful,
		Failed:     run.result.Failed,
		Total:      run.result.Total,
		Timestamp:  run.result.Timestamp.Format(time.RFC3339Nano),
		Message:    run.result.Message,
	}))
	o.metrics.SyncRun(false, run.result.Successful, run.result.Failed)
	run.enter(StateIdle)
	return run.result
}

// sendAll dispatches every record at once and waits for all of them to
// settle. Sends do not share cancellation with the caller or each other.
func (o *Orchestrator) sendAll(ctx context.Context, pending []records.Record) []Outcome {
	detached := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, len(pending))
	var wg sync.WaitGroup
	for i, rec := range pending {
		wg.Add(1)
		go func(i int, rec records.Record) {
			defer wg.Done()
			outcomes[i] = Outcome{RecordID: rec.ID, Err: o.sendOne(detached, rec)}
		}(i, rec)
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) sendOne(ctx context.Context, rec records.Record) error {
	if !rec.Persisted() {
		return records.ErrMissingID
	}
	if o.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.sendTimeout)
		defer cancel()
	}
	if err := o.sender.Send(ctx, rec); err != nil {
		return err
	}
	if err := o.store.Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete synced record %d: %w", rec.ID, err)
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, msg bridge.Message) {
	if o.notifier == nil {
		return
	}
	o.notifier.Broadcast(context.WithoutCancel(ctx), msg)
}

// Pending reports how many records are waiting to be synced.
func (o *Orchestrator) Pending(ctx context.Context) (int, error) {
	return o.store.Count(ctx)
}

func summaryMessage(successful, failed, total int) string {
	if total == 0 {
		return "No pending activities to sync"
	}
	return fmt.Sprintf("Synced: %d, Failed: %d", successful, failed)
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/txn"
)

// Tracker owns the record store, scheduler, aggregator and bus for one process.
// Mutations are serialized; listeners run synchronously inside the mutating call
// and must not call back into mutating Tracker methods.
type Tracker struct {
	mu        sync.Mutex
	store     *Store
	agg       *stats.Aggregator
	bus       *events.Bus
	scheduler *Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a tracker that polls provider and publishes on bus. m may be nil.
func New(provider StatusProvider, bus *events.Bus, opts Options, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	t := &Tracker{
		store:   NewStore(),
		agg:     stats.NewAggregator(),
		bus:     bus,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	t.scheduler = newScheduler(provider, t, opts, m, logger)
	return t
}

// Create starts tracking a freshly submitted signature.
func (t *Tracker) Create(signature string, route txn.Route, payer string, tipLamports *uint64) (txn.Record, error) {
	if signature == "" {
		return txn.Record{}, fmt.Errorf("signature is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := txn.NewRecord(signature, route, payer, tipLamports, t.now())
	if err := t.store.Insert(rec); err != nil {
		return txn.Record{}, fmt.Errorf("create %s: %w", signature, err)
	}
	if t.metrics != nil {
		t.metrics.RecordTracked(string(route))
	}
	t.logger.Info("tracking transaction",
		"signature", signature,
		"route", route,
	)

	t.afterWriteLocked(rec)
	return rec, nil
}

// MarkForwarded merges a forwarded update without waiting for a poll tick.
func (t *Tracker) MarkForwarded(signature string, routeUsed txn.Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.store.Get(signature)
	if !ok {
		return fmt.Errorf("mark forwarded %s: %w", signature, ErrNotTracked)
	}
	t.commitLocked(cur, txn.Merge(cur, txn.StatusUpdate{
		Status:    txn.StatusForwarded,
		RouteUsed: routeUsed,
	}, t.now()))
	return nil
}

// Upsert replaces a record wholesale. rec must already be merged.
func (t *Tracker) Upsert(rec txn.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, _ := t.store.Get(rec.Signature)
	t.commitLocked(cur, rec)
}

// Get returns the record for signature.
func (t *Tracker) Get(signature string) (txn.Record, bool) {
	return t.store.Get(signature)
}

// List returns up to limit records, most recently updated first.
func (t *Tracker) List(limit int) []txn.Record {
	return t.store.List(limit)
}

// Metrics returns a freshly computed snapshot.
func (t *Tracker) Metrics() stats.Snapshot {
	return t.agg.Snapshot()
}

// Subscribe registers l for transaction and metrics events.
func (t *Tracker) Subscribe(l events.Listener) func() {
	return t.bus.Subscribe(l)
}

// SchedulerState lists active and queued signatures.
type SchedulerState struct {
	Active []string `json:"active"`
	Queued []string `json:"queued"`
}

// Scheduler reports the polling scheduler's current state.
func (t *Tracker) Scheduler() SchedulerState {
	return SchedulerState{
		Active: t.scheduler.Active(),
		Queued: t.scheduler.Queued(),
	}
}

// Close stops all polling. Tracked records remain readable.
func (t *Tracker) Close() {
	t.scheduler.Close()
}

// reconcile is called by the scheduler with a provider response.
func (t *Tracker) reconcile(signature string, upd txn.StatusUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.store.Get(signature)
	if !ok {
		return true
	}
	next := txn.Merge(cur, upd, t.now())
	t.commitLocked(cur, next)
	return next.Status.IsTerminal()
}

func (t *Tracker) pollable(signature string) bool {
	rec, ok := t.store.Get(signature)
	return ok && !rec.Status.IsTerminal()
}

// commitLocked stores next, which replaces prev (zero if new).
func (t *Tracker) commitLocked(prev, next txn.Record) {
	if prev.Signature != "" && prev.Status.IsRegression(next.Status) {
		// Accepted as authoritative; surfaced for operators.
		t.logger.Warn("transaction status regressed",
			"signature", next.Signature,
			"from", prev.Status,
			"to", next.Status,
		)
		if t.metrics != nil {
			t.metrics.RecordStatusRegression(string(prev.Status), string(next.Status))
		}
	}
	if next.Status.IsTerminal() && prev.Status != next.Status {
		t.logger.Info("transaction reached terminal status",
			"signature", next.Signature,
			"status", next.Status,
			"route_used", next.RouteUsed,
		)
		if t.metrics != nil {
			t.metrics.RecordTerminal(string(next.Route), string(next.Status))
		}
	}

	t.store.Put(next)
	t.afterWriteLocked(next)
}

// afterWriteLocked recomputes metrics, publishes, and keeps the scheduler in step
// with the record's status.
func (t *Tracker) afterWriteLocked(rec txn.Record) {
	t.agg.Upsert(rec.Clone())
	t.bus.Publish(events.Event{Type: events.TypeTransaction, Payload: rec.Clone()})
	t.bus.Publish(events.Event{Type: events.TypeMetrics, Payload: t.agg.Snapshot()})

	if rec.Status.IsTerminal() {
		t.scheduler.Retire(rec.Signature)
	} else {
		t.scheduler.Register(rec.Signature)
	}
}

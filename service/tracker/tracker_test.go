package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) listener(e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func newTestTracker(t *testing.T, p StatusProvider, maxActive int) *Tracker {
	t.Helper()
	tr := New(p, events.NewBus(testLogger(), nil), Options{MaxActive: maxActive, Interval: 10 * time.Millisecond}, nil, testLogger())
	t.Cleanup(tr.Close)
	return tr
}

func TestTracker_CreatePublishesInOrder(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 10)
	log := &eventLog{}
	tr.Subscribe(log.listener)

	rec, err := tr.Create("sig1", txn.RouteJito, "payer", txn.Ptr(uint64(50000)))
	require.NoError(t, err)

	assert.Equal(t, txn.StatusPending, rec.Status)
	assert.Equal(t, []events.Type{events.TypeTransaction, events.TypeMetrics}, log.types())

	log.mu.Lock()
	published := log.events[0].Payload.(txn.Record)
	snap := log.events[1].Payload.(stats.Snapshot)
	log.mu.Unlock()
	assert.Equal(t, "sig1", published.Signature)
	assert.Equal(t, 1, snap.TotalCount)
	assert.Equal(t, 1, snap.PendingCount)
}

func TestTracker_CreateDuplicate(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 10)

	_, err := tr.Create("sig1", txn.RouteRPC, "", nil)
	require.NoError(t, err)
	_, err = tr.Create("sig1", txn.RouteRPC, "", nil)
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	_, err = tr.Create("", txn.RouteRPC, "", nil)
	assert.Error(t, err)
}

func TestTracker_MarkForwarded(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 10)
	_, err := tr.Create("sig1", txn.RouteParallel, "", nil)
	require.NoError(t, err)

	require.NoError(t, tr.MarkForwarded("sig1", txn.RouteMock))

	rec, ok := tr.Get("sig1")
	require.True(t, ok)
	assert.Equal(t, txn.StatusForwarded, rec.Status)
	assert.Equal(t, txn.RouteMock, rec.RouteUsed)
	assert.Equal(t, txn.RouteParallel, rec.Route)
	assert.True(t, rec.HasPhase(txn.PhaseForwarded))

	assert.ErrorIs(t, tr.MarkForwarded("missing", txn.RouteTPG), ErrNotTracked)
}

func TestTracker_PollsToTerminal(t *testing.T) {
	provider := newFakeProvider()
	tr := newTestTracker(t, provider, 10)
	_, err := tr.Create("sig1", txn.RouteJito, "", nil)
	require.NoError(t, err)

	provider.set("sig1", txn.StatusUpdate{Status: txn.StatusLanded, Slot: txn.Ptr(uint64(77)), Refund: txn.Ptr(true)})

	require.Eventually(t, func() bool {
		rec, _ := tr.Get("sig1")
		return rec.Status == txn.StatusLanded
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return tr.scheduler.State("sig1") == LoopUnscheduled
	}, time.Second, 5*time.Millisecond)

	rec, _ := tr.Get("sig1")
	assert.Equal(t, uint64(77), *rec.Slot)
	assert.True(t, rec.HasPhase(txn.PhaseRefunded))
	assert.NotNil(t, rec.ConfirmTime)

	snap := tr.Metrics()
	assert.Equal(t, float64(100), snap.SuccessRate)
	assert.Equal(t, float64(100), *snap.RefundRate)
}

func TestTracker_ScenarioA(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 10)
	tr.now = func() time.Time { return t0 }

	rec, err := tr.Create("sig1", "routeA", "", nil)
	require.NoError(t, err)

	snap := tr.Metrics()
	assert.Equal(t, 1, snap.PendingCount)
	assert.Equal(t, 1, snap.TotalCount)

	confirm := t0.Add(500 * time.Millisecond)
	tr.Upsert(txn.Merge(rec, txn.StatusUpdate{Status: txn.StatusLanded, ConfirmTime: &confirm}, confirm))

	snap = tr.Metrics()
	assert.Equal(t, float64(100), snap.SuccessRate)
	require.NotNil(t, snap.P50LatencyMs)
	assert.Equal(t, int64(500), *snap.P50LatencyMs)
	assert.Equal(t, LoopUnscheduled, tr.scheduler.State("sig1"))
}

func TestTracker_ScenarioB(t *testing.T) {
	provider := newFakeProvider()
	tr := newTestTracker(t, provider, 10)

	for i := 0; i < 11; i++ {
		_, err := tr.Create(fmt.Sprintf("sig%d", i), txn.RouteRPC, "", nil)
		require.NoError(t, err)
	}

	state := tr.Scheduler()
	assert.Len(t, state.Active, 10)
	assert.Equal(t, []string{"sig10"}, state.Queued)

	provider.set("sig0", txn.StatusUpdate{Status: txn.StatusFailed, Error: "Transaction simulation failed"})

	require.Eventually(t, func() bool {
		return tr.scheduler.State("sig10") == LoopActive
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, tr.Scheduler().Active, 10)

	rec, _ := tr.Get("sig0")
	assert.Equal(t, "Transaction simulation failed", rec.Error)
}

func TestTracker_ScenarioC(t *testing.T) {
	provider := newFakeProvider()
	tr := newTestTracker(t, provider, 10)
	log := &eventLog{}

	_, err := tr.Create("sig1", txn.RouteRPC, "", nil)
	require.NoError(t, err)
	tr.Subscribe(log.listener)
	before, _ := tr.Get("sig1")
	snapBefore := tr.Metrics()

	require.Eventually(t, func() bool { return provider.callCount("sig1") >= 5 }, 2*time.Second, 5*time.Millisecond)

	after, _ := tr.Get("sig1")
	snapAfter := tr.Metrics()
	assert.Equal(t, before, after)
	snapBefore.UpdatedAt, snapAfter.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, snapBefore, snapAfter)
	assert.Zero(t, log.len())
}

func TestTracker_TerminalUpsertRetiresLoop(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 10)
	rec, err := tr.Create("sig1", txn.RouteRPC, "", nil)
	require.NoError(t, err)
	require.Equal(t, LoopActive, tr.scheduler.State("sig1"))

	tr.Upsert(txn.Merge(rec, txn.StatusUpdate{Status: txn.StatusLanded}, time.Now()))
	assert.Equal(t, LoopUnscheduled, tr.scheduler.State("sig1"))

	// Re-upserting a non-terminal record resumes polling.
	got, _ := tr.Get("sig1")
	got.Status = txn.StatusPending
	tr.Upsert(got)
	assert.Equal(t, LoopActive, tr.scheduler.State("sig1"))
}

func TestTracker_ListenerCanReadDuringPublish(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 10)
	var seen []int
	tr.Subscribe(func(e events.Event) error {
		if e.Type == events.TypeTransaction {
			seen = append(seen, len(tr.List(0)))
			_ = tr.Metrics()
		}
		return nil
	})

	_, err := tr.Create("a", txn.RouteRPC, "", nil)
	require.NoError(t, err)
	_, err = tr.Create("b", txn.RouteRPC, "", nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, seen)
}

func TestTracker_ListDefaults(t *testing.T) {
	tr := newTestTracker(t, newFakeProvider(), 1)
	for i := 0; i < 3; i++ {
		_, err := tr.Create(fmt.Sprintf("sig%d", i), txn.RouteRPC, "", nil)
		require.NoError(t, err)
	}

	assert.Len(t, tr.List(0), 3)
	assert.Len(t, tr.List(2), 2)
}

package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/aurora/service/txn"
)

// Snapshot is a derived view of the tracked set. It is recomputed on every call.
type Snapshot struct {
	SuccessRate    float64   `json:"success_rate"`
	RefundRate     *float64  `json:"refund_rate"`
	P50LatencyMs   *int64    `json:"p50_latency_ms"`
	P95LatencyMs   *int64    `json:"p95_latency_ms"`
	AvgTipLamports *uint64   `json:"avg_tip_lamports"`
	TotalCount     int       `json:"total_count"`
	FailureCount   int       `json:"failure_count"`
	PendingCount   int       `json:"pending_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Aggregator mirrors tracked records and derives health metrics from them.
type Aggregator struct {
	mu      sync.RWMutex
	records map[string]txn.Record
	now     func() time.Time
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		records: make(map[string]txn.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upsert records or replaces the record for its signature.
func (a *Aggregator) Upsert(rec txn.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[rec.Signature] = rec
}

// Snapshot recomputes metrics over every mirrored record.
//
// Refund rate only counts completed records that carry a refund signal, and is
// nil until at least one such record exists.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		TotalCount: len(a.records),
		UpdatedAt:  a.now(),
	}

	var (
		completed, landed int
		refundSignals     int
		refunded          int
		tipSum            float64
		tipCount          int
		latencies         []int64
	)

	for _, rec := range a.records {
		switch rec.Status {
		case txn.StatusPending, txn.StatusForwarded:
			snap.PendingCount++
		case txn.StatusFailed:
			snap.FailureCount++
		}

		if !rec.Status.IsTerminal() {
			continue
		}
		completed++
		if rec.Status == txn.StatusLanded {
			landed++
		}

		if d, ok := rec.Latency(); ok && d > 0 {
			latencies = append(latencies, d.Milliseconds())
		}
		if rec.TipLamports != nil {
			tipSum += float64(*rec.TipLamports)
			tipCount++
		}
		if rec.Refund != nil {
			refundSignals++
			if *rec.Refund {
				refunded++
			}
		}
	}

	if completed > 0 {
		snap.SuccessRate = round2(float64(landed) / float64(completed) * 100)
	}
	if refundSignals > 0 {
		rate := round2(float64(refunded) / float64(refundSignals) * 100)
		snap.RefundRate = &rate
	}
	if tipCount > 0 {
		avg := uint64(math.Round(tipSum / float64(tipCount)))
		snap.AvgTipLamports = &avg
	}
	snap.P50LatencyMs = Percentile(latencies, 50)
	snap.P95LatencyMs = Percentile(latencies, 95)

	return snap
}

// Percentile returns the nearest-rank percentile of values, or nil when values is empty.
// values is not modified.
func Percentile(values []int64, p float64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(len(sorted)-1, idx))
	v := sorted[idx]
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package nats

import (
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/txn"
)

// TransactionEvent is published to "aurora.txns.{signature}" whenever a
// tracked record changes.
type TransactionEvent struct {
	Record      txn.Record `json:"record"`
	PublishedAt time.Time  `json:"published_at"`
}

// MetricsEvent is published to "aurora.metrics" after every record change.
type MetricsEvent struct {
	Snapshot    stats.Snapshot `json:"snapshot"`
	PublishedAt time.Time      `json:"published_at"`
}

// BenchmarkEvent is published to "aurora.benchmarks" when a benchmark completes.
type BenchmarkEvent struct {
	Result      benchmark.Result `json:"result"`
	PublishedAt time.Time        `json:"published_at"`
}

// FromRecord wraps a record for publishing.
func FromRecord(rec txn.Record) *TransactionEvent {
	return &TransactionEvent{
		Record:      rec,
		PublishedAt: time.Now().UTC(),
	}
}

// FromSnapshot wraps a metrics snapshot for publishing.
func FromSnapshot(snap stats.Snapshot) *MetricsEvent {
	return &MetricsEvent{
		Snapshot:    snap,
		PublishedAt: time.Now().UTC(),
	}
}

// FromBenchmark wraps a benchmark result for publishing.
func FromBenchmark(res benchmark.Result) *BenchmarkEvent {
	return &BenchmarkEvent{
		Result:      res,
		PublishedAt: time.Now().UTC(),
	}
}

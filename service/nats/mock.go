package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	transactions []*TransactionEvent
	metrics      []*MetricsEvent
	benchmarks   []*BenchmarkEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.transactions = append(m.transactions, event)
	return nil
}

func (m *MockPublisher) PublishMetrics(ctx context.Context, event *MetricsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.metrics = append(m.metrics, event)
	return nil
}

func (m *MockPublisher) PublishBenchmark(ctx context.Context, event *BenchmarkEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.benchmarks = append(m.benchmarks, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Transactions returns a copy of the published transaction events.
func (m *MockPublisher) Transactions() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TransactionEvent, len(m.transactions))
	copy(out, m.transactions)
	return out
}

// MetricsEvents returns a copy of the published metrics events.
func (m *MockPublisher) MetricsEvents() []*MetricsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MetricsEvent, len(m.metrics))
	copy(out, m.metrics)
	return out
}

// Benchmarks returns a copy of the published benchmark events.
func (m *MockPublisher) Benchmarks() []*BenchmarkEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*BenchmarkEvent, len(m.benchmarks))
	copy(out, m.benchmarks)
	return out
}

// TransactionsFor returns the transaction events published for signature.
func (m *MockPublisher) TransactionsFor(signature string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TransactionEvent
	for _, e := range m.transactions {
		if e.Record.Signature == signature {
			out = append(out, e)
		}
	}
	return out
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

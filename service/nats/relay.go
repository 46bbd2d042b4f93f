package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/txn"
)

const (
	DefaultRelayBuffer = 256
	publishTimeout     = 5 * time.Second
)

// Relay forwards bus events to a Publisher on its own goroutine. The bus
// listener never blocks: when the buffer is full the event is dropped.
type Relay struct {
	pub     Publisher
	queue   chan events.Event
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRelay creates a relay with room for buffer pending events.
func NewRelay(pub Publisher, buffer int, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if buffer <= 0 {
		buffer = DefaultRelayBuffer
	}
	return &Relay{
		pub:     pub,
		queue:   make(chan events.Event, buffer),
		metrics: m,
		logger:  logger,
	}
}

// Listener returns the bus listener that feeds the relay.
func (r *Relay) Listener() events.Listener {
	return func(e events.Event) error {
		select {
		case r.queue <- e:
		default:
			if r.metrics != nil {
				r.metrics.RecordStreamEventDropped("nats")
			}
			r.logger.Warn("NATS relay buffer full, dropping event", "type", e.Type)
		}
		return nil
	}
}

// Run publishes queued events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("NATS relay started", "buffer", cap(r.queue))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("NATS relay stopped", "pending", len(r.queue))
			return nil
		case e := <-r.queue:
			r.forward(ctx, e)
		}
	}
}

func (r *Relay) forward(ctx context.Context, e events.Event) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	err := r.publish(pctx, e)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, errUnrelayed) {
			status = "skipped"
		}
	}
	if r.metrics != nil {
		r.metrics.RecordNATSPublish(string(e.Type), status, duration)
	}
	if err != nil && status == "error" {
		r.logger.Error("failed to relay event to NATS", "type", e.Type, "error", err)
	}
}

var errUnrelayed = errors.New("event type not relayed")

func (r *Relay) publish(ctx context.Context, e events.Event) error {
	switch payload := e.Payload.(type) {
	case txn.Record:
		return r.pub.PublishTransaction(ctx, FromRecord(payload))
	case stats.Snapshot:
		return r.pub.PublishMetrics(ctx, FromSnapshot(payload))
	case benchmark.Result:
		return r.pub.PublishBenchmark(ctx, FromBenchmark(payload))
	case *benchmark.Result:
		return r.pub.PublishBenchmark(ctx, FromBenchmark(*payload))
	default:
		return fmt.Errorf("%w: %s (%T)", errUnrelayed, e.Type, e.Payload)
	}
}

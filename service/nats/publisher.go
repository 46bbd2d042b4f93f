package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for relaying tracker events to NATS.
type Publisher interface {
	// PublishTransaction publishes to "aurora.txns.{signature}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// PublishMetrics publishes to "aurora.metrics".
	PublishMetrics(ctx context.Context, event *MetricsEvent) error

	// PublishBenchmark publishes to "aurora.benchmarks".
	PublishBenchmark(ctx context.Context, event *BenchmarkEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes tracker events to NATS JetStream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for tracker events.
	StreamName = "AURORA"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "aurora.>"

	// StreamRetention is how long messages are retained.
	StreamRetention = 24 * time.Hour

	SubjectMetrics    = "aurora.metrics"
	SubjectBenchmarks = "aurora.benchmarks"
)

// TransactionSubject returns the subject a signature's updates are published on.
func TransactionSubject(signature string) string {
	return "aurora.txns." + signature
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("aurora-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transaction lifecycle, metrics and benchmark events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	return p.publish(ctx, TransactionSubject(event.Record.Signature), event)
}

func (p *JetStreamPublisher) PublishMetrics(ctx context.Context, event *MetricsEvent) error {
	return p.publish(ctx, SubjectMetrics, event)
}

func (p *JetStreamPublisher) PublishBenchmark(ctx context.Context, event *BenchmarkEvent) error {
	return p.publish(ctx, SubjectBenchmarks, event)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published event", "subject", subject, "bytes", len(data))
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

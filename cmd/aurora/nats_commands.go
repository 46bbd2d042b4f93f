package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/aurora/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand follows relayed tracker events on JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to tracker events relayed to NATS",
		ArgsUsage: "[signature]",
		Description: `Subscribe to tracker events published to NATS JetStream.

Without arguments every subject under aurora.> is consumed. With a signature
only that transaction's updates (aurora.txns.{signature}) are shown.

Example:
  aurora nats subscribe --subject aurora.metrics --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Subject filter (ignored when a signature is given)",
				Value: natspkg.StreamSubjects,
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "aurora-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := c.String("subject")
			if c.NArg() > 0 {
				subject = natspkg.TransactionSubject(c.Args().Get(0))
			}

			consumerName := ""
			if c.Bool("durable") {
				consumerName = c.String("consumer-name")
			}

			return streamEvents(c.String("nats-url"), subject, consumerName, c.Bool("json"))
		},
	}
}

// streamEvents consumes subject until interrupted. A non-empty consumerName
// makes the consumer durable.
func streamEvents(natsURL, subject, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if consumerName != "" {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if consumerName != "" {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if jsonOutput {
				fmt.Fprintf(stdout, "{\"subject\":%q,\"data\":%s}\n", msg.Subject(), msg.Data())
			} else if err := printNATSEvent(msg.Subject(), msg.Data()); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

func printNATSEvent(subject string, data []byte) error {
	switch {
	case strings.HasPrefix(subject, natspkg.TransactionSubject("")):
		var event natspkg.TransactionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		rec := event.Record
		fmt.Fprintf(stdout, "[%s] %s %s via %s\n",
			event.PublishedAt.Format(time.RFC3339), rec.Signature, rec.Status, rec.Route)

	case subject == natspkg.SubjectMetrics:
		var event natspkg.MetricsEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		snap := event.Snapshot
		fmt.Fprintf(stdout, "[%s] metrics total=%d pending=%d success=%.2f%%\n",
			event.PublishedAt.Format(time.RFC3339), snap.TotalCount, snap.PendingCount, snap.SuccessRate)

	case subject == natspkg.SubjectBenchmarks:
		var event natspkg.BenchmarkEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "[%s] benchmark %s runs=%d routes=%v\n",
			event.PublishedAt.Format(time.RFC3339), event.Result.ID, event.Result.Runs, event.Result.Routes)

	default:
		fmt.Fprintf(stdout, "[%s] %s\n", subject, string(data))
	}
	return nil
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the AURORA JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  aurora nats inspect-stream`,
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				return printJSON(info)
			}

			fmt.Fprintf(stdout, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(stdout, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(stdout, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(stdout, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(stdout, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(stdout, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(stdout, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(stdout, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(stdout, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(stdout, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(stdout, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}

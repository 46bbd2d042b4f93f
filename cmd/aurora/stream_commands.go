package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/aurora/client"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/txn"
	"github.com/urfave/cli/v2"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Follow the live event stream via SSE",
		Description: `Connects to the server's SSE endpoint and prints every frame.

Frames are filtered by --type and by jq expressions evaluated against
{"type": ..., "payload": ...}.

Example:
  aurora stream --type transaction --jq '.payload.status == "landed"' --json`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "type",
				Usage: "Only show frames of this type (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter evaluated against each frame; all must be truthy (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "heartbeats",
				Usage: "Include heartbeat frames in the output",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			types := make(map[string]bool)
			for _, t := range c.StringSlice("type") {
				types[t] = true
			}
			jsonOutput := c.Bool("json")
			showHeartbeats := c.Bool("heartbeats")

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Connected to %s\n", c.String("server-url"))
				fmt.Fprintf(os.Stderr, "Streaming events... (Ctrl+C to stop)\n\n")
			}

			err = cl.Stream(ctx, func(f client.Frame) error {
				if f.Type == string(events.TypeHeartbeat) && !showHeartbeats && len(types) == 0 {
					return nil
				}
				if len(types) > 0 && !types[f.Type] {
					return nil
				}
				ok, err := filters.match(f)
				if err != nil {
					fmt.Fprintf(os.Stderr, "jq filter error: %v\n", err)
					return nil
				}
				if !ok {
					return nil
				}

				if jsonOutput {
					data, _ := json.Marshal(f)
					fmt.Fprintln(stdout, string(data))
					return nil
				}
				return printFrame(f)
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}

			if !jsonOutput && ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "\nDisconnected\n")
			}
			return nil
		},
	}
}

func printFrame(f client.Frame) error {
	switch events.Type(f.Type) {
	case events.TypeInit:
		var init struct {
			Transactions []txn.Record   `json:"transactions"`
			Metrics      stats.Snapshot `json:"metrics"`
		}
		if err := json.Unmarshal(f.Data, &init); err != nil {
			return fmt.Errorf("failed to decode init frame: %w", err)
		}
		fmt.Fprintf(stdout, "[init] %d recent transaction(s), success rate %.2f%%\n",
			len(init.Transactions), init.Metrics.SuccessRate)

	case events.TypeTransaction:
		var rec txn.Record
		if err := json.Unmarshal(f.Data, &rec); err != nil {
			return fmt.Errorf("failed to decode transaction frame: %w", err)
		}
		line := fmt.Sprintf("[transaction] %s %s via %s", rec.Signature, rec.Status, rec.Route)
		if rec.Error != "" {
			line += " error=" + rec.Error
		}
		fmt.Fprintln(stdout, line)

	case events.TypeMetrics:
		var snap stats.Snapshot
		if err := json.Unmarshal(f.Data, &snap); err != nil {
			return fmt.Errorf("failed to decode metrics frame: %w", err)
		}
		fmt.Fprintf(stdout, "[metrics] total=%d pending=%d success=%.2f%% p50=%s\n",
			snap.TotalCount, snap.PendingCount, snap.SuccessRate, formatMs(snap.P50LatencyMs))

	default:
		fmt.Fprintf(stdout, "[%s] %s\n", f.Type, string(f.Data))
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/txn"
	"github.com/urfave/cli/v2"
)

func metricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Show aggregate health metrics for tracked transactions",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			snap, err := cl.Metrics(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get metrics: %w", err)
			}

			if c.Bool("json") {
				return printJSON(snap)
			}

			fmt.Fprintf(stdout, "Tracked:       %d (%d pending, %d failed)\n", snap.TotalCount, snap.PendingCount, snap.FailureCount)
			fmt.Fprintf(stdout, "Success rate:  %.2f%%\n", snap.SuccessRate)
			if snap.RefundRate != nil {
				fmt.Fprintf(stdout, "Refund rate:   %.2f%%\n", *snap.RefundRate)
			} else {
				fmt.Fprintf(stdout, "Refund rate:   n/a\n")
			}
			fmt.Fprintf(stdout, "Latency p50:   %s\n", formatMs(snap.P50LatencyMs))
			fmt.Fprintf(stdout, "Latency p95:   %s\n", formatMs(snap.P95LatencyMs))
			if snap.AvgTipLamports != nil {
				fmt.Fprintf(stdout, "Average tip:   %d lamports\n", *snap.AvgTipLamports)
			}
			fmt.Fprintf(stdout, "Updated:       %s\n", snap.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func schedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Show active and queued poll loops",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			state, err := cl.Scheduler(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get scheduler state: %w", err)
			}

			if c.Bool("json") {
				return printJSON(state)
			}

			fmt.Fprintf(stdout, "Active (%d):\n", len(state.Active))
			for _, sig := range state.Active {
				fmt.Fprintf(stdout, "  %s\n", sig)
			}
			fmt.Fprintf(stdout, "Queued (%d):\n", len(state.Queued))
			for i, sig := range state.Queued {
				fmt.Fprintf(stdout, "  %d. %s\n", i+1, sig)
			}
			return nil
		},
	}
}

func benchmarkRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a simulated route benchmark (mock gateway only)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "runs",
				Aliases: []string{"n"},
				Usage:   "Iterations per route",
				Value:   benchmark.DefaultRuns,
			},
			&cli.StringSliceFlag{
				Name:    "route",
				Aliases: []string{"r"},
				Usage:   "Route to benchmark (repeatable; defaults to rpc, jito and parallel)",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Write per-iteration latencies to this CSV file",
			},
		},
		Action: func(c *cli.Context) error {
			params := benchmark.Params{Runs: c.Int("runs")}
			for _, r := range c.StringSlice("route") {
				params.Routes = append(params.Routes, txn.Route(r))
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			res, err := cl.RunBenchmark(c.Context, params)
			if err != nil {
				return fmt.Errorf("failed to run benchmark: %w", err)
			}

			if path := c.String("csv"); path != "" {
				if err := os.WriteFile(path, []byte(res.CSV), 0o644); err != nil {
					return fmt.Errorf("failed to write csv: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
			}

			if c.Bool("json") {
				return printJSON(res)
			}

			fmt.Fprintf(stdout, "Benchmark %s (%s, %d runs per route)\n\n", res.ID, res.Cluster, res.Runs)
			fmt.Fprintf(stdout, "%-9s %8s %8s %8s %10s %8s\n", "ROUTE", "SUCCESS", "FAILURE", "REFUND", "AVG", "P95")
			for _, s := range res.Stats {
				fmt.Fprintf(stdout, "%-9s %7.1f%% %7.1f%% %7.1f%% %8.1fms %8s\n",
					s.Route, s.SuccessRate, s.FailureRate, s.RefundRate, s.AverageLatencyMs, formatMs(s.P95LatencyMs))
			}
			return nil
		},
	}
}

func demoTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send a server-signed devnet SOL transfer",
		ArgsUsage: "RECIPIENT",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:    "amount",
				Aliases: []string{"a"},
				Usage:   "Amount in SOL",
				Value:   0.001,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("recipient address is required")
			}
			recipient := c.Args().Get(0)

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			res, err := cl.DemoTransfer(c.Context, recipient, c.Float64("amount"))
			if err != nil {
				return fmt.Errorf("demo transfer failed: %w", err)
			}

			if c.Bool("json") {
				return printJSON(res)
			}
			fmt.Fprintf(stdout, "✓ Demo transfer sent\n")
			fmt.Fprintf(stdout, "  Signature:  %s\n", res.Signature)
			fmt.Fprintf(stdout, "  Payer:      %s\n", res.Payer)
			fmt.Fprintf(stdout, "  Amount:     %d lamports\n", res.Lamports)
			return nil
		},
	}
}

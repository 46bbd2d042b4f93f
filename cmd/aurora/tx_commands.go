package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brojonat/aurora/client"
	"github.com/brojonat/aurora/service/txn"
	"github.com/urfave/cli/v2"
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Transaction submission and inspection commands",
		Subcommands: []*cli.Command{
			txSendCommand(),
			txBuildCommand(),
			txStatusCommand(),
			txListCommand(),
		},
	}
}

// readPayload takes the base64 transaction from the first argument, or from
// --file when given ("-" reads stdin).
func readPayload(c *cli.Context) (string, error) {
	if path := c.String("file"); path != "" {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read transaction: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if c.NArg() < 1 {
		return "", fmt.Errorf("base64 transaction is required (argument or --file)")
	}
	return c.Args().Get(0), nil
}

func txSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Submit a signed transaction and start tracking it",
		ArgsUsage: "[TX_BASE64]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "route",
				Aliases:  []string{"r"},
				Usage:    "Delivery route: rpc, jito or parallel",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "tip",
				Usage: "Jito tip in lamports (defaults to the server's tip for tipped routes)",
			},
			&cli.StringFlag{
				Name:  "payer",
				Usage: "Fee payer address, for display only",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the base64 transaction from a file (- for stdin)",
			},
		},
		Action: func(c *cli.Context) error {
			payload, err := readPayload(c)
			if err != nil {
				return err
			}

			route := txn.Route(c.String("route"))
			if !route.IsRequestable() {
				return fmt.Errorf("invalid route %q: must be rpc, jito or parallel", route)
			}

			req := client.SendRequest{
				TxB64: payload,
				Route: route,
				Payer: c.String("payer"),
			}
			if c.IsSet("tip") {
				tip := c.Uint64("tip")
				req.JitoTipLamports = &tip
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			res, err := cl.Send(c.Context, req)
			if err != nil {
				return fmt.Errorf("failed to send transaction: %w", err)
			}

			if c.Bool("json") {
				return printJSON(res)
			}
			fmt.Fprintf(stdout, "✓ Transaction sent\n")
			fmt.Fprintf(stdout, "  Signature:  %s\n", res.Signature)
			fmt.Fprintf(stdout, "  Route:      %s (used %s)\n", res.RouteRequested, res.RouteUsed)
			if res.JitoTipLamports != nil {
				fmt.Fprintf(stdout, "  Tip:        %d lamports\n", *res.JitoTipLamports)
			}
			return nil
		},
	}
}

func txBuildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Have the gateway build a transaction from an unsigned payload",
		ArgsUsage: "[TX_BASE64]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the base64 payload from a file (- for stdin)",
			},
			&cli.StringFlag{
				Name:  "options",
				Usage: "Builder options as a JSON object",
			},
		},
		Action: func(c *cli.Context) error {
			payload, err := readPayload(c)
			if err != nil {
				return err
			}

			var options map[string]any
			if raw := c.String("options"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &options); err != nil {
					return fmt.Errorf("invalid --options: must be a JSON object: %w", err)
				}
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			res, err := cl.Build(c.Context, payload, options)
			if err != nil {
				return fmt.Errorf("failed to build transaction: %w", err)
			}
			return printJSON(res)
		},
	}
}

func txStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the current status of a signature",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signature is required")
			}
			signature := c.Args().Get(0)

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			raw, err := cl.Status(c.Context, signature)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if c.Bool("json") {
				var v any
				if err := json.Unmarshal(raw, &v); err != nil {
					return fmt.Errorf("failed to decode status: %w", err)
				}
				return printJSON(v)
			}

			var rec txn.Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("failed to decode status: %w", err)
			}
			printRecordDetailed(rec)
			return nil
		},
	}
}

func txListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List tracked transactions, most recent first (outputs JSON by default)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions (server default 200)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter evaluated against each record; all must be truthy (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "table",
				Aliases: []string{"t"},
				Usage:   "Output as human-readable table instead of JSON",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			list, err := cl.List(c.Context, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			records, err := filterRecords(list.Transactions, filters)
			if err != nil {
				return err
			}

			// Default to JSON output
			if !c.Bool("table") {
				return printJSON(records)
			}

			if len(records) == 0 {
				fmt.Fprintln(stdout, "No transactions tracked")
				return nil
			}
			fmt.Fprintf(stdout, "Found %d transaction(s):\n\n", len(records))
			fmt.Fprintf(stdout, "%-90s %-9s %-9s %-10s %s\n", "SIGNATURE", "ROUTE", "USED", "STATUS", "UPDATED")
			for _, rec := range records {
				fmt.Fprintf(stdout, "%-90s %-9s %-9s %-10s %s\n",
					rec.Signature, rec.Route, orDash(string(rec.RouteUsed)), rec.Status, formatTime(&rec.UpdatedAt))
			}
			return nil
		},
	}
}

func filterRecords(records []txn.Record, filters jqFilters) ([]txn.Record, error) {
	out := make([]txn.Record, 0, len(records))
	for _, rec := range records {
		ok, err := filters.match(rec)
		if err != nil {
			return nil, fmt.Errorf("jq filter error on %s: %w", rec.Signature, err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func printRecordDetailed(rec txn.Record) {
	fmt.Fprintln(stdout, divider)
	fmt.Fprintf(stdout, "Signature:   %s\n", rec.Signature)
	fmt.Fprintf(stdout, "Status:      %s\n", rec.Status)
	if rec.Route != "" {
		fmt.Fprintf(stdout, "Route:       %s (used %s)\n", rec.Route, orDash(string(rec.RouteUsed)))
	}
	if rec.Slot != nil {
		fmt.Fprintf(stdout, "Slot:        %d\n", *rec.Slot)
	}
	if rec.TipLamports != nil {
		fmt.Fprintf(stdout, "Tip:         %d lamports\n", *rec.TipLamports)
	}
	if rec.Refund != nil {
		fmt.Fprintf(stdout, "Refunded:    %t\n", *rec.Refund)
	}
	if rec.Error != "" {
		fmt.Fprintf(stdout, "Error:       %s\n", rec.Error)
	}
	if latency, ok := rec.Latency(); ok && !rec.CreatedAt.IsZero() {
		fmt.Fprintf(stdout, "Latency:     %dms\n", latency.Milliseconds())
	}
	if len(rec.Timeline) > 0 {
		fmt.Fprintln(stdout, "Timeline:")
		for _, e := range rec.Timeline {
			fmt.Fprintf(stdout, "  %-10s %s\n", e.Phase, formatTime(&e.Timestamp))
		}
	}
	fmt.Fprintln(stdout, divider)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

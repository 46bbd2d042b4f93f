package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "aurora",
		Usage: "Solana transaction lifecycle tracker CLI",
		Description: `A command-line tool for submitting transactions to the aurora service
and watching them move through their lifecycle.

Use this CLI to send and inspect transactions, follow the live event stream,
run route benchmarks, and debug the NATS relay.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Transaction commands (HTTP API)
			txCommands(),
			// Derived state
			metricsCommand(),
			schedulerCommand(),
			// Live event stream
			streamCommand(),
			// Benchmark and demo commands
			{
				Name:  "benchmark",
				Usage: "Route benchmark commands",
				Subcommands: []*cli.Command{
					benchmarkRunCommand(),
				},
			},
			{
				Name:  "demo",
				Usage: "Devnet demo commands",
				Subcommands: []*cli.Command{
					demoTransferCommand(),
				},
			},
			// NATS event relay commands
			{
				Name:  "nats",
				Usage: "NATS event relay commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Aliases: []string{"s"},
			Usage:   "Aurora server URL",
			EnvVars: []string{"AURORA_SERVER_URL", "SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}

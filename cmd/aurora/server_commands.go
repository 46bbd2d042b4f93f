package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if err := cl.Health(ctx); err != nil {
				return fmt.Errorf("server is unhealthy: %w", err)
			}

			fmt.Fprintf(stdout, "✓ Server is healthy\n")
			fmt.Fprintf(stdout, "  URL: %s\n", c.String("server-url"))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(stdout, "aurora CLI\n")
			fmt.Fprintf(stdout, "  Version: %s\n", version)
			fmt.Fprintf(stdout, "  Commit:  %s\n", commit)
			fmt.Fprintf(stdout, "  Built:   %s\n", date)
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/aurora/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set AURORA_SERVER_URL env var or use --server-url)")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(serverURL, nil, logger), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

// jqFilters holds compiled jq expressions that must all be truthy for a value to match.
type jqFilters []*gojq.Code

func compileJQ(filters []string) (jqFilters, error) {
	compiled := make(jqFilters, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// match evaluates every filter against v. v is first normalized to the
// generic JSON shape gojq operates on.
func (f jqFilters) match(v any) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return false, err
	}

	for _, code := range f {
		iter := code.Run(generic)
		result, ok := iter.Next()
		if !ok {
			// No result means filter failed
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, err
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatMs(v *int64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%dms", *v)
}

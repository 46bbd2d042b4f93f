// Package benchmark simulates route latency and outcome distributions so
// routes can be compared without sending real transactions.
package benchmark

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/txn"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRuns = 50
	MaxRuns     = 10_000

	latencyFloorMs = 250
)

var (
	// ErrLiveMode is returned when a benchmark is requested against a live gateway.
	ErrLiveMode = errors.New("benchmark mode currently available only when MOCK_GATEWAY=true")

	// ErrInvalidParams wraps every rejected parameter set.
	ErrInvalidParams = errors.New("invalid benchmark parameters")
)

// Params selects what to simulate. Zero values fall back to defaults.
type Params struct {
	Runs   int         `json:"runs,omitempty"`
	Routes []txn.Route `json:"routes,omitempty"`
}

// RouteStats summarizes one route's simulated runs.
type RouteStats struct {
	Route            txn.Route `json:"route"`
	SuccessRate      float64   `json:"success_rate"`
	FailureRate      float64   `json:"failure_rate"`
	RefundRate       float64   `json:"refund_rate"`
	AverageLatencyMs float64   `json:"average_latency_ms"`
	P95LatencyMs     *int64    `json:"p95_latency_ms"`
}

// Result is a completed benchmark with its raw samples rendered as CSV.
type Result struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Cluster   string       `json:"cluster"`
	Routes    []txn.Route  `json:"routes"`
	Runs      int          `json:"runs"`
	Stats     []RouteStats `json:"stats"`
	CSV       string       `json:"csv"`
}

// Runner executes simulated benchmarks.
type Runner struct {
	cluster  string
	mockMode bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
	newRand  func() *rand.Rand
	now      func() time.Time
}

// NewRunner creates a runner. Benchmarks are refused unless mockMode is set.
func NewRunner(cluster string, mockMode bool, m *metrics.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		cluster:  cluster,
		mockMode: mockMode,
		metrics:  m,
		logger:   logger,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run simulates p.Runs submissions on each route. Routes are simulated concurrently.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	if !r.mockMode {
		r.record("rejected")
		return nil, ErrLiveMode
	}

	runs := p.Runs
	if runs <= 0 {
		runs = DefaultRuns
	}
	if runs > MaxRuns {
		r.record("rejected")
		return nil, fmt.Errorf("%w: runs must be at most %d", ErrInvalidParams, MaxRuns)
	}

	routes := p.Routes
	if len(routes) == 0 {
		routes = append([]txn.Route(nil), txn.RequestedRoutes...)
	}
	for _, route := range routes {
		if !route.IsRequestable() {
			r.record("rejected")
			return nil, fmt.Errorf("%w: unknown route %q", ErrInvalidParams, route)
		}
	}

	routeStats := make([]RouteStats, len(routes))
	samples := make([][]int64, len(routes))

	g, gctx := errgroup.WithContext(ctx)
	for i, route := range routes {
		rng := r.newRand()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			routeStats[i], samples[i] = simulateRoute(route, runs, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.record("error")
		return nil, fmt.Errorf("benchmark: %w", err)
	}

	out, err := toCSV(routes, samples)
	if err != nil {
		r.record("error")
		return nil, err
	}

	result := &Result{
		ID:        uuid.NewString(),
		CreatedAt: r.now(),
		Cluster:   r.cluster,
		Routes:    routes,
		Runs:      runs,
		Stats:     routeStats,
		CSV:       out,
	}
	r.record("ok")
	r.logger.InfoContext(ctx, "benchmark completed",
		"id", result.ID,
		"routes", len(routes),
		"runs", runs,
	)
	return result, nil
}

func (r *Runner) record(status string) {
	if r.metrics != nil {
		r.metrics.RecordBenchmarkRun(status)
	}
}

func simulateRoute(route txn.Route, runs int, rng *rand.Rand) (RouteStats, []int64) {
	samples := make([]int64, 0, runs)
	var successes, refunds int

	for i := 0; i < runs; i++ {
		var baseline float64
		switch route {
		case txn.RouteParallel:
			baseline = between(rng, 450, 850)
		case txn.RouteJito:
			baseline = between(rng, 550, 1000)
		default:
			baseline = between(rng, 750, 1400)
		}
		latency := math.Round(baseline + between(rng, -60, 120))
		samples = append(samples, max(latencyFloorMs, int64(latency)))

		failRate := 0.015
		if route == txn.RouteRPC {
			failRate = 0.04
		}
		failed := rng.Float64() < failRate
		if !failed {
			successes++
		}
		if !failed && route != txn.RouteRPC {
			refundRate := 0.15
			if route == txn.RouteParallel {
				refundRate = 0.5
			}
			if rng.Float64() < refundRate {
				refunds++
			}
		}
	}

	var sum int64
	for _, s := range samples {
		sum += s
	}

	successRate := float64(successes) / float64(runs) * 100
	return RouteStats{
		Route:            route,
		SuccessRate:      roundTo(successRate, 2),
		FailureRate:      roundTo(100-successRate, 2),
		RefundRate:       roundTo(float64(refunds)/float64(runs)*100, 2),
		AverageLatencyMs: roundTo(float64(sum)/float64(len(samples)), 1),
		P95LatencyMs:     stats.Percentile(samples, 95),
	}, samples
}

func between(rng *rand.Rand, lo, hi float64) float64 {
	return rng.Float64()*(hi-lo) + lo
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func toCSV(routes []txn.Route, samples [][]int64) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"route", "iteration", "latencyMs"}); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for i, route := range routes {
		for j, latency := range samples[i] {
			row := []string{string(route), strconv.Itoa(j + 1), strconv.FormatInt(latency, 10)}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

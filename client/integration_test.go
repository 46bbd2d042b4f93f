package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/aurora/client"
	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/config"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/gateway"
	"github.com/brojonat/aurora/service/server"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/brojonat/aurora/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEndToEnd_MockGateway drives a full server with the mock gateway and
// the real scheduler until the sent transaction reaches a terminal state.
func TestEndToEnd_MockGateway(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Cluster:                 config.ClusterDevnet,
		MockGateway:             true,
		DefaultJitoTipLamports:  50_000,
		PollInterval:            100 * time.Millisecond,
		MaxActivePollers:        10,
		StreamHeartbeatInterval: time.Second,
		StreamBufferSize:        64,
	}

	gw := gateway.NewMockGateway(cfg.DefaultJitoTipLamports, logger)
	bus := events.NewBus(logger, nil)
	tr := tracker.New(gw, bus, tracker.Options{MaxActive: cfg.MaxActivePollers, Interval: cfg.PollInterval}, nil, logger)
	defer tr.Close()
	bench := benchmark.NewRunner(cfg.Cluster, cfg.MockGateway, nil, logger)

	srv := server.New(":0", cfg, tr, bus, gw, bench, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := client.NewClient(ts.URL, nil, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Health(ctx))

	// Collect stream frames while the transaction progresses.
	seen := make(chan string, 256)
	go func() {
		_ = c.Stream(ctx, func(f client.Frame) error {
			if f.Type != string(events.TypeTransaction) {
				return nil
			}
			var rec txn.Record
			if err := json.Unmarshal(f.Data, &rec); err == nil {
				seen <- string(rec.Status)
			}
			return nil
		})
	}()

	res, err := c.Send(ctx, client.SendRequest{TxB64: "AAAA", Route: txn.RouteJito})
	require.NoError(t, err)
	assert.Equal(t, txn.RouteMock, res.RouteUsed)
	assert.Equal(t, uint64(50_000), *res.JitoTipLamports)

	var final txn.Record
	require.Eventually(t, func() bool {
		raw, err := c.Status(ctx, res.Signature)
		if err != nil {
			return false
		}
		if err := json.Unmarshal(raw, &final); err != nil {
			return false
		}
		return final.Status.IsTerminal()
	}, 8*time.Second, 100*time.Millisecond)

	assert.True(t, final.HasPhase(txn.PhaseForwarded))
	assert.NotNil(t, final.ConfirmTime)

	snap, err := c.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalCount)
	assert.Equal(t, 0, snap.PendingCount)

	require.Eventually(t, func() bool {
		state, err := c.Scheduler(ctx)
		return err == nil && len(state.Active) == 0 && len(state.Queued) == 0
	}, 2*time.Second, 50*time.Millisecond)

	list, err := c.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	assert.Equal(t, res.Signature, list.Transactions[0].Signature)

	bres, err := c.RunBenchmark(ctx, benchmark.Params{Runs: 3})
	require.NoError(t, err)
	assert.Len(t, bres.Stats, 3)

	_, err = c.DemoTransfer(ctx, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", 0.01)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.StatusCode)

	assert.Eventually(t, func() bool { return len(seen) > 0 }, 2*time.Second, 20*time.Millisecond)
}

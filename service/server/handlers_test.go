package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/config"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/gateway"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/brojonat/aurora/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSig = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway implements gateway.Gateway with canned responses.
type fakeGateway struct {
	mu        sync.Mutex
	signature string
	sendErr   error
	statuses  map[string]*txn.StatusUpdate
	statusErr error
	builds    []gateway.BuildRequest
	sends     []gateway.SendRequest
}

func (g *fakeGateway) Build(ctx context.Context, req gateway.BuildRequest) (*gateway.BuildResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.builds = append(g.builds, req)
	return &gateway.BuildResult{TxB64: "BUILT:" + req.TxB64}, nil
}

func (g *fakeGateway) Send(ctx context.Context, req gateway.SendRequest) (*gateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.sends = append(g.sends, req)
	return &gateway.SendResult{Signature: g.signature, RouteUsed: txn.RouteMock}, nil
}

func (g *fakeGateway) FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.statuses[signature], nil
}

type fakeDemo struct {
	err error
}

func (d fakeDemo) Send(ctx context.Context, recipient string, lamports uint64) (*gateway.DemoResult, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &gateway.DemoResult{Signature: testSig, Payer: "Payer1111111111111111111111111111", Lamports: lamports}, nil
}

type testEnv struct {
	server  *Server
	tracker *tracker.Tracker
	bus     *events.Bus
	gateway *fakeGateway
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Cluster:                 config.ClusterDevnet,
		MockGateway:             true,
		DefaultJitoTipLamports:  50_000,
		PollInterval:            time.Hour,
		MaxActivePollers:        10,
		StreamHeartbeatInterval: 50 * time.Millisecond,
		StreamBufferSize:        16,
	}
	if mutate != nil {
		mutate(cfg)
	}

	gw := &fakeGateway{signature: testSig, statuses: map[string]*txn.StatusUpdate{}}
	bus := events.NewBus(testLogger(), nil)
	tr := tracker.New(tracker.StatusProviderFunc(func(ctx context.Context, sig string) (*txn.StatusUpdate, error) {
		return nil, nil
	}), bus, tracker.Options{MaxActive: cfg.MaxActivePollers, Interval: cfg.PollInterval}, nil, testLogger())
	t.Cleanup(tr.Close)

	bench := benchmark.NewRunner(cfg.Cluster, cfg.MockGateway, nil, testLogger())
	srv := New(":0", cfg, tr, bus, gw, bench, nil, testLogger())

	return &testEnv{server: srv, tracker: tr, bus: bus, gateway: gw, handler: srv.Handler()}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestSendTransaction(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do("POST", "/api/v1/tx/send", `{"tx_b64":"AAAA","route":"jito"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, testSig, resp["signature"])
	assert.Equal(t, "jito", resp["route_requested"])
	assert.Equal(t, "mock", resp["route_used"])
	assert.Equal(t, float64(50_000), resp["jito_tip_lamports"])

	got, ok := env.tracker.Get(testSig)
	require.True(t, ok)
	assert.Equal(t, txn.StatusForwarded, got.Status)
	assert.Equal(t, txn.RouteJito, got.Route)
	assert.Equal(t, txn.RouteMock, got.RouteUsed)
	assert.Equal(t, uint64(50_000), *got.TipLamports)
	assert.True(t, got.HasPhase(txn.PhaseForwarded))
}

func TestSendTransaction_Tips(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantTip *uint64
	}{
		{name: "rpc has no default tip", body: `{"tx_b64":"AAAA","route":"rpc"}`},
		{name: "explicit tip wins", body: `{"tx_b64":"AAAA","route":"rpc","jito_tip_lamports":1234}`, wantTip: txn.Ptr(uint64(1234))},
		{name: "non-positive tip falls back", body: `{"tx_b64":"AAAA","route":"parallel","jito_tip_lamports":0}`, wantTip: txn.Ptr(uint64(50_000))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do("POST", "/api/v1/tx/send", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			got, ok := env.tracker.Get(testSig)
			require.True(t, ok)
			assert.Equal(t, tt.wantTip, got.TipLamports)

			require.Len(t, env.gateway.sends, 1)
			assert.Equal(t, tt.wantTip, env.gateway.sends[0].TipLamports)
		})
	}
}

func TestSendTransaction_PathologicalInput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "extremely large request body",
			body:    `{"tx_b64":"` + strings.Repeat("A", 2*1024*1024) + `","route":"rpc"}`,
			wantErr: "request body too large",
		},
		{name: "malformed JSON", body: `{"tx_b64":`, wantErr: "invalid request body"},
		{name: "missing tx", body: `{"route":"rpc"}`, wantErr: "tx_b64 is required"},
		{name: "missing route", body: `{"tx_b64":"AAAA"}`, wantErr: "invalid or missing route"},
		{name: "live route requested", body: `{"tx_b64":"AAAA","route":"tpg"}`, wantErr: "invalid or missing route"},
		{name: "bad payer", body: `{"tx_b64":"AAAA","route":"rpc","payer":"0OIl"}`, wantErr: "invalid payer"},
		{name: "payer with control characters", body: `{"tx_b64":"AAAA","route":"rpc","payer":"abc\u0000def"}`, wantErr: "control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do("POST", "/api/v1/tx/send", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
			assert.Empty(t, env.gateway.sends)
		})
	}
}

func TestSendTransaction_Duplicate(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do("POST", "/api/v1/tx/send", `{"tx_b64":"AAAA","route":"rpc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("POST", "/api/v1/tx/send", `{"tx_b64":"AAAA","route":"rpc"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendTransaction_GatewayError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gateway.sendErr = errors.New("TPG sendTransaction: blockhash expired")

	rec := env.do("POST", "/api/v1/tx/send", `{"tx_b64":"AAAA","route":"rpc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "blockhash expired")
	assert.Empty(t, env.tracker.List(0))
}

func TestBuildTransaction(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantTx      string
		wantOptions map[string]any
	}{
		{name: "tx_b64", body: `{"tx_b64":"AAAA","options":{"cuPriceRange":"low"}}`, wantStatus: 200, wantTx: "AAAA", wantOptions: map[string]any{"cuPriceRange": "low"}},
		{name: "message_b64 fallback", body: `{"message_b64":"BBBB"}`, wantStatus: 200, wantTx: "BBBB"},
		{name: "non-object options dropped", body: `{"tx_b64":"CCCC","options":"fast"}`, wantStatus: 200, wantTx: "CCCC"},
		{name: "missing payload", body: `{}`, wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do("POST", "/api/v1/tx/build", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}

			var res gateway.BuildResult
			decodeBody(t, rec, &res)
			assert.Equal(t, "BUILT:"+tt.wantTx, res.TxB64)
			require.Len(t, env.gateway.builds, 1)
			assert.Equal(t, tt.wantOptions, env.gateway.builds[0].Options)
		})
	}
}

func TestTransactionStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.tracker.Create(testSig, txn.RouteRPC, "", nil)
	require.NoError(t, err)

	untracked := "mock-0f8fad5b-d9cb-469f-a165-70867728950e"
	env.gateway.statuses[untracked] = &txn.StatusUpdate{Signature: untracked, Status: txn.StatusLanded}

	t.Run("tracked", func(t *testing.T) {
		rec := env.do("GET", "/api/v1/tx/"+testSig+"/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got txn.Record
		decodeBody(t, rec, &got)
		assert.Equal(t, testSig, got.Signature)
		assert.Equal(t, txn.StatusPending, got.Status)
		require.Len(t, got.Timeline, 1)
	})

	t.Run("untracked from gateway", func(t *testing.T) {
		rec := env.do("GET", "/api/v1/tx/"+untracked+"/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got txn.StatusUpdate
		decodeBody(t, rec, &got)
		assert.Equal(t, txn.StatusLanded, got.Status)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := env.do("GET", "/api/v1/tx/mock-00000000-0000-0000-0000-000000000000/status", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		rec := env.do("GET", "/api/v1/tx/not%20base58!/status", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("gateway error", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.gateway.statusErr = errors.New("rpc unavailable")
		rec := env.do("GET", "/api/v1/tx/"+testSig+"/status", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, sig := range []string{"sigA", "sigB", "sigC"} {
		_, err := env.tracker.Create(sig, txn.RouteRPC, "", nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{name: "default limit", query: "", wantStatus: 200, wantCount: 3},
		{name: "explicit limit", query: "?limit=2", wantStatus: 200, wantCount: 2},
		{name: "zero limit", query: "?limit=0", wantStatus: 400},
		{name: "not a number", query: "?limit=abc", wantStatus: 400},
		{name: "over maximum", query: "?limit=1001", wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("GET", "/api/v1/transactions"+tt.query, "")
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp struct {
				Transactions []txn.Record `json:"transactions"`
				Count        int          `json:"count"`
			}
			decodeBody(t, rec, &resp)
			assert.Len(t, resp.Transactions, tt.wantCount)
			assert.Equal(t, tt.wantCount, resp.Count)
		})
	}
}

func TestMetricsAndScheduler(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.MaxActivePollers = 1 })
	for _, sig := range []string{"sigA", "sigB"} {
		_, err := env.tracker.Create(sig, txn.RouteRPC, "", nil)
		require.NoError(t, err)
	}

	rec := env.do("GET", "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap stats.Snapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, 2, snap.TotalCount)
	assert.Equal(t, 2, snap.PendingCount)
	assert.Nil(t, snap.P50LatencyMs)

	rec = env.do("GET", "/api/v1/scheduler", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state tracker.SchedulerState
	decodeBody(t, rec, &state)
	assert.Equal(t, []string{"sigA"}, state.Active)
	assert.Equal(t, []string{"sigB"}, state.Queued)
}

func TestRunBenchmark(t *testing.T) {
	env := newTestEnv(t, nil)
	var published []events.Event
	env.bus.Subscribe(func(e events.Event) error {
		published = append(published, e)
		return nil
	})

	rec := env.do("POST", "/api/v1/benchmarks/run", `{"runs":10,"routes":["jito","parallel"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res benchmark.Result
	decodeBody(t, rec, &res)
	assert.Equal(t, 10, res.Runs)
	assert.Len(t, res.Stats, 2)
	assert.True(t, strings.HasPrefix(res.CSV, "route,iteration,latencyMs"))

	require.Len(t, published, 1)
	assert.Equal(t, events.TypeBenchmark, published[0].Type)
	assert.Equal(t, res.ID, published[0].Payload.(benchmark.Result).ID)
}

func TestRunBenchmark_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mock    bool
		body    string
		wantErr string
	}{
		{name: "live mode", mock: false, body: `{}`, wantErr: "MOCK_GATEWAY=true"},
		{name: "unknown route", mock: true, body: `{"routes":["warp"]}`, wantErr: "unknown route"},
		{name: "malformed", mock: true, body: `{"runs":`, wantErr: "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *config.Config) { cfg.MockGateway = tt.mock })
			rec := env.do("POST", "/api/v1/benchmarks/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}
}

func TestRunBenchmark_EmptyBodyUsesDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest("POST", "/api/v1/benchmarks/run", http.NoBody)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res benchmark.Result
	decodeBody(t, rec, &res)
	assert.Equal(t, benchmark.DefaultRuns, res.Runs)
	assert.Len(t, res.Routes, 3)
}

func TestDemoTransfer(t *testing.T) {
	const recipient = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.server.WithDemo(fakeDemo{})
		env.handler = env.server.Handler()

		rec := env.do("POST", "/api/v1/demo/transfer", `{"to":"`+recipient+`","amount_sol":"0.01"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res gateway.DemoResult
		decodeBody(t, rec, &res)
		assert.Equal(t, testSig, res.Signature)
		assert.Equal(t, uint64(10_000_000), res.Lamports)

		got, ok := env.tracker.Get(testSig)
		require.True(t, ok)
		assert.Equal(t, txn.RouteTPG, got.Route)
		assert.Equal(t, txn.StatusForwarded, got.Status)
		assert.Equal(t, res.Payer, got.Payer)
	})

	tests := []struct {
		name       string
		cluster    string
		demo       DemoSender
		body       string
		wantStatus int
	}{
		{name: "mainnet refused", cluster: config.ClusterMainnet, demo: fakeDemo{}, body: `{}`, wantStatus: 400},
		{name: "no payer configured", cluster: config.ClusterDevnet, body: `{}`, wantStatus: 503},
		{name: "missing recipient", cluster: config.ClusterDevnet, demo: fakeDemo{}, body: `{"amount_sol":1}`, wantStatus: 400},
		{name: "negative amount", cluster: config.ClusterDevnet, demo: fakeDemo{}, body: `{"to":"` + recipient + `","amount_sol":-1}`, wantStatus: 400},
		{name: "non-numeric amount", cluster: config.ClusterDevnet, demo: fakeDemo{}, body: `{"to":"` + recipient + `","amount_sol":"lots"}`, wantStatus: 400},
		{name: "send failure", cluster: config.ClusterDevnet, demo: fakeDemo{err: errors.New("boom")}, body: `{"to":"` + recipient + `","amount_sol":1}`, wantStatus: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *config.Config) { cfg.Cluster = tt.cluster })
			if tt.demo != nil {
				env.server.WithDemo(tt.demo)
			}
			env.handler = env.server.Handler()

			rec := env.do("POST", "/api/v1/demo/transfer", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestParseAmountToLamports(t *testing.T) {
	lamports, err := parseAmountToLamports(1.5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), lamports)

	lamports, err = parseAmountToLamports(" 0.25 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000_000), lamports)

	for _, bad := range []any{nil, true, "NaN", 0.0, "-3"} {
		_, err := parseAmountToLamports(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestValidateSignature(t *testing.T) {
	assert.NoError(t, validateSignature(testSig))
	assert.NoError(t, validateSignature("mock-0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Error(t, validateSignature(""))
	assert.Error(t, validateSignature(strings.Repeat("A", 200)))
	assert.Error(t, validateSignature("mock-not-a-uuid"))
	assert.Error(t, validateSignature("sig\nnewline"))
}

func TestCORSAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do("OPTIONS", "/api/v1/tx/send", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = env.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics endpoint is disabled without a collector")
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, "nope", http.StatusTeapot)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"nope"}`, strings.TrimSpace(rec.Body.String()))
}

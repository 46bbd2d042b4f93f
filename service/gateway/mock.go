package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/brojonat/aurora/service/txn"
	"github.com/google/uuid"
)

const (
	mockFailRate   = 0.1
	mockRefundRate = 0.1
	mockFailError  = "Transaction simulation failed"
)

type mockStep struct {
	status txn.Status
	at     time.Time
	refund bool
	err    string
}

type mockTx struct {
	slot  uint64
	tip   uint64
	steps []mockStep
}

// MockGateway simulates a gateway in memory. Every sent transaction walks a
// scripted timeline: forwarded after 200-600ms, then landed or failed after
// 1100-2300ms.
type MockGateway struct {
	mu         sync.Mutex
	txs        map[string]*mockTx
	rng        *rand.Rand
	now        func() time.Time
	defaultTip uint64
	logger     *slog.Logger
}

// NewMockGateway creates a simulated gateway that reports defaultTip on every send.
func NewMockGateway(defaultTip uint64, logger *slog.Logger) *MockGateway {
	return &MockGateway{
		txs:        make(map[string]*mockTx),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:        func() time.Time { return time.Now().UTC() },
		defaultTip: defaultTip,
		logger:     logger,
	}
}

func (g *MockGateway) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	g.mu.Lock()
	tag := g.randomTag()
	height := g.rng.Uint64N(1_000_000)
	g.mu.Unlock()

	return &BuildResult{
		TxB64: base64.StdEncoding.EncodeToString([]byte("mock-tx-" + tag)),
		LatestBlockhash: map[string]any{
			"blockhash":            "mock-" + tag[:8],
			"lastValidBlockHeight": height,
		},
	}, nil
}

func (g *MockGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	signature := "mock-" + uuid.NewString()

	g.mu.Lock()
	now := g.now()
	fail := g.rng.Float64() < mockFailRate
	refund := !fail && g.rng.Float64() < mockRefundRate

	final := mockStep{
		status: txn.StatusLanded,
		at:     now.Add(time.Duration(1100+g.rng.IntN(1200)) * time.Millisecond),
		refund: refund,
	}
	if fail {
		final.status = txn.StatusFailed
		final.err = mockFailError
	}

	g.txs[signature] = &mockTx{
		slot: g.rng.Uint64N(200_000),
		tip:  g.defaultTip,
		steps: []mockStep{
			{status: txn.StatusForwarded, at: now.Add(time.Duration(200+g.rng.IntN(400)) * time.Millisecond)},
			final,
		},
	}
	g.mu.Unlock()

	g.logger.DebugContext(ctx, "mock transaction scheduled",
		"signature", signature,
		"route", req.Route,
		"final_status", final.status,
		"final_at", final.at,
	)

	return &SendResult{Signature: signature, RouteUsed: txn.RouteMock}, nil
}

// FetchStatus reports the latest scripted step reached. Unknown signatures,
// and signatures whose first step is still in the future, are absent.
func (g *MockGateway) FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[signature]
	if !ok {
		return nil, nil
	}

	now := g.now()
	var reached *mockStep
	for i := range tx.steps {
		if !now.Before(tx.steps[i].at) {
			reached = &tx.steps[i]
		}
	}
	if reached == nil {
		return nil, nil
	}

	upd := &txn.StatusUpdate{
		Signature:   signature,
		Status:      reached.status,
		Slot:        txn.Ptr(tx.slot),
		TipLamports: txn.Ptr(tx.tip),
		RouteUsed:   txn.RouteMock,
		Error:       reached.err,
	}
	if reached.status.IsTerminal() {
		upd.ConfirmTime = txn.Ptr(reached.at)
		upd.Refund = txn.Ptr(reached.refund)
	}
	return upd, nil
}

// randomTag must be called with g.mu held.
func (g *MockGateway) randomTag() string {
	return fmt.Sprintf("%016x", g.rng.Uint64())
}

package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/txn"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"
)

const providerName = "solana_rpc"

// Client resolves signature statuses against a Solana RPC endpoint.
// Calls share a rate limiter so every poll loop together stays under the
// endpoint's request budget.
type Client struct {
	rpc      RPCClient
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	now      func() time.Time
}

// NewClient creates a new Solana client limited to rps requests per second.
// A non-positive rps disables limiting. If m is nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, rps float64, m *metrics.Metrics, logger *slog.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Client{
		rpc:      rpcClient,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FetchStatus queries getSignatureStatuses with transaction history search.
// It returns nil when the cluster has no record of the signature yet.
func (c *Client) FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderCall(providerName, "error", duration)
			if strings.Contains(err.Error(), "429") {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}

	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		if c.metrics != nil {
			c.metrics.RecordProviderCall(providerName, "absent", duration)
		}
		c.logger.DebugContext(ctx, "signature not visible yet", "signature", signature)
		return nil, nil
	}
	if c.metrics != nil {
		c.metrics.RecordProviderCall(providerName, "found", duration)
	}

	info := result.Value[0]
	upd := &txn.StatusUpdate{
		Signature: signature,
		RouteUsed: txn.RouteTPG,
	}
	if info.Slot > 0 {
		upd.Slot = txn.Ptr(info.Slot)
	}

	switch {
	case info.Err != nil:
		upd.Status = txn.StatusFailed
		upd.ConfirmTime = txn.Ptr(c.now())
		upd.Error = normalizeRPCError(info.Err)
	case info.ConfirmationStatus != "":
		upd.Status = txn.StatusLanded
		upd.ConfirmTime = txn.Ptr(c.now())
	}

	c.logger.DebugContext(ctx, "fetched signature status",
		"signature", signature,
		"status", upd.Status,
		"confirmation_status", info.ConfirmationStatus,
		"slot", info.Slot,
	)
	return upd, nil
}

// normalizeRPCError renders an RPC transaction error as a message.
func normalizeRPCError(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "Unknown error"
	}
	return string(data)
}

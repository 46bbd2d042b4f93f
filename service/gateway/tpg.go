package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/aurora/service/metrics"
	"github.com/gagliardetto/solana-go/rpc"
)

const tpgProvider = "sanctum_tpg"

// TPGClient speaks JSON-RPC to Sanctum's Transaction Processing Gateway.
type TPGClient struct {
	rpc     *rpc.Client
	cluster string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTPGClient creates a client for {baseURL}/{cluster}?apiKey=... .
func NewTPGClient(baseURL, cluster, apiKey string, m *metrics.Metrics, logger *slog.Logger) (*TPGClient, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint := fmt.Sprintf("%s/%s?apiKey=%s", strings.TrimRight(baseURL, "/"), cluster, url.QueryEscape(apiKey))
	return &TPGClient{
		rpc:     rpc.New(endpoint),
		cluster: cluster,
		metrics: m,
		logger:  logger,
	}, nil
}

type buildGatewayResult struct {
	Transaction     string `json:"transaction"`
	LatestBlockhash any    `json:"latestBlockhash,omitempty"`
}

// BuildGatewayTransaction calls buildGatewayTransaction(txB64, options).
func (c *TPGClient) BuildGatewayTransaction(ctx context.Context, txB64 string, options map[string]any) (*BuildResult, error) {
	if options == nil {
		options = map[string]any{}
	}

	var out buildGatewayResult
	if err := c.call(ctx, &out, "buildGatewayTransaction", []interface{}{txB64, options}); err != nil {
		return nil, err
	}
	if out.Transaction == "" {
		return nil, errors.New("TPG buildGatewayTransaction returned empty result")
	}
	return &BuildResult{TxB64: out.Transaction, LatestBlockhash: out.LatestBlockhash}, nil
}

// SendTransaction calls sendTransaction(txB64[, options]) and returns the signature.
func (c *TPGClient) SendTransaction(ctx context.Context, txB64 string, options map[string]any) (string, error) {
	params := []interface{}{txB64}
	if len(options) > 0 {
		params = append(params, options)
	}

	var signature string
	if err := c.call(ctx, &signature, "sendTransaction", params); err != nil {
		return "", err
	}
	if signature == "" {
		return "", errors.New("TPG sendTransaction returned empty result")
	}
	return signature, nil
}

func (c *TPGClient) call(ctx context.Context, out interface{}, method string, params []interface{}) error {
	start := time.Now()
	err := c.rpc.RPCCallForInto(ctx, out, method, params)
	duration := time.Since(start).Seconds()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordProviderCall(tpgProvider, outcome, duration)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "TPG call failed",
			"method", method,
			"cluster", c.cluster,
			"error", err,
		)
		return fmt.Errorf("TPG %s: %w", method, err)
	}
	return nil
}

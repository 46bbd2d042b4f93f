package gateway

import (
	"context"

	"github.com/brojonat/aurora/service/txn"
)

// LiveGateway builds and sends through TPG and resolves status from Solana RPC.
type LiveGateway struct {
	tpg    *TPGClient
	status StatusSource
}

// NewLiveGateway composes a TPG client with a cluster status source.
func NewLiveGateway(tpg *TPGClient, status StatusSource) *LiveGateway {
	return &LiveGateway{tpg: tpg, status: status}
}

func (g *LiveGateway) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	return g.tpg.BuildGatewayTransaction(ctx, req.TxB64, req.Options)
}

func (g *LiveGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	signature, err := g.tpg.SendTransaction(ctx, req.TxB64, req.Options)
	if err != nil {
		return nil, err
	}
	return &SendResult{Signature: signature, RouteUsed: txn.RouteTPG}, nil
}

func (g *LiveGateway) FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error) {
	return g.status.FetchStatus(ctx, signature)
}

// Package gateway submits transactions and resolves their status, either
// through Sanctum's Transaction Processing Gateway or a local simulation.
package gateway

import (
	"context"
	"errors"

	"github.com/brojonat/aurora/service/txn"
)

// ErrMissingAPIKey is returned when a TPG client is built without credentials.
var ErrMissingAPIKey = errors.New("missing SANCTUM_API_KEY for TPG request")

// BuildRequest asks the gateway to prepare a wire transaction.
type BuildRequest struct {
	TxB64   string         `json:"tx_b64"`
	Options map[string]any `json:"options,omitempty"`
}

// BuildResult is a gateway-prepared transaction ready for signing.
type BuildResult struct {
	TxB64           string `json:"tx_b64"`
	LatestBlockhash any    `json:"latest_blockhash,omitempty"`
}

// SendRequest submits a signed base64 wire transaction.
type SendRequest struct {
	TxB64       string
	Route       txn.Route
	TipLamports *uint64
	Options     map[string]any
}

// SendResult identifies a submitted transaction and the route that carried it.
type SendResult struct {
	Signature string
	RouteUsed txn.Route
}

// Gateway builds, sends and reports on transactions.
// FetchStatus returns nil when the signature is not known yet.
type Gateway interface {
	Build(ctx context.Context, req BuildRequest) (*BuildResult, error)
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error)
}

// StatusSource resolves signature status from the cluster.
type StatusSource interface {
	FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error)
}

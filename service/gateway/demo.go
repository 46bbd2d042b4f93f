package gateway

import (
	"context"
	"fmt"
	"log/slog"

	aurorasolana "github.com/brojonat/aurora/service/solana"
	"github.com/gagliardetto/solana-go"
)

// TransferBuilder signs a SOL transfer for submission.
type TransferBuilder interface {
	BuildTransfer(ctx context.Context, payer solana.PrivateKey, recipient string, lamports uint64) (*aurorasolana.Transfer, error)
}

// TransactionSender submits a signed base64 wire transaction.
type TransactionSender interface {
	SendTransaction(ctx context.Context, txB64 string, options map[string]any) (string, error)
}

// DemoResult identifies a submitted demo transfer.
type DemoResult struct {
	Signature string `json:"signature"`
	Payer     string `json:"payer"`
	Lamports  uint64 `json:"lamports"`
}

// DemoTransfer signs transfers with a server-held devnet key and submits them through TPG.
type DemoTransfer struct {
	builder TransferBuilder
	sender  TransactionSender
	payer   solana.PrivateKey
	logger  *slog.Logger
}

// NewDemoTransfer decodes the base58 payer secret. It returns
// solana.ErrDemoUnavailable when secret is empty.
func NewDemoTransfer(builder TransferBuilder, sender TransactionSender, secret string, logger *slog.Logger) (*DemoTransfer, error) {
	payer, err := aurorasolana.ParsePayerSecret(secret)
	if err != nil {
		return nil, err
	}
	return &DemoTransfer{
		builder: builder,
		sender:  sender,
		payer:   payer,
		logger:  logger,
	}, nil
}

// Payer returns the public key that funds demo transfers.
func (d *DemoTransfer) Payer() string {
	return d.payer.PublicKey().String()
}

// Send transfers lamports to recipient and returns the gateway signature.
func (d *DemoTransfer) Send(ctx context.Context, recipient string, lamports uint64) (*DemoResult, error) {
	transfer, err := d.builder.BuildTransfer(ctx, d.payer, recipient, lamports)
	if err != nil {
		return nil, fmt.Errorf("build demo transfer: %w", err)
	}

	signature, err := d.sender.SendTransaction(ctx, transfer.TxB64, map[string]any{"encoding": "base64"})
	if err != nil {
		return nil, fmt.Errorf("send demo transfer: %w", err)
	}

	d.logger.InfoContext(ctx, "demo transfer submitted",
		"signature", signature,
		"payer", transfer.Payer,
		"recipient", transfer.Recipient,
		"lamports", lamports,
	)

	return &DemoResult{
		Signature: signature,
		Payer:     transfer.Payer,
		Lamports:  lamports,
	}, nil
}

package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

// ParsePayerSecret decodes a base58 encoded 64-byte ed25519 secret key.
func ParsePayerSecret(secret string) (solana.PrivateKey, error) {
	if secret == "" {
		return nil, ErrDemoUnavailable
	}
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode payer secret: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("payer secret must be 64 bytes, got %d", len(raw))
	}
	return solana.PrivateKey(raw), nil
}

// LamportsFromSOL converts a positive SOL amount to lamports.
func LamportsFromSOL(amount float64) (uint64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("amount must be a positive number of SOL")
	}
	lamports := math.Round(amount * float64(solana.LAMPORTS_PER_SOL))
	if lamports < 1 {
		return 0, fmt.Errorf("amount is below one lamport")
	}
	return uint64(lamports), nil
}

// BuildTransfer signs a system transfer of lamports from payer to recipient
// against the latest blockhash and returns it base64 encoded.
func (c *Client) BuildTransfer(ctx context.Context, payer solana.PrivateKey, recipient string, lamports uint64) (*Transfer, error) {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	from := payer.PublicKey()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	if latest == nil || latest.Value == nil {
		return nil, fmt.Errorf("get latest blockhash: empty result")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, from, to).Build(),
		},
		latest.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	sigs, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	wire, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "built demo transfer",
		"payer", from.String(),
		"recipient", to.String(),
		"lamports", lamports,
	)

	return &Transfer{
		TxB64:     base64.StdEncoding.EncodeToString(wire),
		Signature: sigs[0].String(),
		Payer:     from.String(),
		Recipient: to.String(),
		Lamports:  lamports,
	}, nil
}

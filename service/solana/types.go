package solana

import (
	"errors"
)

// ErrDemoUnavailable is returned when the demo transfer has no payer key configured.
var ErrDemoUnavailable = errors.New("demo payer secret not configured")

// Transfer is a signed SOL transfer serialized for submission.
type Transfer struct {
	TxB64     string
	Signature string
	Payer     string
	Recipient string
	Lamports  uint64
}

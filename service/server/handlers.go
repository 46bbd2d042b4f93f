package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/gateway"
	"github.com/brojonat/aurora/service/solana"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/brojonat/aurora/service/txn"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - wire transactions are far smaller
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 128     // base58 signatures are at most 88 chars
	maxListLimit       = 1000
	streamInitLimit    = 100
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	// Signatures issued by the mock gateway
	mockSignatureRegex = regexp.MustCompile(`^mock-[0-9a-f-]{36}$`)
)

// handleBuildTransaction proxies a build request to the gateway.
// POST /api/v1/tx/build
func handleBuildTransaction(gw gateway.Gateway, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TxB64      string          `json:"tx_b64"`
			MessageB64 string          `json:"message_b64"`
			Options    json.RawMessage `json:"options"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		txB64 := req.TxB64
		if txB64 == "" {
			txB64 = req.MessageB64
		}
		if txB64 == "" {
			writeError(w, "tx_b64 is required", http.StatusBadRequest)
			return
		}

		res, err := gw.Build(r.Context(), gateway.BuildRequest{
			TxB64:   txB64,
			Options: objectOrNil(req.Options),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to build transaction", "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, res, http.StatusOK)
	})
}

type sendResponse struct {
	Signature       string    `json:"signature"`
	RouteRequested  txn.Route `json:"route_requested"`
	RouteUsed       txn.Route `json:"route_used"`
	JitoTipLamports *uint64   `json:"jito_tip_lamports,omitempty"`
}

// handleSendTransaction submits a transaction and starts tracking it.
// POST /api/v1/tx/send
func handleSendTransaction(tr *tracker.Tracker, gw gateway.Gateway, defaultTip uint64, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TxB64           string    `json:"tx_b64"`
			Route           txn.Route `json:"route"`
			JitoTipLamports *int64    `json:"jito_tip_lamports"`
			Payer           string    `json:"payer"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		if req.TxB64 == "" {
			writeError(w, "tx_b64 is required", http.StatusBadRequest)
			return
		}
		if !req.Route.IsRequestable() {
			writeError(w, "invalid or missing route: must be 'rpc', 'jito' or 'parallel'", http.StatusBadRequest)
			return
		}
		if req.Payer != "" {
			if err := validateAddress(req.Payer); err != nil {
				writeError(w, "invalid payer: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		tip := resolveTip(req.Route, req.JitoTipLamports, defaultTip)

		res, err := gw.Send(r.Context(), gateway.SendRequest{
			TxB64:       req.TxB64,
			Route:       req.Route,
			TipLamports: tip,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to send transaction", "route", req.Route, "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if _, err := tr.Create(res.Signature, req.Route, req.Payer, tip); err != nil {
			if errors.Is(err, tracker.ErrAlreadyTracked) {
				writeError(w, err.Error(), http.StatusConflict)
				return
			}
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tr.MarkForwarded(res.Signature, res.RouteUsed); err != nil {
			logger.ErrorContext(r.Context(), "failed to mark transaction forwarded", "signature", res.Signature, "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "transaction sent",
			"signature", res.Signature,
			"route", req.Route,
			"route_used", res.RouteUsed,
		)

		writeJSON(w, sendResponse{
			Signature:       res.Signature,
			RouteRequested:  req.Route,
			RouteUsed:       res.RouteUsed,
			JitoTipLamports: tip,
		}, http.StatusOK)
	})
}

// resolveTip uses a positive requested tip, otherwise the default for tipped routes.
func resolveTip(route txn.Route, requested *int64, defaultTip uint64) *uint64 {
	if requested != nil && *requested > 0 {
		return txn.Ptr(uint64(*requested))
	}
	if route == txn.RouteRPC {
		return nil
	}
	return txn.Ptr(defaultTip)
}

// handleTransactionStatus returns the tracked record, or asks the gateway for untracked signatures.
// GET /api/v1/tx/{signature}/status
func handleTransactionStatus(tr *tracker.Tracker, gw gateway.Gateway, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if rec, ok := tr.Get(signature); ok {
			writeJSON(w, rec, http.StatusOK)
			return
		}

		upd, err := gw.FetchStatus(r.Context(), signature)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to fetch status", "signature", signature, "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if upd == nil {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}

		writeJSON(w, upd, http.StatusOK)
	})
}

// handleListTransactions lists tracked records, most recently updated first.
// GET /api/v1/transactions?limit=N
func handleListTransactions(tr *tracker.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := tracker.DefaultListLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			n, err := strconv.Atoi(limitStr)
			if err != nil || n < 1 {
				writeError(w, "invalid limit: must be a positive integer", http.StatusBadRequest)
				return
			}
			if n > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = n
		}

		records := tr.List(limit)
		logger.DebugContext(r.Context(), "transactions listed", "count", len(records), "limit", limit)

		writeJSON(w, map[string]interface{}{
			"transactions": records,
			"count":        len(records),
			"limit":        limit,
		}, http.StatusOK)
	})
}

// GET /api/v1/metrics
func handleGetMetrics(tr *tracker.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, tr.Metrics(), http.StatusOK)
	})
}

// GET /api/v1/scheduler
func handleGetScheduler(tr *tracker.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, tr.Scheduler(), http.StatusOK)
	})
}

// handleDemoTransfer signs a devnet SOL transfer server-side and tracks it.
// POST /api/v1/demo/transfer
func handleDemoTransfer(tr *tracker.Tracker, demo DemoSender, cluster string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cluster != "devnet" {
			writeError(w, "demo route is devnet-only", http.StatusBadRequest)
			return
		}
		if demo == nil {
			writeError(w, solana.ErrDemoUnavailable.Error(), http.StatusServiceUnavailable)
			return
		}

		var req struct {
			To        string `json:"to"`
			AmountSOL any    `json:"amount_sol"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.To); err != nil {
			writeError(w, "invalid to: "+err.Error(), http.StatusBadRequest)
			return
		}
		lamports, err := parseAmountToLamports(req.AmountSOL)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := demo.Send(r.Context(), req.To, lamports)
		if err != nil {
			logger.ErrorContext(r.Context(), "demo transfer failed", "to", req.To, "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if _, err := tr.Create(res.Signature, txn.RouteTPG, res.Payer, nil); err != nil && !errors.Is(err, tracker.ErrAlreadyTracked) {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tr.MarkForwarded(res.Signature, txn.RouteTPG); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, res, http.StatusOK)
	})
}

// parseAmountToLamports accepts a SOL amount as a JSON number or numeric string.
func parseAmountToLamports(v any) (uint64, error) {
	var amount float64
	switch a := v.(type) {
	case float64:
		amount = a
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return 0, errorf("invalid amount_sol: must be a number")
		}
		amount = parsed
	case nil:
		return 0, errorf("amount_sol is required")
	default:
		return 0, errorf("invalid amount_sol: must be a number")
	}

	lamports, err := solana.LamportsFromSOL(amount)
	if err != nil {
		return 0, errorf("invalid amount_sol: %v", err)
	}
	return lamports, nil
}

// handleRunBenchmark runs a simulated route benchmark and broadcasts the result.
// POST /api/v1/benchmarks/run
func handleRunBenchmark(runner *benchmark.Runner, bus *events.Bus, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params benchmark.Params
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		res, err := runner.Run(r.Context(), params)
		if err != nil {
			if errors.Is(err, benchmark.ErrLiveMode) || errors.Is(err, benchmark.ErrInvalidParams) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.ErrorContext(r.Context(), "benchmark failed", "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		bus.Publish(events.Event{Type: events.TypeBenchmark, Payload: *res})
		writeJSON(w, res, http.StatusOK)
	})
}

// decodeJSON reads a size-limited JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "path", r.URL.Path, "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// objectOrNil keeps builder options only when they are a JSON object.
func objectOrNil(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	if hasControl(address) {
		return errorf("invalid characters in address: control characters not allowed")
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateSignature accepts base58 signatures and mock gateway signatures.
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}

	if len(signature) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}

	if hasControl(signature) {
		return errorf("invalid characters in signature: control characters not allowed")
	}

	if !validAddressRegex.MatchString(signature) && !mockSignatureRegex.MatchString(signature) {
		return errorf("invalid signature format: must be base58")
	}

	return nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

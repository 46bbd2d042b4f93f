package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/gateway"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/brojonat/aurora/service/txn"
)

// maxFrameSize bounds a single SSE data line; init frames carry up to 100 records.
const maxFrameSize = 4 << 20

// Client is the HTTP client for the aurora transaction tracker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new tracker client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SendRequest is the body of a send call.
type SendRequest struct {
	TxB64           string    `json:"tx_b64"`
	Route           txn.Route `json:"route"`
	JitoTipLamports *uint64   `json:"jito_tip_lamports,omitempty"`
	Payer           string    `json:"payer,omitempty"`
}

// SendResponse reports where a submitted transaction went.
type SendResponse struct {
	Signature       string    `json:"signature"`
	RouteRequested  txn.Route `json:"route_requested"`
	RouteUsed       txn.Route `json:"route_used"`
	JitoTipLamports *uint64   `json:"jito_tip_lamports,omitempty"`
}

// TransactionList is a page of tracked records.
type TransactionList struct {
	Transactions []txn.Record `json:"transactions"`
	Count        int          `json:"count"`
	Limit        int          `json:"limit"`
}

// Send submits a signed transaction and starts tracking it.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, "POST", "/api/v1/tx/send", req, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction sent", "signature", out.Signature, "route_used", out.RouteUsed)
	return &out, nil
}

// Build asks the gateway to assemble a transaction from a base64 payload.
func (c *Client) Build(ctx context.Context, txB64 string, options map[string]any) (*gateway.BuildResult, error) {
	body := map[string]any{"tx_b64": txB64}
	if len(options) > 0 {
		body["options"] = options
	}
	var out gateway.BuildResult
	if err := c.do(ctx, "POST", "/api/v1/tx/build", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the raw status document for a signature. Tracked signatures
// yield a full record, untracked ones a provider status update.
func (c *Client) Status(ctx context.Context, signature string) (json.RawMessage, error) {
	var out json.RawMessage
	path := fmt.Sprintf("/api/v1/tx/%s/status", url.PathEscape(signature))
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns tracked records, most recently updated first. A non-positive
// limit uses the server default.
func (c *Client) List(ctx context.Context, limit int) (*TransactionList, error) {
	path := "/api/v1/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out TransactionList
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns the current aggregate snapshot.
func (c *Client) Metrics(ctx context.Context) (*stats.Snapshot, error) {
	var out stats.Snapshot
	if err := c.do(ctx, "GET", "/api/v1/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scheduler returns the active and queued poll loops.
func (c *Client) Scheduler(ctx context.Context) (*tracker.SchedulerState, error) {
	var out tracker.SchedulerState
	if err := c.do(ctx, "GET", "/api/v1/scheduler", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunBenchmark runs a simulated route benchmark on the server.
func (c *Client) RunBenchmark(ctx context.Context, params benchmark.Params) (*benchmark.Result, error) {
	var out benchmark.Result
	if err := c.do(ctx, "POST", "/api/v1/benchmarks/run", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DemoTransfer asks the server to sign and send a devnet SOL transfer.
func (c *Client) DemoTransfer(ctx context.Context, to string, amountSOL float64) (*gateway.DemoResult, error) {
	body := map[string]any{"to": to, "amount_sol": amountSOL}
	var out gateway.DemoResult
	if err := c.do(ctx, "POST", "/api/v1/demo/transfer", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Frame is one event read from the stream endpoint.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"payload"`
}

// Stream reads the SSE endpoint and hands each frame to fn until ctx is
// cancelled, the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(Frame) error) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/stream", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client's timeout would cut the stream short.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var frame Frame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if frame.Type != "" {
				if err := fn(frame); err != nil {
					return err
				}
			}
			frame = Frame{}
		case strings.HasPrefix(line, "event:"):
			frame.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			frame.Data = json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-success responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
}

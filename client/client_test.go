package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/tx/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)

		assert.Equal(t, "AAAA", body["tx_b64"])
		assert.Equal(t, "jito", body["route"])
		assert.Equal(t, float64(7000), body["jito_tip_lamports"])
		assert.NotContains(t, body, "payer")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"signature":         "sig123",
			"route_requested":   "jito",
			"route_used":        "mock",
			"jito_tip_lamports": 7000,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.Send(context.Background(), SendRequest{
		TxB64:           "AAAA",
		Route:           txn.RouteJito,
		JitoTipLamports: txn.Ptr(uint64(7000)),
	})
	require.NoError(t, err)
	assert.Equal(t, "sig123", res.Signature)
	assert.Equal(t, txn.RouteMock, res.RouteUsed)
	assert.Equal(t, uint64(7000), *res.JitoTipLamports)
}

func TestSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "tx_b64 is required",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Send(context.Background(), SendRequest{Route: txn.RouteRPC})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx_b64 is required")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}

func TestStatus_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tx/sig123/status", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Status(context.Background(), "sig123")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "not json", statusErr.Message)
}

func TestList_Limit(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantQuery string
	}{
		{name: "server default", limit: 0, wantQuery: ""},
		{name: "explicit", limit: 25, wantQuery: "limit=25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/transactions", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"transactions": []map[string]interface{}{
						{"signature": "a", "route": "rpc", "status": "pending"},
					},
					"count": 1,
					"limit": 200,
				})
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			list, err := client.List(context.Background(), tt.limit)
			require.NoError(t, err)
			require.Len(t, list.Transactions, 1)
			assert.Equal(t, txn.StatusPending, list.Transactions[0].Status)
			assert.Equal(t, 1, list.Count)
		})
	}
}

func TestRunBenchmark_Body(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/benchmarks/run", r.URL.Path)

		var params benchmark.Params
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, 5, params.Runs)
		assert.Equal(t, []txn.Route{txn.RouteRPC}, params.Routes)

		json.NewEncoder(w).Encode(benchmark.Result{ID: "bench-1", Runs: 5})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.RunBenchmark(context.Background(), benchmark.Params{Runs: 5, Routes: []txn.Route{txn.RouteRPC}})
	require.NoError(t, err)
	assert.Equal(t, "bench-1", res.ID)
}

func TestStream_Frames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: init\ndata: {\"transactions\":[]}\n\n")
		fmt.Fprint(w, ": comment\n\n")
		fmt.Fprint(w, "event: transaction\ndata: {\"signature\":\"abc\"}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	var frames []Frame
	err := client.Stream(context.Background(), func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "init", frames[0].Type)
	assert.Equal(t, "transaction", frames[1].Type)
	assert.JSONEq(t, `{"signature":"abc"}`, string(frames[1].Data))
}

func TestStream_CallbackErrorStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: init\ndata: {}\n\nevent: heartbeat\ndata: {}\n\n")
	}))
	defer server.Close()

	stop := errors.New("stop")
	calls := 0
	client := NewClient(server.URL, nil, nil)
	err := client.Stream(context.Background(), func(f Frame) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	assert.NoError(t, client.Health(context.Background()))
}

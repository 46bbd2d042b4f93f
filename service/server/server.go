package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/config"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/gateway"
	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DemoSender submits a server-signed devnet transfer.
type DemoSender interface {
	Send(ctx context.Context, recipient string, lamports uint64) (*gateway.DemoResult, error)
}

// Server represents the HTTP server for the transaction tracker.
type Server struct {
	addr    string
	cfg     *config.Config
	tracker *tracker.Tracker
	bus     *events.Bus
	gateway gateway.Gateway
	bench   *benchmark.Runner
	demo    DemoSender
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the /metrics endpoint won't be available.
func New(addr string, cfg *config.Config, tr *tracker.Tracker, bus *events.Bus, gw gateway.Gateway, bench *benchmark.Runner, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		tracker: tr,
		bus:     bus,
		gateway: gw,
		bench:   bench,
		metrics: m,
		logger:  logger,
	}
}

// WithDemo enables the devnet demo transfer route.
func (s *Server) WithDemo(demo DemoSender) *Server {
	s.demo = demo
	return s
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Transaction routes
	mux.Handle("POST /api/v1/tx/build", s.instrument("tx_build", handleBuildTransaction(s.gateway, s.logger)))
	mux.Handle("POST /api/v1/tx/send", s.instrument("tx_send", handleSendTransaction(s.tracker, s.gateway, s.cfg.DefaultJitoTipLamports, s.logger)))
	mux.Handle("GET /api/v1/tx/{signature}/status", s.instrument("tx_status", handleTransactionStatus(s.tracker, s.gateway, s.logger)))
	mux.Handle("GET /api/v1/transactions", s.instrument("transactions", handleListTransactions(s.tracker, s.logger)))

	// Derived state
	mux.Handle("GET /api/v1/metrics", s.instrument("metrics", handleGetMetrics(s.tracker)))
	mux.Handle("GET /api/v1/scheduler", s.instrument("scheduler", handleGetScheduler(s.tracker)))

	// Streaming endpoints
	streams := streamConfig{
		heartbeat: s.cfg.StreamHeartbeatInterval,
		buffer:    s.cfg.StreamBufferSize,
		metrics:   s.metrics,
	}
	mux.Handle("GET /api/v1/stream", handleStreamSSE(s.tracker, streams, s.logger))
	mux.Handle("GET /api/v1/ws", handleStreamWS(s.tracker, streams, s.logger))

	// Demo and benchmark routes
	mux.Handle("POST /api/v1/demo/transfer", s.instrument("demo_transfer", handleDemoTransfer(s.tracker, s.demo, s.cfg.Cluster, s.logger)))
	mux.Handle("POST /api/v1/benchmarks/run", s.instrument("benchmark_run", handleRunBenchmark(s.bench, s.bus, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second, // streaming handlers clear their own deadline
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"cluster", s.cfg.Cluster,
		"mock_gateway", s.cfg.MockGateway,
		"demo_enabled", s.demo != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/aurora/service/benchmark"
	"github.com/brojonat/aurora/service/config"
	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/gateway"
	"github.com/brojonat/aurora/service/metrics"
	natspkg "github.com/brojonat/aurora/service/nats"
	"github.com/brojonat/aurora/service/server"
	"github.com/brojonat/aurora/service/solana"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"cluster", cfg.Cluster,
		"mock_gateway", cfg.MockGateway,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Prometheus collectors on the default registry served at /metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	bus := events.NewBus(logger, m)

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, cfg.Cluster, cfg.SolanaRPCRateLimit, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL, "rate_limit", cfg.SolanaRPCRateLimit)

	// Gateway: scripted lifecycles in mock mode, Sanctum TPG otherwise
	var (
		gw  gateway.Gateway
		tpg *gateway.TPGClient
	)
	if cfg.MockGateway {
		gw = gateway.NewMockGateway(cfg.DefaultJitoTipLamports, logger)
		logger.Info("using mock gateway")
	}
	if cfg.SanctumAPIKey != "" {
		var err error
		tpg, err = gateway.NewTPGClient(cfg.SanctumBaseURL, cfg.Cluster, cfg.SanctumAPIKey, m, logger)
		if err != nil {
			logger.Error("failed to create TPG client", "error", err)
			os.Exit(1)
		}
		if gw == nil {
			gw = gateway.NewLiveGateway(tpg, solanaClient)
			logger.Info("using Sanctum TPG gateway", "base_url", cfg.SanctumBaseURL)
		}
	}

	tr := tracker.New(gw, bus, tracker.Options{
		MaxActive: cfg.MaxActivePollers,
		Interval:  cfg.PollInterval,
	}, m, logger)

	bench := benchmark.NewRunner(cfg.Cluster, cfg.MockGateway, m, logger)

	httpServer := server.New(cfg.ServerAddr, cfg, tr, bus, gw, bench, m, logger)

	// Demo transfers sign server-side, so they need a payer and a live sender
	if cfg.DemoEnabled() && tpg != nil {
		demo, err := gateway.NewDemoTransfer(solanaClient, tpg, cfg.DevnetPayerSecret, logger)
		if err != nil {
			logger.Error("failed to load demo payer", "error", err)
			os.Exit(1)
		}
		httpServer.WithDemo(demo)
		logger.Info("demo transfers enabled", "payer", demo.Payer())
	}

	g, gctx := errgroup.WithContext(ctx)

	// Optional JetStream relay
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		relay := natspkg.NewRelay(publisher, natspkg.DefaultRelayBuffer, m, logger)
		unsubscribe := bus.Subscribe(relay.Listener())
		defer unsubscribe()

		g.Go(func() error {
			return relay.Run(gctx)
		})
		logger.Info("NATS relay enabled", "url", cfg.NATSURL)
	}

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"nats_url", cfg.NATSURL,
		"max_active_pollers", cfg.MaxActivePollers,
		"poll_interval", cfg.PollInterval,
	)

	// Start HTTP server in background
	g.Go(func() error {
		return httpServer.Start()
	})

	// Graceful shutdown with timeout
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		tr.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

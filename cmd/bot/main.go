// Token Transaction Bot — an admission and execution pipeline for
// on-chain token transactions with liquidity monitoring.
//
// Architecture:
//
//	main.go                — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go       — orchestrator: wires keyring → pipeline → gateways, owns all goroutines
//	pipeline/queue.go      — priority admission queue (priority desc, FIFO among ties)
//	pipeline/dispatcher.go — concurrency-capped dispatch loop, result ledger, cancellation
//	pipeline/executor.go   — per-request state machine: build → sign → submit → settle
//	gateway/gateway.go     — rate-limited outbound calls with bounded exponential-backoff retry
//	gateway/limiter.go     — permit pool: N calls per second with even spacing between grants
//	cache/cache.go         — bounded TTL cache with oldest-entry eviction and a sweep janitor
//	monitor/monitor.go     — polls pool liquidity, raises floor/drop/surge alerts with cooldown
//	market/client.go       — REST client for the market-data API (pool metric snapshots)
//	chain/client.go        — JSON-RPC submission client for signed transactions
//	wallet/keyring.go      — ECDSA keys by wallet ID, signs built transactions
//	store/store.go         — sqlite persistence for execution results (survives restarts)
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tokenbot/internal/config"
	"tokenbot/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("transaction bot started",
		"max_concurrent", cfg.Pipeline.MaxConcurrent,
		"calls_per_second", cfg.Gateway.CallsPerSecond,
		"watched_tokens", len(cfg.Monitor.Tokens),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

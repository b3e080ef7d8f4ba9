// Package engine is the central orchestrator of the transaction bot.
//
// It wires together all subsystems:
//
//  1. Keyring holds the signing keys the executor signs with.
//  2. Two gateways throttle and retry outbound calls, one per upstream
//     (market-data API, submission RPC).
//  3. Dispatcher admits requests into the priority queue and runs them
//     through the execution state machine under the concurrency ceiling.
//  4. Monitor polls watched pools and raises liquidity alerts.
//  5. Bounded caches hold completed transactions (read-through by hash)
//     and alert cooldown state; a janitor sweeps both periodically.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tokenbot/internal/cache"
	"tokenbot/internal/chain"
	"tokenbot/internal/config"
	"tokenbot/internal/gateway"
	"tokenbot/internal/market"
	"tokenbot/internal/monitor"
	"tokenbot/internal/pipeline"
	"tokenbot/internal/store"
	"tokenbot/internal/wallet"
	"tokenbot/pkg/types"
)

// Engine orchestrates all components of the transaction pipeline.
// It owns the lifecycle of all goroutines.
type Engine struct {
	cfg        config.Config
	keyring    *wallet.Keyring
	marketCli  *market.Client
	chainCli   *chain.Client
	dispatcher *pipeline.Dispatcher
	monitor    *monitor.Monitor
	txCache    *cache.Cache[types.ExecutionResult]
	cooldown   *cache.Cache[time.Time]
	store      *store.Store
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. The store is opened only
// when a path is configured; without it results live in memory only.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	keyring, err := wallet.NewKeyring(cfg.Wallets)
	if err != nil {
		return nil, err
	}

	marketGw := gateway.New("market", cfg.Gateway, logger)
	rpcGw := gateway.New("rpc", cfg.Gateway, logger)
	marketCli := market.NewClient(cfg.API, marketGw, logger)
	chainCli := chain.NewClient(cfg.API, rpcGw, logger)

	txCache := cache.New[types.ExecutionResult](cfg.Cache.Capacity)
	cooldown := cache.New[time.Time](cfg.Cache.Capacity)

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	}

	var dispatcherStore pipeline.Store
	if st != nil {
		dispatcherStore = st
	}

	dispatcher := pipeline.NewDispatcher(
		cfg.Pipeline,
		keyring,
		chainCli,
		txCache,
		cfg.Cache.TTL,
		dispatcherStore,
		logger,
	)
	mon := monitor.New(cfg.Monitor, marketCli, cooldown, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		keyring:    keyring,
		marketCli:  marketCli,
		chainCli:   chainCli,
		dispatcher: dispatcher,
		monitor:    mon,
		txCache:    txCache,
		cooldown:   cooldown,
		store:      st,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all background goroutines: the dispatch loop, the
// liquidity monitor, and the cache janitors.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatcher.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.txCache.Run(e.ctx, e.cfg.Cache.SweepInterval)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cooldown.Run(e.ctx, e.cfg.Cache.SweepInterval)
	}()

	e.logger.Info("engine started",
		"max_concurrent", e.cfg.Pipeline.MaxConcurrent,
		"watched_tokens", len(e.cfg.Monitor.Tokens),
		"persistence", e.store != nil,
	)
	return nil
}

// Stop gracefully shuts down: cancels all contexts, waits for in-flight
// executions to settle, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("failed to close store", "error", err)
		}
	}

	e.logger.Info("shutdown complete")
}

// Dispatcher exposes the pipeline for request submission and inspection.
func (e *Engine) Dispatcher() *pipeline.Dispatcher {
	return e.dispatcher
}

// Monitor exposes the liquidity monitor for watch-list management.
func (e *Engine) Monitor() *monitor.Monitor {
	return e.monitor
}

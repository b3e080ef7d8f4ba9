// Package monitor watches pool liquidity for a set of tokens and raises
// alerts when thresholds are crossed.
//
// One scheduler services the whole watch list: every poll interval it
// fetches a fresh snapshot per token through the market gateway and checks,
// in precedence order, the absolute liquidity floor, the 24h drop
// threshold, and the 24h surge threshold. At most one alert fires per
// token per pass, and a firing alert is gated by the per-token cooldown
// window kept in the bounded cache. Alert history older than the retention
// window is pruned lazily on each pass.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tokenbot/internal/cache"
	"tokenbot/internal/config"
	"tokenbot/pkg/types"
)

// MetricsFetcher supplies pool metric snapshots.
type MetricsFetcher interface {
	FetchSnapshot(ctx context.Context, tokenAddress string) (*types.PoolMetrics, error)
}

// Monitor polls watched tokens and records threshold alerts.
type Monitor struct {
	cfg      config.MonitorConfig
	fetcher  MetricsFetcher
	cooldown *cache.Cache[time.Time] // token -> last alert time
	logger   *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	latest  map[string]types.PoolMetrics
	alerts  []types.Alert
}

// New creates a monitor. cooldown is the shared bounded cache used as the
// per-token alert cooldown gate.
func New(cfg config.MonitorConfig, fetcher MetricsFetcher, cooldown *cache.Cache[time.Time], logger *slog.Logger) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		fetcher:  fetcher,
		cooldown: cooldown,
		logger:   logger.With("component", "monitor"),
		watched:  make(map[string]struct{}),
		latest:   make(map[string]types.PoolMetrics),
	}
	for _, token := range cfg.Tokens {
		m.watched[token] = struct{}{}
	}
	return m
}

// Watch adds a token to the watch list.
func (m *Monitor) Watch(tokenAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[tokenAddress]; ok {
		return
	}
	m.watched[tokenAddress] = struct{}{}
	m.logger.Info("token watched", "token", tokenAddress)
}

// Unwatch removes a token and its cached state.
func (m *Monitor) Unwatch(tokenAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, tokenAddress)
	delete(m.latest, tokenAddress)
	m.logger.Info("token unwatched", "token", tokenAddress)
}

// Watched returns the current watch list.
func (m *Monitor) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make([]string, 0, len(m.watched))
	for token := range m.watched {
		tokens = append(tokens, token)
	}
	return tokens
}

// Run polls until ctx is cancelled. The first pass happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.pass(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

// pass services every watched token once. A failed poll skips that token
// until the next pass; an unexpected panic is logged and the monitor keeps
// running.
func (m *Monitor) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor pass panicked", "panic", r)
		}
	}()

	for _, token := range m.Watched() {
		if ctx.Err() != nil {
			return
		}
		snap, err := m.fetcher.FetchSnapshot(ctx, token)
		if err != nil {
			m.logger.Error("poll failed", "token", token, "error", err)
			continue
		}
		m.evaluate(*snap)
	}

	m.pruneAlerts()
}

// evaluate checks one snapshot against the thresholds. The floor check
// takes precedence over drop, drop over surge; only the winning condition
// can alert.
func (m *Monitor) evaluate(snap types.PoolMetrics) {
	m.mu.Lock()
	m.latest[snap.TokenAddress] = snap
	m.mu.Unlock()

	var alert *types.Alert
	switch {
	case snap.Liquidity < m.cfg.MinLiquidity:
		alert = &types.Alert{
			TokenAddress:   snap.TokenAddress,
			Kind:           types.AlertLowLiquidity,
			Severity:       types.SeverityHigh,
			CurrentValue:   snap.Liquidity,
			ThresholdValue: m.cfg.MinLiquidity,
			Message: fmt.Sprintf("pool liquidity (%.2f) below minimum threshold (%.2f)",
				snap.Liquidity, m.cfg.MinLiquidity),
		}
	case snap.LiquidityChange24h < -m.cfg.DropThreshold:
		alert = &types.Alert{
			TokenAddress:   snap.TokenAddress,
			Kind:           types.AlertLiquidityDrop,
			Severity:       types.SeverityMedium,
			CurrentValue:   snap.LiquidityChange24h,
			ThresholdValue: -m.cfg.DropThreshold,
			Message: fmt.Sprintf("significant liquidity drop detected: %.2f%%",
				snap.LiquidityChange24h),
		}
	case snap.LiquidityChange24h > m.cfg.SurgeThreshold:
		alert = &types.Alert{
			TokenAddress:   snap.TokenAddress,
			Kind:           types.AlertLiquiditySurge,
			Severity:       types.SeverityLow,
			CurrentValue:   snap.LiquidityChange24h,
			ThresholdValue: m.cfg.SurgeThreshold,
			Message: fmt.Sprintf("significant liquidity surge detected: %.2f%%",
				snap.LiquidityChange24h),
		}
	}
	if alert == nil {
		return
	}

	now := time.Now()
	if last, ok := m.cooldown.InsertedAt(snap.TokenAddress); ok && now.Sub(last) < m.cfg.AlertCooldown {
		return
	}
	m.cooldown.Set(snap.TokenAddress, now, m.cfg.AlertCooldown)

	alert.Timestamp = now
	m.mu.Lock()
	m.alerts = append(m.alerts, *alert)
	m.mu.Unlock()

	m.logger.Warn("liquidity alert",
		"token", alert.TokenAddress,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"current", alert.CurrentValue,
		"threshold", alert.ThresholdValue,
	)
}

// pruneAlerts drops history older than the retention window.
func (m *Monitor) pruneAlerts() {
	cutoff := time.Now().Add(-m.cfg.AlertHistoryRetention)

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

// Alerts returns a copy of the alert history.
func (m *Monitor) Alerts() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Metrics returns the most recent snapshot for a token, if any.
func (m *Monitor) Metrics(tokenAddress string) (types.PoolMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.latest[tokenAddress]
	return snap, ok
}

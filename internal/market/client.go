// Package market implements the client for the market-data REST API.
//
// The API exposes per-pool metrics (liquidity, volume, price and their 24h
// changes) for a token's main pool. Every request goes through the market
// gateway, so polling the monitor's whole watch list still respects the
// upstream's rate limit.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tokenbot/internal/config"
	"tokenbot/internal/gateway"
	"tokenbot/pkg/types"
)

// ErrNotFound is returned when the API has no pool for a token address.
var ErrNotFound = errors.New("pool not found")

// poolResponse is the JSON shape returned by GET /pool/{address}.
type poolResponse struct {
	PoolAddress        string  `json:"pool_address"`
	TokenAddress       string  `json:"token_address"`
	Liquidity          float64 `json:"liquidity"`
	Volume24h          float64 `json:"volume_24h"`
	Price              float64 `json:"price"`
	PriceChange24h     float64 `json:"price_change_24h"`
	LiquidityChange24h float64 `json:"liquidity_change_24h"`
	VolumeChange24h    float64 `json:"volume_change_24h"`
}

// Client fetches pool metric snapshots.
type Client struct {
	http   *resty.Client
	gw     *gateway.Gateway
	logger *slog.Logger
}

// NewClient creates a market-data client that calls through gw.
func NewClient(cfg config.APIConfig, gw *gateway.Gateway, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.MarketBaseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.MarketAPIKey != "" {
		httpClient.SetHeader("X-API-KEY", cfg.MarketAPIKey)
	}

	return &Client{
		http:   httpClient,
		gw:     gw,
		logger: logger.With("component", "market"),
	}
}

// FetchSnapshot returns the latest pool metrics for a token address.
// A token without a pool yields ErrNotFound without burning retries.
func (c *Client) FetchSnapshot(ctx context.Context, tokenAddress string) (*types.PoolMetrics, error) {
	var result poolResponse

	err := c.gw.Do(ctx, "market.fetch_snapshot", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/pool/" + tokenAddress)
		if err != nil {
			return fmt.Errorf("get pool: %w", err)
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return gateway.Permanent(fmt.Errorf("%w: %s", ErrNotFound, tokenAddress))
		case resp.StatusCode() != http.StatusOK:
			return fmt.Errorf("get pool: status %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &types.PoolMetrics{
		PoolAddress:        result.PoolAddress,
		TokenAddress:       result.TokenAddress,
		Liquidity:          result.Liquidity,
		Volume24h:          result.Volume24h,
		Price:              result.Price,
		PriceChange24h:     result.PriceChange24h,
		LiquidityChange24h: result.LiquidityChange24h,
		VolumeChange24h:    result.VolumeChange24h,
		LastUpdated:        time.Now(),
	}, nil
}

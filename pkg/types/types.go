// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the pipeline: transaction
// requests and their results, pool metric snapshots, and liquidity alerts.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action represents the kind of on-chain operation a request asks for.
type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionTransfer Action = "transfer"
)

// Valid reports whether the action is one of the supported kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionTransfer:
		return true
	}
	return false
}

// Status is the life-cycle state of a transaction request. Transitions are
// monotonic: pending -> processing -> completed | failed. Once terminal,
// a request is never mutated again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransactionRequest identifies one intended on-chain action.
//
// ID is assigned by the caller and is the uniqueness key for admission:
// submitting a second request with the same ID is a logged no-op. Priority
// orders dispatch (higher = sooner); among equal priorities requests start
// in arrival order.
type TransactionRequest struct {
	ID           string          `json:"id"`
	TokenAddress string          `json:"token_address"`
	Amount       decimal.Decimal `json:"amount"` // signed token quantity
	Action       Action          `json:"action"`
	Priority     int             `json:"priority"`
	MaxSlippage  float64         `json:"max_slippage"` // fraction, e.g. 0.02 = 2%
	WalletID     string          `json:"wallet_id"`
	CreatedAt    time.Time       `json:"created_at"`

	Status    Status `json:"status"`
	Signature string `json:"signature,omitempty"` // hex, set once signed
	Error     string `json:"error,omitempty"`
}

// ExecutionResult is the immutable record produced exactly once when a
// dispatched request reaches a terminal state.
type ExecutionResult struct {
	Request       TransactionRequest `json:"request"`
	Success       bool               `json:"success"`
	TxHash        string             `json:"tx_hash,omitempty"`
	ExecutionTime time.Duration      `json:"execution_time"`
	Error         string             `json:"error,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// PoolMetrics is a point-in-time snapshot of one token's main liquidity
// pool, produced by the market-data API and consumed read-only by the
// threshold monitor.
type PoolMetrics struct {
	PoolAddress        string    `json:"pool_address"`
	TokenAddress       string    `json:"token_address"`
	Liquidity          float64   `json:"liquidity"`
	Volume24h          float64   `json:"volume_24h"`
	Price              float64   `json:"price"`
	PriceChange24h     float64   `json:"price_change_24h"`     // percent
	LiquidityChange24h float64   `json:"liquidity_change_24h"` // percent
	VolumeChange24h    float64   `json:"volume_change_24h"`    // percent
	LastUpdated        time.Time `json:"last_updated"`
}

// AlertKind enumerates the threshold conditions the monitor checks, in
// precedence order: floor first, then drop, then surge.
type AlertKind string

const (
	AlertLowLiquidity   AlertKind = "low_liquidity"
	AlertLiquidityDrop  AlertKind = "liquidity_drop"
	AlertLiquiditySurge AlertKind = "liquidity_surge"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Alert is one fired threshold condition for a monitored token. At most one
// alert fires per token per check, gated by the cooldown window.
type Alert struct {
	TokenAddress   string    `json:"token_address"`
	Kind           AlertKind `json:"kind"`
	Severity       Severity  `json:"severity"`
	CurrentValue   float64   `json:"current_value"`
	ThresholdValue float64   `json:"threshold_value"`
	Timestamp      time.Time `json:"timestamp"`
	Message        string    `json:"message"`
}

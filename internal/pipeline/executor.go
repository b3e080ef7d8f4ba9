package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokenbot/pkg/types"
)

// Signer is the wallet signing collaborator.
type Signer interface {
	Sign(walletID string, payload []byte) (string, error)
	Address(walletID string) (common.Address, error)
}

// Submitter sends a signed transaction and returns its hash. The concrete
// implementation calls through the RPC gateway, so submission failures
// surface here only after its retry budget is spent.
type Submitter interface {
	Submit(ctx context.Context, signedTx []byte) (string, error)
}

// Execution owns the life cycle of one in-flight request: build the
// unsigned transaction, sign it, submit it, settle. Whatever happens, Run
// returns exactly one ExecutionResult, and the request inside it carries a
// terminal status.
type Execution struct {
	req       types.TransactionRequest
	signer    Signer
	submitter Submitter
	logger    *slog.Logger
}

// NewExecution prepares the state machine for one request.
func NewExecution(req types.TransactionRequest, signer Signer, submitter Submitter, logger *slog.Logger) *Execution {
	return &Execution{
		req:       req,
		signer:    signer,
		submitter: submitter,
		logger:    logger.With("component", "executor", "request", req.ID),
	}
}

// unsignedTx is the deterministic payload that gets signed. Nonce is the
// request's creation time, which makes re-submitting the same request
// produce the same bytes.
type unsignedTx struct {
	From        string `json:"from"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Action      string `json:"action"`
	MaxSlippage string `json:"max_slippage"`
	Nonce       int64  `json:"nonce"`
}

// signedTx is the submission envelope.
type signedTx struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Run drives the request to a terminal state. The context covers the whole
// execution; when it is cancelled between steps the request settles as
// Failed with the context error, so a cancelled execution still frees its
// slot and records its result.
func (e *Execution) Run(ctx context.Context) types.ExecutionResult {
	e.req.Status = types.StatusProcessing
	start := time.Now()

	payload, err := e.build()
	if err != nil {
		return e.fail(start, fmt.Errorf("build: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return e.fail(start, err)
	}

	sig, err := e.signer.Sign(e.req.WalletID, payload)
	if err != nil {
		return e.fail(start, fmt.Errorf("sign: %w", err))
	}
	e.req.Signature = sig

	envelope, err := json.Marshal(signedTx{Payload: payload, Signature: sig})
	if err != nil {
		return e.fail(start, fmt.Errorf("encode signed tx: %w", err))
	}

	hash, err := e.submitter.Submit(ctx, envelope)
	if err != nil {
		return e.fail(start, fmt.Errorf("submit: %w", err))
	}

	e.req.Status = types.StatusCompleted
	elapsed := time.Since(start)
	e.logger.Info("transaction completed",
		"tx_hash", hash,
		"token", e.req.TokenAddress,
		"action", e.req.Action,
		"elapsed", elapsed,
	)

	return types.ExecutionResult{
		Request:       e.req,
		Success:       true,
		TxHash:        hash,
		ExecutionTime: elapsed,
		Timestamp:     time.Now(),
	}
}

func (e *Execution) build() ([]byte, error) {
	from, err := e.signer.Address(e.req.WalletID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(unsignedTx{
		From:        from.Hex(),
		Token:       e.req.TokenAddress,
		Amount:      e.req.Amount.String(),
		Action:      string(e.req.Action),
		MaxSlippage: fmt.Sprintf("%.4f", e.req.MaxSlippage),
		Nonce:       e.req.CreatedAt.UnixNano(),
	})
}

func (e *Execution) fail(start time.Time, err error) types.ExecutionResult {
	e.req.Status = types.StatusFailed
	e.req.Error = err.Error()
	elapsed := time.Since(start)
	e.logger.Error("transaction failed",
		"token", e.req.TokenAddress,
		"action", e.req.Action,
		"elapsed", elapsed,
		"error", err,
	)

	return types.ExecutionResult{
		Request:       e.req,
		Success:       false,
		ExecutionTime: elapsed,
		Error:         err.Error(),
		Timestamp:     time.Now(),
	}
}

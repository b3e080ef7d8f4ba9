// Package chain implements the transaction submission client.
//
// Signed transactions are posted to the node's JSON-RPC endpoint. All
// submissions go through the RPC gateway: transport failures and 5xx
// responses are retried under its budget, while an error the node itself
// returns (bad transaction, insufficient funds) is permanent and fails
// the request immediately.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tokenbot/internal/config"
	"tokenbot/internal/gateway"
)

type rpcRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client submits signed transactions to the node.
type Client struct {
	http   *resty.Client
	gw     *gateway.Gateway
	logger *slog.Logger
}

// NewClient creates a submission client that calls through gw.
func NewClient(cfg config.APIConfig, gw *gateway.Gateway, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RPCURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		gw:     gw,
		logger: logger.With("component", "chain"),
	}
}

// Submit sends a signed transaction and returns its hash.
func (c *Client) Submit(ctx context.Context, signedTx []byte) (string, error) {
	var result rpcResponse

	err := c.gw.Do(ctx, "chain.submit", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(rpcRequest{
				JSONRPC: "2.0",
				ID:      1,
				Method:  "sendTransaction",
				Params:  []string{"0x" + hex.EncodeToString(signedTx)},
			}).
			SetResult(&result).
			Post("")
		if err != nil {
			return fmt.Errorf("send transaction: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("send transaction: status %d: %s", resp.StatusCode(), resp.String())
		}
		if result.Error != nil {
			// The node rejected the transaction itself; retrying the
			// same bytes cannot succeed.
			return gateway.Permanent(fmt.Errorf("rpc error %d: %s", result.Error.Code, result.Error.Message))
		}
		if result.Result == "" {
			return fmt.Errorf("send transaction: empty result")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return result.Result, nil
}

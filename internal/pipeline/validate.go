package pipeline

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"tokenbot/pkg/types"
)

// ErrValidation marks a malformed request. Validation runs before
// admission; a request failing it never enters the queue and produces no
// ExecutionResult.
var ErrValidation = errors.New("invalid request")

// ValidateRequest checks a request's fields before admission.
func ValidateRequest(req types.TransactionRequest) error {
	if req.ID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	if !common.IsHexAddress(req.TokenAddress) {
		return fmt.Errorf("%w: bad token address %q", ErrValidation, req.TokenAddress)
	}
	if !req.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, req.Action)
	}
	if req.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be non-zero", ErrValidation)
	}
	if req.MaxSlippage < 0 || req.MaxSlippage >= 1 {
		return fmt.Errorf("%w: max_slippage %v out of range [0,1)", ErrValidation, req.MaxSlippage)
	}
	if req.WalletID == "" {
		return fmt.Errorf("%w: missing wallet id", ErrValidation)
	}
	return nil
}

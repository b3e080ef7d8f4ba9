package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tokenbot/pkg/types"
)

// fakeSigner signs deterministically or fails for unknown wallets.
type fakeSigner struct {
	failWith error
}

func (s *fakeSigner) Sign(walletID string, payload []byte) (string, error) {
	if s.failWith != nil {
		return "", s.failWith
	}
	return "deadbeef", nil
}

func (s *fakeSigner) Address(walletID string) (common.Address, error) {
	if s.failWith != nil {
		return common.Address{}, s.failWith
	}
	return common.HexToAddress("0x2222222222222222222222222222222222222222"), nil
}

// fakeSubmitter records submissions and returns a canned hash or error.
type fakeSubmitter struct {
	hash     string
	failWith error
	calls    int
}

func (s *fakeSubmitter) Submit(ctx context.Context, signedTx []byte) (string, error) {
	s.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.failWith != nil {
		return "", s.failWith
	}
	return s.hash, nil
}

func TestExecutionCompletes(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{hash: "0xabc123"}
	exec := NewExecution(testRequest("r1", 1), &fakeSigner{}, sub, discardLogger())

	res := exec.Run(context.Background())

	if !res.Success {
		t.Fatalf("Success = false, error = %s", res.Error)
	}
	if res.TxHash != "0xabc123" {
		t.Errorf("TxHash = %q, want 0xabc123", res.TxHash)
	}
	if res.Request.Status != types.StatusCompleted {
		t.Errorf("Status = %s, want completed", res.Request.Status)
	}
	if res.Request.Signature != "deadbeef" {
		t.Errorf("Signature = %q, want deadbeef", res.Request.Signature)
	}
	if res.ExecutionTime < 0 {
		t.Errorf("ExecutionTime = %v, want >= 0", res.ExecutionTime)
	}
}

func TestExecutionUnknownWalletFails(t *testing.T) {
	t.Parallel()
	unknown := errors.New("unknown wallet: ghost")
	exec := NewExecution(testRequest("r1", 1), &fakeSigner{failWith: unknown}, &fakeSubmitter{}, discardLogger())

	res := exec.Run(context.Background())

	if res.Success {
		t.Fatal("Success = true for unknown wallet")
	}
	if res.Request.Status != types.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Request.Status)
	}
	if !strings.Contains(res.Error, "unknown wallet") {
		t.Errorf("Error = %q, want unknown wallet cause", res.Error)
	}
}

func TestExecutionSubmitFailureFails(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{failWith: errors.New("rpc error 1: rejected")}
	exec := NewExecution(testRequest("r1", 1), &fakeSigner{}, sub, discardLogger())

	res := exec.Run(context.Background())

	if res.Success {
		t.Fatal("Success = true despite submit failure")
	}
	if res.Request.Status != types.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Request.Status)
	}
	if !strings.Contains(res.Error, "submit") {
		t.Errorf("Error = %q, want submit step named", res.Error)
	}
	if res.TxHash != "" {
		t.Errorf("TxHash = %q for failed submit, want empty", res.TxHash)
	}
}

func TestExecutionCancelledSettlesFailed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub := &fakeSubmitter{hash: "0xabc"}
	exec := NewExecution(testRequest("r1", 1), &fakeSigner{}, sub, discardLogger())

	res := exec.Run(ctx)

	if res.Success {
		t.Fatal("Success = true under cancelled context")
	}
	if res.Request.Status != types.StatusFailed {
		t.Errorf("Status = %s, want failed (cancellation still settles)", res.Request.Status)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokenbot/internal/cache"
	"tokenbot/internal/config"
	"tokenbot/pkg/types"
)

// recordSigner notes the wallet ID of every execution as it starts.
// Tests set WalletID to the request ID so the start order is observable.
type recordSigner struct {
	mu    sync.Mutex
	order []string
}

func (s *recordSigner) Address(walletID string) (common.Address, error) {
	s.mu.Lock()
	s.order = append(s.order, walletID)
	s.mu.Unlock()
	return common.HexToAddress("0x2222222222222222222222222222222222222222"), nil
}

func (s *recordSigner) Sign(walletID string, payload []byte) (string, error) {
	return "deadbeef", nil
}

func (s *recordSigner) startOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// gateSubmitter blocks each submission until a token is sent on release,
// and tracks the highest number of simultaneous submissions it saw.
type gateSubmitter struct {
	release chan struct{}
	seq     atomic.Int32
	cur     atomic.Int32
	max     atomic.Int32
}

func newGateSubmitter() *gateSubmitter {
	return &gateSubmitter{release: make(chan struct{}, 64)}
}

func (s *gateSubmitter) Submit(ctx context.Context, signedTx []byte) (string, error) {
	n := s.cur.Add(1)
	defer s.cur.Add(-1)
	for {
		m := s.max.Load()
		if n <= m || s.max.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-s.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return fmt.Sprintf("0xhash%04d", s.seq.Add(1)), nil
}

func newTestDispatcher(maxConcurrent int, signer Signer, submitter Submitter, store Store) (*Dispatcher, *cache.Cache[types.ExecutionResult]) {
	txCache := cache.New[types.ExecutionResult](64)
	d := NewDispatcher(
		config.PipelineConfig{MaxConcurrent: maxConcurrent, ResultRetention: time.Hour},
		signer,
		submitter,
		txCache,
		time.Minute,
		store,
		discardLogger(),
	)
	return d, txCache
}

func dispatchRequest(id string, priority int) types.TransactionRequest {
	req := testRequest(id, priority)
	req.WalletID = id
	return req
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatcherStartsByPriorityThenArrival(t *testing.T) {
	t.Parallel()
	signer := &recordSigner{}
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(1, signer, sub, nil)

	// Admit everything before the loop starts so the pop order is what
	// decides execution order: priorities 1, 5, 1.
	for _, req := range []types.TransactionRequest{
		dispatchRequest("first", 1),
		dispatchRequest("second", 5),
		dispatchRequest("third", 1),
	} {
		if err := d.Submit(req); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 3; i++ {
		sub.release <- struct{}{}
	}
	waitFor(t, "all results", func() bool { return len(d.Results()) == 3 })

	got := signer.startOrder()
	want := []string{"second", "first", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("start order = %v, want %v", got, want)
		}
	}
}

func TestDispatcherNeverExceedsCeiling(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(2, &recordSigner{}, sub, nil)

	for i := 0; i < 6; i++ {
		if err := d.Submit(dispatchRequest(fmt.Sprintf("r%d", i), i)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitFor(t, "two in flight", func() bool { return d.InFlight() == 2 })
	if d.InFlight() != 2 {
		t.Fatalf("InFlight() = %d, want 2", d.InFlight())
	}

	for i := 0; i < 6; i++ {
		sub.release <- struct{}{}
	}
	waitFor(t, "all results", func() bool { return len(d.Results()) == 6 })

	if max := sub.max.Load(); max > 2 {
		t.Errorf("observed %d simultaneous submissions, ceiling is 2", max)
	}
	if d.InFlight() != 0 {
		t.Errorf("InFlight() = %d after drain, want 0", d.InFlight())
	}
}

func TestDispatcherExactlyOneResultPerRequest(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(3, &recordSigner{}, sub, nil)

	const n = 10
	for i := 0; i < n; i++ {
		if err := d.Submit(dispatchRequest(fmt.Sprintf("r%d", i), 1)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < n; i++ {
		sub.release <- struct{}{}
	}
	waitFor(t, "all results", func() bool { return len(d.Results()) == n })

	seen := make(map[string]int)
	for _, res := range d.Results() {
		seen[res.Request.ID]++
		if !res.Request.Status.Terminal() {
			t.Errorf("result for %s has non-terminal status %s", res.Request.ID, res.Request.Status)
		}
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("request %s settled %d times, want exactly 1", id, count)
		}
	}
	if len(seen) != n {
		t.Errorf("got results for %d requests, want %d", len(seen), n)
	}
}

func TestDispatcherRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(1, &recordSigner{}, newGateSubmitter(), nil)

	req := dispatchRequest("bad", 1)
	req.TokenAddress = "nope"
	err := d.Submit(req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Submit error = %v, want ErrValidation wrap", err)
	}
	if len(d.Pending()) != 0 {
		t.Error("rejected request entered the queue")
	}
}

func TestDispatcherDuplicateSubmitIgnored(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(1, &recordSigner{}, newGateSubmitter(), nil)

	if err := d.Submit(dispatchRequest("dup", 1)); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(dispatchRequest("dup", 9)); err != nil {
		t.Fatalf("duplicate submit errored: %v", err)
	}
	if got := len(d.Pending()); got != 1 {
		t.Errorf("pending = %d after duplicate, want 1", got)
	}
}

func TestDispatcherCancelQueuedProducesNoResult(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(1, &recordSigner{}, sub, nil)

	if err := d.Submit(dispatchRequest("running", 9)); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(dispatchRequest("queued", 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitFor(t, "one in flight", func() bool { return d.InFlight() == 1 })

	if !d.Cancel("queued") {
		t.Fatal("Cancel(queued) = false, want true")
	}
	if d.Cancel("nonexistent") {
		t.Error("Cancel of unknown ID = true, want false")
	}

	sub.release <- struct{}{}
	waitFor(t, "running settled", func() bool { return len(d.Results()) == 1 })

	if _, ok := d.Status("queued"); ok {
		t.Error("cancelled queued request still has a status")
	}
	if res := d.Results(); res[0].Request.ID != "running" {
		t.Errorf("ledger holds %s, want running only", res[0].Request.ID)
	}
}

func TestDispatcherCancelProcessingSettlesFailed(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(1, &recordSigner{}, sub, nil)

	if err := d.Submit(dispatchRequest("victim", 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitFor(t, "in flight", func() bool { return d.InFlight() == 1 })

	if !d.Cancel("victim") {
		t.Fatal("Cancel(victim) = false, want true")
	}
	waitFor(t, "victim settled", func() bool { return len(d.Results()) == 1 })

	res := d.Results()[0]
	if res.Success {
		t.Error("cancelled execution reported success")
	}
	if res.Request.Status != types.StatusFailed {
		t.Errorf("status = %s, want failed", res.Request.Status)
	}

	status, ok := d.Status("victim")
	if !ok || status != types.StatusFailed {
		t.Errorf("Status(victim) = %s, %v, want failed, true", status, ok)
	}
}

func TestDispatcherStatusTransitions(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(1, &recordSigner{}, sub, nil)

	if err := d.Submit(dispatchRequest("r1", 1)); err != nil {
		t.Fatal(err)
	}

	status, ok := d.Status("r1")
	if !ok || status != types.StatusPending {
		t.Fatalf("Status before run = %s, %v, want pending, true", status, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitFor(t, "processing", func() bool {
		s, ok := d.Status("r1")
		return ok && s == types.StatusProcessing
	})

	sub.release <- struct{}{}
	waitFor(t, "completed", func() bool {
		s, ok := d.Status("r1")
		return ok && s == types.StatusCompleted
	})
}

func TestDispatcherLookupByHash(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, txCache := newTestDispatcher(1, &recordSigner{}, sub, nil)

	if err := d.Submit(dispatchRequest("r1", 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sub.release <- struct{}{}
	waitFor(t, "result", func() bool { return len(d.Results()) == 1 })

	hash := d.Results()[0].TxHash
	if hash == "" {
		t.Fatal("completed result has no hash")
	}

	res, ok := d.LookupByHash(hash)
	if !ok || res.Request.ID != "r1" {
		t.Fatalf("LookupByHash = %v, %v, want r1's result", res.Request.ID, ok)
	}

	// A cache miss falls back to the ledger and repopulates the cache.
	txCache.Delete(hash)
	if _, ok := d.LookupByHash(hash); !ok {
		t.Error("LookupByHash missed after cache eviction, ledger fallback broken")
	}
	if _, ok := txCache.Get(hash); !ok {
		t.Error("ledger hit did not repopulate the cache")
	}

	if _, ok := d.LookupByHash("0xunknown"); ok {
		t.Error("LookupByHash of unknown hash reported found")
	}
}

// panicSigner panics on its first sign and works afterwards.
type panicSigner struct {
	recordSigner
	panicked atomic.Bool
}

func (s *panicSigner) Sign(walletID string, payload []byte) (string, error) {
	if s.panicked.CompareAndSwap(false, true) {
		panic("signer exploded")
	}
	return "deadbeef", nil
}

func TestDispatcherSurvivesExecutionPanic(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(1, &panicSigner{}, sub, nil)

	if err := d.Submit(dispatchRequest("boom", 5)); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(dispatchRequest("after", 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sub.release <- struct{}{}
	waitFor(t, "both settled", func() bool { return len(d.Results()) == 2 })

	var boom, after *types.ExecutionResult
	results := d.Results()
	for i := range results {
		switch results[i].Request.ID {
		case "boom":
			boom = &results[i]
		case "after":
			after = &results[i]
		}
	}
	if boom == nil || boom.Success {
		t.Error("panicking execution should settle as failed")
	}
	if after == nil || !after.Success {
		t.Error("pipeline should keep dispatching after a panic")
	}
}

// memStore records persisted results.
type memStore struct {
	mu    sync.Mutex
	saved []types.ExecutionResult
}

func (s *memStore) SaveResult(res types.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, res)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestDispatcherPersistsTerminalResults(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	st := &memStore{}
	d, _ := newTestDispatcher(2, &recordSigner{}, sub, st)

	for i := 0; i < 3; i++ {
		if err := d.Submit(dispatchRequest(fmt.Sprintf("r%d", i), 1)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 3; i++ {
		sub.release <- struct{}{}
	}
	waitFor(t, "persisted", func() bool { return st.count() == 3 })
}

func TestDispatcherRunDrainsOnShutdown(t *testing.T) {
	t.Parallel()
	sub := newGateSubmitter()
	d, _ := newTestDispatcher(1, &recordSigner{}, sub, nil)

	if err := d.Submit(dispatchRequest("slow", 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	waitFor(t, "in flight", func() bool { return d.InFlight() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after in-flight execution settled")
	}

	// Cancellation propagated into the execution; it still settled.
	if len(d.Results()) != 1 {
		t.Fatalf("results = %d after shutdown, want 1", len(d.Results()))
	}
	if d.Results()[0].Request.Status != types.StatusFailed {
		t.Errorf("status = %s, want failed under shutdown", d.Results()[0].Request.Status)
	}
}

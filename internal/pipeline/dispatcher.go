// Package pipeline implements the admission and execution pipeline: the
// priority queue of pending transaction requests, the concurrency-capped
// dispatcher that promotes them into execution, and the per-request state
// machine that builds, signs, and submits each transaction.
//
// Ordering guarantee: queue pop order (priority descending, FIFO among
// ties) is the only ordering on execution start; completion order is
// whatever the network gives back. The concurrency ceiling is a hard upper
// bound on simultaneously processing requests and is never exceeded, even
// transiently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenbot/internal/cache"
	"tokenbot/internal/config"
	"tokenbot/pkg/types"
)

// Store persists terminal results beyond process lifetime. The dispatcher
// works identically with a nil store; persistence failures are logged and
// never affect the in-memory ledger.
type Store interface {
	SaveResult(res types.ExecutionResult) error
}

// inflightEntry tracks one running execution so it can be cancelled.
type inflightEntry struct {
	req    types.TransactionRequest
	cancel context.CancelFunc
}

// Dispatcher is the pipeline control loop. While slots are free under the
// concurrency ceiling it pops the highest-priority request and runs a new
// Execution for it without blocking the loop. Finished requests are
// retired into the result ledger, which is pruned to the configured
// retention window after every terminal transition.
type Dispatcher struct {
	cfg       config.PipelineConfig
	queue     *AdmissionQueue
	signer    Signer
	submitter Submitter
	txCache   *cache.Cache[types.ExecutionResult]
	cacheTTL  time.Duration
	store     Store
	logger    *slog.Logger

	mu        sync.Mutex
	inflight  map[string]*inflightEntry // execution ID -> entry
	byRequest map[string]string         // request ID -> execution ID
	results   []types.ExecutionResult   // ledger, in completion order

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher wires the control loop. txCache is the read-through cache
// of completed transactions by hash; store may be nil.
func NewDispatcher(
	cfg config.PipelineConfig,
	signer Signer,
	submitter Submitter,
	txCache *cache.Cache[types.ExecutionResult],
	cacheTTL time.Duration,
	store Store,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		queue:     NewAdmissionQueue(logger),
		signer:    signer,
		submitter: submitter,
		txCache:   txCache,
		cacheTTL:  cacheTTL,
		store:     store,
		logger:    logger.With("component", "dispatcher"),
		inflight:  make(map[string]*inflightEntry),
		byRequest: make(map[string]string),
		wake:      make(chan struct{}, 1),
	}
}

// Submit validates a request and admits it. A malformed request is
// rejected with an ErrValidation wrap and never enters the queue. A
// duplicate ID is logged and ignored.
func (d *Dispatcher) Submit(req types.TransactionRequest) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.Status = types.StatusPending

	if d.queue.Push(req) {
		d.logger.Info("request admitted",
			"id", req.ID,
			"token", req.TokenAddress,
			"action", req.Action,
			"priority", req.Priority,
		)
	}
	d.signal()
	return nil
}

// Cancel stops a request by request ID or execution ID. A request still in
// the queue is removed outright and produces no result. A processing
// request is cancelled cooperatively: its context is cancelled, the
// in-flight network call is not recalled, and the execution still settles
// into a terminal Failed result. Returns false when the ID is unknown.
func (d *Dispatcher) Cancel(id string) bool {
	if d.queue.Remove(id) {
		d.logger.Info("queued request cancelled", "id", id)
		return true
	}

	d.mu.Lock()
	execID := id
	if mapped, ok := d.byRequest[id]; ok {
		execID = mapped
	}
	entry, ok := d.inflight[execID]
	d.mu.Unlock()
	if !ok {
		return false
	}

	entry.cancel()
	d.logger.Info("processing request marked for discard",
		"id", entry.req.ID,
		"execution_id", execID,
	)
	return true
}

// Run drives the dispatch loop until ctx is cancelled, then waits for all
// in-flight executions to settle so no request is abandoned without a
// terminal state.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.dispatch(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-d.wake:
		}
	}
}

// dispatch fills free slots from the queue. Only Run calls it, so the
// in-flight count can only shrink underneath it and the ceiling holds.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.inflight) >= d.cfg.MaxConcurrent {
			d.mu.Unlock()
			return
		}
		req, ok := d.queue.PopHighestPriority()
		if !ok {
			d.mu.Unlock()
			return
		}

		execID := uuid.NewString()
		execCtx, cancel := context.WithCancel(ctx)
		d.inflight[execID] = &inflightEntry{req: req, cancel: cancel}
		d.byRequest[req.ID] = execID
		d.mu.Unlock()

		d.wg.Add(1)
		go d.runExecution(execCtx, execID, cancel, req)
	}
}

// runExecution runs one state machine and settles its result. A panic in
// the execution settles the request as Failed instead of killing the
// pipeline; the slot is always freed.
func (d *Dispatcher) runExecution(ctx context.Context, execID string, cancel context.CancelFunc, req types.TransactionRequest) {
	defer d.wg.Done()
	defer cancel()

	var result types.ExecutionResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				req.Status = types.StatusFailed
				req.Error = fmt.Sprintf("execution panicked: %v", r)
				result = types.ExecutionResult{
					Request:   req,
					Success:   false,
					Error:     req.Error,
					Timestamp: time.Now(),
				}
				d.logger.Error("execution panicked", "id", req.ID, "panic", r)
			}
		}()
		result = NewExecution(req, d.signer, d.submitter, d.logger).Run(ctx)
	}()

	d.settle(execID, result)
}

// settle retires a finished execution: exactly one ledger append per
// request, read-through cache fill on success, optional persistence, and
// a retention prune of the ledger.
func (d *Dispatcher) settle(execID string, result types.ExecutionResult) {
	d.mu.Lock()
	delete(d.inflight, execID)
	delete(d.byRequest, result.Request.ID)
	d.results = append(d.results, result)
	d.pruneLocked()
	d.mu.Unlock()

	if result.Success && result.TxHash != "" {
		d.txCache.Set(result.TxHash, result, d.cacheTTL)
	}
	if d.store != nil {
		if err := d.store.SaveResult(result); err != nil {
			d.logger.Error("persist result failed", "id", result.Request.ID, "error", err)
		}
	}

	d.signal()
}

// pruneLocked drops ledger entries older than the retention window. The
// ledger is in completion order, so pruning trims from the front.
func (d *Dispatcher) pruneLocked() {
	cutoff := time.Now().Add(-d.cfg.ResultRetention)
	i := 0
	for i < len(d.results) && d.results[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.results = append([]types.ExecutionResult(nil), d.results[i:]...)
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Status reports where a request currently is: pending in the queue,
// processing in flight, or terminal in the ledger.
func (d *Dispatcher) Status(requestID string) (types.Status, bool) {
	if d.queue.Contains(requestID) {
		return types.StatusPending, true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if execID, ok := d.byRequest[requestID]; ok {
		if _, ok := d.inflight[execID]; ok {
			return types.StatusProcessing, true
		}
	}
	for i := len(d.results) - 1; i >= 0; i-- {
		if d.results[i].Request.ID == requestID {
			return d.results[i].Request.Status, true
		}
	}
	return "", false
}

// Results returns a copy of the ledger.
func (d *Dispatcher) Results() []types.ExecutionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.ExecutionResult, len(d.results))
	copy(out, d.results)
	return out
}

// Pending returns the queued requests in dispatch order.
func (d *Dispatcher) Pending() []types.TransactionRequest {
	return d.queue.Snapshot()
}

// InFlight returns the number of requests currently processing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// LookupByHash resolves a completed transaction by hash, serving from the
// read-through cache first and falling back to a ledger scan (repopulating
// the cache on a hit).
func (d *Dispatcher) LookupByHash(hash string) (types.ExecutionResult, bool) {
	if res, ok := d.txCache.Get(hash); ok {
		return res, true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.results) - 1; i >= 0; i-- {
		if d.results[i].TxHash == hash {
			res := d.results[i]
			d.txCache.Set(hash, res, d.cacheTTL)
			return res, true
		}
	}
	return types.ExecutionResult{}, false
}

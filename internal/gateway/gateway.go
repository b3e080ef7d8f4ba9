// Package gateway wraps every outbound call with rate limiting and bounded
// retry.
//
// Each upstream (market-data API, submission RPC) gets its own Gateway so
// its permit pool is the single point of admission control for that host.
// A call runs under the retry budget: on a retryable failure the delay
// grows by the configured backoff factor and a fresh permit is acquired
// for the next attempt; after the budget is exhausted the last error is
// surfaced as a *GatewayError. Callers never retry above this layer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tokenbot/internal/config"
)

// GatewayError is returned after the retry budget for a call is exhausted
// or a permanent error stops retrying early.
type GatewayError struct {
	Op       string // logical operation name, e.g. "market.fetch_snapshot"
	Attempts int    // how many attempts were made
	Err      error  // last error observed
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the gateway fails fast instead of burning the
// retry budget. Use it for errors that cannot succeed on retry, such as
// 4xx responses or a missing entity.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Gateway throttles and retries calls to a single upstream.
type Gateway struct {
	name       string
	limiter    *Limiter
	maxRetries int
	baseDelay  time.Duration
	backoff    float64
	logger     *slog.Logger
}

// New creates a gateway for the named upstream.
func New(name string, cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		name:       name,
		limiter:    NewLimiter(cfg.CallsPerSecond),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		backoff:    cfg.RetryBackoffFactor,
		logger:     logger.With("component", "gateway", "upstream", name),
	}
}

// Limiter exposes the permit pool, so callers that need raw admission
// control (without the retry loop) still go through the same pool.
func (g *Gateway) Limiter() *Limiter { return g.limiter }

// Do runs fn under the gateway's rate limit and retry budget. Every
// attempt acquires its own permit. fn's error decides what happens next:
// nil ends the call, an error wrapped with Permanent stops retrying, any
// other error is retried until the budget runs out.
func (g *Gateway) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := g.baseDelay
	var lastErr error

	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if err := g.limiter.Acquire(ctx); err != nil {
			return &GatewayError{Op: op, Attempts: attempt - 1, Err: err}
		}

		err := g.invoke(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			g.logger.Warn("call failed permanently",
				"op", op,
				"attempt", attempt,
				"error", perm.err,
			)
			return &GatewayError{Op: op, Attempts: attempt, Err: perm.err}
		}

		g.logger.Warn("call failed",
			"op", op,
			"attempt", attempt,
			"remaining", g.maxRetries-attempt,
			"error", err,
		)

		if attempt == g.maxRetries {
			return &GatewayError{Op: op, Attempts: attempt, Err: lastErr}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &GatewayError{Op: op, Attempts: attempt, Err: ctx.Err()}
		}
		delay = time.Duration(float64(delay) * g.backoff)
	}

	return &GatewayError{Op: op, Attempts: g.maxRetries, Err: lastErr}
}

// invoke runs one attempt, converting a panic in the call body into an
// error so the permit discipline and retry loop stay intact.
func (g *Gateway) invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call panicked: %v", r)
		}
	}()
	return fn(ctx)
}

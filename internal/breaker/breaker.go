// Package breaker isolates failures of the intelligence provider.
// After a run of consecutive failures the breaker opens and rejects
// calls immediately for a cooldown window; the first call after the
// window acts as the probe. Instances are injectable so each provider
// can carry its own breaker and tests can run in isolation.
package breaker

import (
	"context"
	"sync"
	"time"

	"forest/internal/logging"
	"forest/internal/types"
)

// Defaults used by New.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 60 * time.Second
)

// Func is a provider call guarded by the breaker. It must honor ctx
// cancellation on a best-effort basis; a call that outlives its timeout
// has its result discarded.
type Func func(ctx context.Context) (string, error)

// Breaker counts consecutive failures and opens after a threshold.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	cooldown         time.Duration
	failureCount     int
	openUntil        time.Time
	now              func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a breaker. Non-positive arguments fall back to defaults.
func New(failureThreshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	b := &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanExecute reports whether a call would be attempted right now.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().After(b.openUntil) || b.now().Equal(b.openUntil)
}

// RecordSuccess resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts a failure and opens the breaker once the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.openUntil = b.now().Add(b.cooldown)
		logging.Breaker("circuit opened after %d consecutive failures, cooldown until %s",
			b.failureCount, b.openUntil.Format(time.RFC3339))
		// The next call after the cooldown is the probe; its failure
		// re-opens immediately, so keep the counter at threshold.
		b.failureCount = b.failureThreshold
	}
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Execute runs fn guarded by the breaker, racing it against timeout.
// While open it returns CircuitOpenError without invoking fn. A timeout
// counts as a failure and yields CircuitTimeoutError; the late result of
// a timed-out call is discarded.
func (b *Breaker) Execute(ctx context.Context, fn Func, timeout time.Duration) (string, error) {
	b.mu.Lock()
	if b.now().Before(b.openUntil) {
		retryAt := b.openUntil
		b.mu.Unlock()
		return "", &types.CircuitOpenError{RetryAt: retryAt}
	}
	b.mu.Unlock()

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		result string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := fn(callCtx)
		ch <- outcome{result: result, err: err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case out := <-ch:
		if out.err != nil {
			b.RecordFailure()
			return "", out.err
		}
		b.RecordSuccess()
		return out.result, nil
	case <-timeoutCh:
		b.RecordFailure()
		logging.Breaker("provider call timed out after %s", timeout)
		return "", &types.CircuitTimeoutError{Timeout: timeout}
	case <-ctx.Done():
		b.RecordFailure()
		return "", ctx.Err()
	}
}

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"forest/internal/types"
)

// fakeClock is an adjustable clock for breaker tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failingFn(err error) Func {
	return func(ctx context.Context) (string, error) { return "", err }
}

func succeedingFn(result string) Func {
	return func(ctx context.Context) (string, error) { return result, nil }
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := New(3, time.Minute, WithClock(clock.now))
	ctx := context.Background()

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		if !b.CanExecute() {
			t.Fatalf("breaker opened early, after %d failures", i)
		}
		if _, err := b.Execute(ctx, failingFn(boom), 0); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}

	if b.CanExecute() {
		t.Fatal("expected breaker open after threshold failures")
	}

	var openErr *types.CircuitOpenError
	if _, err := b.Execute(ctx, succeedingFn("x"), 0); !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError while open, got %v", err)
	}
}

func TestBreaker_ClosesAfterCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := New(2, time.Minute, WithClock(clock.now))
	ctx := context.Background()

	boom := errors.New("boom")
	b.Execute(ctx, failingFn(boom), 0)
	b.Execute(ctx, failingFn(boom), 0)
	if b.CanExecute() {
		t.Fatal("expected open breaker")
	}

	clock.advance(30 * time.Second)
	if b.CanExecute() {
		t.Fatal("expected breaker still open mid-cooldown")
	}

	clock.advance(31 * time.Second)
	if !b.CanExecute() {
		t.Fatal("expected breaker closed after cooldown")
	}

	// Probe success resets the counter entirely.
	if _, err := b.Execute(ctx, succeedingFn("ok"), 0); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := b.FailureCount(); got != 0 {
		t.Errorf("expected counter reset after probe success, got %d", got)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := New(2, time.Minute, WithClock(clock.now))
	ctx := context.Background()

	boom := errors.New("boom")
	b.Execute(ctx, failingFn(boom), 0)
	b.Execute(ctx, failingFn(boom), 0)

	clock.advance(2 * time.Minute)
	if !b.CanExecute() {
		t.Fatal("expected closed breaker after cooldown")
	}

	// The probe fails: the breaker must reopen immediately.
	b.Execute(ctx, failingFn(boom), 0)
	if b.CanExecute() {
		t.Fatal("expected breaker reopened after failed probe")
	}
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := New(1, time.Minute)
	ctx := context.Background()

	slow := func(ctx context.Context) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	_, err := b.Execute(ctx, slow, 20*time.Millisecond)
	var timeoutErr *types.CircuitTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected CircuitTimeoutError, got %v", err)
	}
	if b.CanExecute() {
		t.Fatal("expected breaker open after timeout with threshold 1")
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	b.Execute(ctx, failingFn(boom), 0)
	b.Execute(ctx, failingFn(boom), 0)
	b.Execute(ctx, succeedingFn("ok"), 0)
	b.Execute(ctx, failingFn(boom), 0)
	b.Execute(ctx, failingFn(boom), 0)

	// Two failures, a success, two failures: never three consecutive.
	if !b.CanExecute() {
		t.Fatal("breaker opened without threshold consecutive failures")
	}
}

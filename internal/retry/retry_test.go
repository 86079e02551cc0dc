package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fastPolicy = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var notified int

	err := Do(context.Background(), fastPolicy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	}, func(err error, wait time.Duration) { notified++ })

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if notified != 2 {
		t.Errorf("expected 2 notifications, got %d", notified)
	}
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), fastPolicy, func(ctx context.Context) error {
		calls++
		return boom
	}, nil)

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentShortCircuits(t *testing.T) {
	notFound := errors.New("not found")
	calls := 0

	err := Do(context.Background(), fastPolicy, func(ctx context.Context) error {
		calls++
		return Permanent(notFound)
	}, nil)

	if !errors.Is(err, notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithData_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fastPolicy, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := Policy{MaxAttempts: 5, InitialInterval: time.Second, MaxInterval: time.Second}
	err := Do(ctx, slow, func(ctx context.Context) error {
		return errors.New("unavailable")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_AttemptTimeoutBoundsStalledCalls(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, AttemptTimeout: 20 * time.Millisecond}
	calls := 0

	start := time.Now()
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected the stalled call to be retried once, got %d calls", calls)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected attempts to be cut off, took %s", elapsed)
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunAttempt_Success(t *testing.T) {
	executed := false
	timedOut, err := runAttempt(context.Background(), time.Second, func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("runAttempt() error = %v", err)
	}
	if timedOut {
		t.Error("timedOut = true, want false")
	}
	if !executed {
		t.Error("Operation was not executed")
	}
}

func TestRunAttempt_Error(t *testing.T) {
	testErr := errors.New("test error")
	timedOut, err := runAttempt(context.Background(), time.Second, func(ctx context.Context) error {
		return testErr
	})

	if err != testErr {
		t.Errorf("runAttempt() error = %v, want %v", err, testErr)
	}
	if timedOut {
		t.Error("timedOut = true, want false")
	}
}

func TestRunAttempt_TimeoutAbandons(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	timedOut, _ := runAttempt(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		// Ignores cancellation; the attempt must not wait for it
		<-release
		return nil
	})

	if !timedOut {
		t.Error("timedOut = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("runAttempt() took %v, want prompt abandonment", elapsed)
	}
}

func TestRunAttempt_OperationSeesDeadline(t *testing.T) {
	timedOut, err := runAttempt(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !timedOut {
		t.Errorf("timedOut = false (err %v), want true", err)
	}
}

func TestRunAttempt_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	timedOut, err := runAttempt(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if timedOut {
		t.Error("timedOut = true, want false for parent cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("runAttempt() error = %v, want context.Canceled", err)
	}
}

func TestRunAttempt_Panic(t *testing.T) {
	_, err := runAttempt(context.Background(), time.Second, func(ctx context.Context) error {
		panic("boom")
	})

	if !errors.Is(err, ErrOperationPanic) {
		t.Errorf("runAttempt() error = %v, want ErrOperationPanic", err)
	}
}

func TestAttemptRecord_TimedOut(t *testing.T) {
	rec := AttemptRecord{Err: &AttemptTimeoutError{Key: "svc", Timeout: time.Second}}
	if !rec.TimedOut() {
		t.Error("TimedOut() = false, want true")
	}

	rec = AttemptRecord{Err: Retryable(errors.New("refused"))}
	if rec.TimedOut() {
		t.Error("TimedOut() = true, want false")
	}
}

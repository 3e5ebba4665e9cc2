package swarm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_RunsAndStops(t *testing.T) {
	var calls atomic.Int64
	p := New(func(ctx context.Context) (int, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
		return 1, nil
	}, WithLimits(2, 4))

	p.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 20 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	st := p.GetStats()
	if st.Processed < 20 {
		t.Fatalf("Expected at least 20 processed messages, got %d", st.Processed)
	}
	if st.ActiveWorkers != 0 {
		t.Errorf("Expected no active workers after stop, got %d", st.ActiveWorkers)
	}
	if st.Busy != 0 {
		t.Errorf("Expected no busy workers after stop, got %d", st.Busy)
	}
}

func TestPool_ThrottleShrinks(t *testing.T) {
	errThrottle := errors.New("throttled")
	var scaled atomic.Int64
	p := New(func(ctx context.Context) (int, error) {
		time.Sleep(time.Millisecond)
		return 1, errThrottle
	},
		WithLimits(8, 8),
		WithThrottle(func(err error) bool { return errors.Is(err, errThrottle) }),
		WithScaleHook(func(n int) { scaled.Store(int64(n)) }),
		WithIdleDelay(time.Millisecond),
	)

	p.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for p.GetStats().Concurrency > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	st := p.GetStats()
	if st.Concurrency != 1 {
		t.Errorf("Expected throttling to shrink concurrency to 1, got %d", st.Concurrency)
	}
	if st.Throttled == 0 {
		t.Error("Expected throttled steps to be counted")
	}
	if scaled.Load() == 0 {
		t.Error("Expected the scale hook to be called")
	}
}

func TestPool_StopIsIdempotent(t *testing.T) {
	p := New(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, nil
	})
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}

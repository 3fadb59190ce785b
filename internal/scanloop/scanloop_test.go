package scanloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunFiresUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, time.Millisecond, 0, func(context.Context) { fired.Add(1) })
	}()

	deadline := time.After(2 * time.Second)
	for fired.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("loop fired %d times, want at least 2", fired.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestRunPassesTheLoopContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan context.Context, 1)
	go Run(ctx, time.Millisecond, 0, func(fnCtx context.Context) {
		select {
		case got <- fnCtx:
		default:
		}
	})

	select {
	case fnCtx := <-got:
		if fnCtx != ctx {
			t.Fatal("fn did not receive the loop context")
		}
	case <-time.After(time.Second):
		t.Fatal("fn never ran")
	}
}

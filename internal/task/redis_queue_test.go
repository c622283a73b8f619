package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisQueue(t *testing.T, maxAttempts int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	queue, err := NewRedisQueue(context.Background(), RedisQueueConfig{
		Address:     server.Addr(),
		Queue:       "tests",
		BlockWait:   time.Second,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })
	return queue, server
}

func TestRedisQueuePushConsume(t *testing.T) {
	queue, _ := newTestRedisQueue(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const total = 30
	for i := 0; i < total; i++ {
		if err := queue.Push(ctx, Payload{}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if n, err := queue.Len(ctx); err != nil || n != total {
		t.Fatalf("expected %d queued, got %d (%v)", total, n, err)
	}

	var processed atomic.Int32
	consumeCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- queue.Consume(consumeCtx, 4, HandlerFunc(func(context.Context, *Execution) error {
			if processed.Add(1) == total {
				stop()
			}
			return nil
		}))
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("consume: %v", err)
	}
	if processed.Load() != total {
		t.Fatalf("expected %d processed, got %d", total, processed.Load())
	}
}

func TestRedisQueueRequeuesFailedTask(t *testing.T) {
	queue, _ := newTestRedisQueue(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.Push(ctx, Payload{}); err != nil {
		t.Fatalf("push: %v", err)
	}

	attempts := make(chan int, 4)
	consumeCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- queue.Consume(consumeCtx, 1, HandlerFunc(func(_ context.Context, exec *Execution) error {
			attempts <- exec.Attempt
			if exec.Attempt == 2 {
				stop()
				return nil
			}
			return errors.New("boom")
		}))
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("consume: %v", err)
	}
	close(attempts)
	var seen []int
	for a := range attempts {
		seen = append(seen, a)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("unexpected attempts %v", seen)
	}
}

func TestRedisQueueResetIsIdempotent(t *testing.T) {
	queue, server := newTestRedisQueue(t, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = queue.Push(ctx, Payload{})
	}
	for i := 0; i < 2; i++ {
		if err := queue.Reset(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
	if server.Exists("tests") {
		t.Fatal("expected queue key to be deleted")
	}
}

func TestRedisQueueRequiresAddress(t *testing.T) {
	if _, err := NewRedisQueue(context.Background(), RedisQueueConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

package postgres

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"TaskBench/internal/task"
)

func openTestQueue(t *testing.T, maxAttempts int) *Queue {
	t.Helper()
	url := os.Getenv("TASKBENCH_POSTGRES_URL")
	if url == "" {
		t.Skip("TASKBENCH_POSTGRES_URL 未设置")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q, err := Open(ctx, Config{
		ConnectionString: url,
		Queue:            "tests-" + t.Name(),
		PollInterval:     10 * time.Millisecond,
		MaxAttempts:      maxAttempts,
		RetryAttempts:    1,
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = q.Reset(context.Background())
		_ = q.Close()
	})
	if err := q.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return q
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Name != "postgres" || cfg.Queue != "default" || cfg.MaxAttempts != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RetryAttempts != 3 || cfg.MaxConns != 10 {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
}

func TestOpenRequiresConnectionString(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestPushConsume(t *testing.T) {
	q := openTestQueue(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const total = 25
	for i := 0; i < total; i++ {
		if err := q.Push(ctx, task.Payload{}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var processed atomic.Int64
	consumeCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Consume(consumeCtx, 4, task.HandlerFunc(func(context.Context, *task.Execution) error {
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
		t.Fatalf("expected %d tasks, processed %d", total, processed.Load())
	}
}

func TestFailedTaskRequeued(t *testing.T) {
	q := openTestQueue(t, 2)
	ctx := context.Background()
	if err := q.Push(ctx, task.Payload{}); err != nil {
		t.Fatalf("push: %v", err)
	}
	claimed, err := q.Claim(ctx, 5)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	if err := q.Complete(ctx, claimed[0], errors.New("boom")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	claimed, err = q.Claim(ctx, 5)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim retry: %v (%d)", err, len(claimed))
	}
	if claimed[0].Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", claimed[0].Attempt)
	}
}

package bench

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

func TestRunConsumeStreamScenario(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := task.NewMemoryQueue(8)
	var handled atomic.Int32
	handler := task.HandlerFunc(func(context.Context, *task.Execution) error {
		handled.Add(1)
		return nil
	})

	go func() {
		for i := 0; i < 5; i++ {
			if err := queue.Push(ctx, task.Payload{}); err != nil {
				t.Errorf("push: %v", err)
				return
			}
		}
	}()

	elapsed, err := RunConsume(ctx, queue, handler, 5, WithWorkers(2))
	if err != nil {
		t.Fatalf("run consume: %v", err)
	}
	if elapsed <= 0 {
		t.Fatalf("expected a positive duration, got %v", elapsed)
	}
	if handled.Load() != 5 {
		t.Fatalf("expected exactly 5 handled tasks, got %d", handled.Load())
	}
}

func TestRunConsumeWaitsForTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := task.NewMemoryQueue(8)
	for i := 0; i < 4; i++ {
		_ = queue.Push(ctx, task.Payload{})
	}

	done := make(chan error, 1)
	go func() {
		_, err := RunConsume(ctx, queue, EmptyJob, 5)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("run returned after 4 of 5 completions: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	_ = queue.Push(ctx, task.Payload{})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run consume: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("run did not stop after the fifth completion")
	}
}

func TestRunConsumeFailureNeedsExtraAttempt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const target = 4
	queue := task.NewMemoryQueue(16)
	for i := 0; i < target+1; i++ {
		_ = queue.Push(ctx, task.Payload{})
	}

	var attempts atomic.Int32
	handler := task.HandlerFunc(func(context.Context, *task.Execution) error {
		if attempts.Add(1) == 2 {
			return errBoom
		}
		return nil
	})

	if _, err := RunConsume(ctx, queue, handler, target); err != nil {
		t.Fatalf("run consume: %v", err)
	}
	if attempts.Load() != target+1 {
		t.Fatalf("expected %d attempts, got %d", target+1, attempts.Load())
	}
}

func TestRunConsumeFailureHeavyMix(t *testing.T) {
	const target = 6
	handler := FailEvery(2, EmptyJob)

	t.Run("successes", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		queue := task.NewMemoryQueue(16)
		for i := 0; i < target; i++ {
			_ = queue.Push(ctx, task.Payload{})
		}
		_, err := RunConsume(ctx, queue, handler, target)
		if xerrors.CodeOf(err) != xerrors.CodeTimeout {
			t.Fatalf("expected TIMEOUT when failures keep the target out of reach, got %v", err)
		}
	})

	t.Run("attempts", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		queue := task.NewMemoryQueue(16)
		for i := 0; i < target; i++ {
			_ = queue.Push(ctx, task.Payload{})
		}
		if _, err := RunConsume(ctx, queue, handler, target, WithPolicy(CountAttempts)); err != nil {
			t.Fatalf("run consume: %v", err)
		}
	})
}

func TestRunConsumeZeroTarget(t *testing.T) {
	var consumed atomic.Bool
	source := sourceFunc(func(context.Context, int, task.Handler) error {
		consumed.Store(true)
		return nil
	})
	if _, err := RunConsume(context.Background(), source, EmptyJob, 0); err != nil {
		t.Fatalf("run consume: %v", err)
	}
	if consumed.Load() {
		t.Fatal("zero target must not consume anything")
	}
}

func TestRunConsumeRejectsNegativeTarget(t *testing.T) {
	_, err := RunConsume(context.Background(), task.NewMemoryQueue(1), EmptyJob, -1)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestRunConsumeSourceExhaustedEarly(t *testing.T) {
	queue := task.NewMemoryQueue(4)
	_ = queue.Push(context.Background(), task.Payload{})

	handler := task.HandlerFunc(func(context.Context, *task.Execution) error {
		_ = queue.Close()
		return nil
	})
	_, err := RunConsume(context.Background(), queue, handler, 3)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestRunConsumeFreshStatePerCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queue := task.NewMemoryQueue(16)
	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			_ = queue.Push(ctx, task.Payload{})
		}
		if _, err := RunConsume(ctx, queue, EmptyJob, 3); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}
}

func TestRunConsumeOuterLayersSeeHandlerErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	queue := task.NewMemoryQueue(4)
	_ = queue.Push(ctx, task.Payload{})

	var outerSawError atomic.Bool
	outer := func(next task.Handler) task.Handler {
		return task.HandlerFunc(func(ctx context.Context, exec *task.Execution) error {
			err := next.Handle(ctx, exec)
			if err != nil {
				outerSawError.Store(true)
			}
			return nil
		})
	}
	// 外层吞掉错误不影响内层计数，失败的任务仍不计入完成数。
	_, err := RunConsume(ctx, queue, task.HandlerFunc(fail), 1, WithLayers(outer))
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !outerSawError.Load() {
		t.Fatal("outer layer should observe the handler error")
	}
}

type flakySink struct {
	calls atomic.Int32
	fatal int32
}

func (s *flakySink) Push(context.Context, task.Payload) error {
	n := s.calls.Add(1)
	if s.fatal > 0 && n == s.fatal {
		return xerrors.New(xerrors.CodeBackendUnavailable, "connection lost")
	}
	if n%2 == 0 {
		return xerrors.New(xerrors.CodeSinkFailure, "insert failed")
	}
	return nil
}

func TestRunPushCountsFailures(t *testing.T) {
	result, err := RunPush(context.Background(), &flakySink{}, 10)
	if err != nil {
		t.Fatalf("run push: %v", err)
	}
	if result.Pushed != 5 || result.Failed != 5 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunPushStopsOnFatalError(t *testing.T) {
	sink := &flakySink{fatal: 3}
	result, err := RunPush(context.Background(), sink, 10)
	if xerrors.CodeOf(err) != xerrors.CodeBackendUnavailable {
		t.Fatalf("expected BACKEND_UNAVAILABLE, got %v", err)
	}
	if sink.calls.Load() != 3 || result.Pushed != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result %+v after %d calls", result, sink.calls.Load())
	}
}

type stallingSink struct{}

func (stallingSink) Push(ctx context.Context, _ task.Payload) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunPushTimeoutIsCoded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := RunPush(ctx, stallingSink{}, 10)
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should wrap the deadline error, got %v", err)
	}
	if result.Pushed != 0 || result.Elapsed <= 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

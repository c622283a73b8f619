package bench

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

// EmptyJob 不做任何工作，测量结果只反映后端与框架本身的开销。
var EmptyJob task.Handler = task.HandlerFunc(func(context.Context, *task.Execution) error {
	return nil
})

// SleepJob 模拟耗时 d 的工作，等待可被 ctx 打断。
func SleepJob(d time.Duration) task.Handler {
	if d <= 0 {
		return EmptyJob
	}
	return task.HandlerFunc(func(ctx context.Context, _ *task.Execution) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}

// FailEvery 让第 k、2k、3k... 次调用失败，其余调用交给 next。k <= 0 时不注入失败。
func FailEvery(k int, next task.Handler) task.Handler {
	if k <= 0 {
		return next
	}
	var calls atomic.Uint64
	return task.HandlerFunc(func(ctx context.Context, exec *task.Execution) error {
		if n := calls.Add(1); n%uint64(k) == 0 {
			return xerrors.New(xerrors.CodeHandlerFailure, fmt.Sprintf("第 %d 次调用按配置失败", n))
		}
		return next.Handle(ctx, exec)
	})
}

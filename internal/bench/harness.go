package bench

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

// CodeIncomplete 表示来源在达到目标完成数之前就已耗尽。
const CodeIncomplete xerrors.Code = "RUN_INCOMPLETE"

// ErrIncomplete 可与 errors.Is 配合判断未完成的测量。
var ErrIncomplete = xerrors.New(CodeIncomplete, "来源耗尽但未达到目标完成数")

func init() {
	xerrors.Register(CodeIncomplete, xerrors.Attributes{
		Message:  "run finished before reaching target",
		Severity: xerrors.SeverityWarning,
	})
}

type runConfig struct {
	name        string
	workers     int
	policy      CountPolicy
	middlewares []task.Middleware
	logger      *slog.Logger
}

// RunOption 定义一次消费测量的可选配置。
type RunOption func(*runConfig)

// WithRunName 设置日志中使用的名称。
func WithRunName(name string) RunOption {
	return func(c *runConfig) {
		c.name = name
	}
}

// WithWorkers 设置消费协程数量。
func WithWorkers(workers int) RunOption {
	return func(c *runConfig) {
		c.workers = workers
	}
}

// WithPolicy 设置计数策略。
func WithPolicy(policy CountPolicy) RunOption {
	return func(c *runConfig) {
		c.policy = policy
	}
}

// WithLayers 追加位于计数中间件外层的中间件。
func WithLayers(middlewares ...task.Middleware) RunOption {
	return func(c *runConfig) {
		c.middlewares = append(c.middlewares, middlewares...)
	}
}

// WithRunLogger 指定日志输出。
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// RunConsume 测量从 source 中处理 target 个任务所需的时间。
//
// 每次调用都会创建新的计数器、停止信号与 Runner，计时从 Runner 启动开始，
// 到第 target 次完成触发停止信号为止。source 在此之前耗尽时返回 ErrIncomplete，
// ctx 先结束时返回 CodeTimeout 错误。
func RunConsume(ctx context.Context, source task.Source, handler task.Handler, target int, opts ...RunOption) (time.Duration, error) {
	if target < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("目标任务数不能为负: %d", target))
	}
	cfg := runConfig{name: "consume", workers: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	signal := NewSignal()
	gate := NewGate(&Counter{}, signal, uint64(target), WithCountPolicy(cfg.policy))
	layers := append(append([]task.Middleware(nil), cfg.middlewares...), gate.Layer())
	runner := NewRunner(cfg.name, source, handler,
		WithWorkerCount(cfg.workers),
		WithRunnerLogger(cfg.logger),
		WithMiddleware(layers...),
		WithStopSignal(signal),
	)

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	select {
	case <-gate.Done():
		elapsed := time.Since(start)
		// 等待 Runner 收尾，保证返回后不再有处理器在运行。
		<-done
		return elapsed, nil
	case err := <-done:
		elapsed := time.Since(start)
		if signal.Fired() {
			return elapsed, nil
		}
		progress := fmt.Sprintf("已完成 %d/%d 个任务", gate.Completed(), target)
		switch {
		case err == nil:
			return elapsed, xerrors.New(CodeIncomplete, "来源耗尽，"+progress)
		case stdErrors.Is(err, context.Canceled), stdErrors.Is(err, context.DeadlineExceeded):
			return elapsed, xerrors.Wrap(xerrors.CodeTimeout, err, "测量被中止，"+progress)
		default:
			return elapsed, err
		}
	}
}

// PushResult 是一次写入测量的结果。
type PushResult struct {
	Elapsed time.Duration
	Pushed  int
	Failed  int
}

// RunPush 顺序写入 n 个任务并计时。单个写入失败只计数，连接不可用、
// 队列关闭或 ctx 结束会中止测量。
func RunPush(ctx context.Context, sink task.Sink, n int) (PushResult, error) {
	var result PushResult
	if n < 0 {
		return result, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("写入任务数不能为负: %d", n))
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := sink.Push(ctx, task.Payload{}); err != nil {
			if fatalPushError(ctx, err) {
				result.Elapsed = time.Since(start)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, xerrors.Wrap(xerrors.CodeTimeout, ctxErr,
						fmt.Sprintf("写入测量被中止，已写入 %d/%d", result.Pushed, n))
				}
				return result, err
			}
			result.Failed++
			continue
		}
		result.Pushed++
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

func fatalPushError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if stdErrors.Is(err, task.ErrQueueClosed) {
		return true
	}
	return xerrors.CodeOf(err) == xerrors.CodeBackendUnavailable
}

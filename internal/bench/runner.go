package bench

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync/atomic"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

// ErrRunnerUsed 表示 Runner 已经运行过。每轮测试必须创建新的 Runner。
var ErrRunnerUsed = xerrors.New(xerrors.CodeRunnerUsed, "runner 已经运行过，不可复用")

// Runner 驱动后端的 Source，把任务交给包装后的处理器，直到停止信号触发、
// 来源耗尽或外部取消。
type Runner struct {
	name        string
	source      task.Source
	handler     task.Handler
	workerCount int
	middlewares []task.Middleware
	stop        *Signal
	logger      *slog.Logger
	started     atomic.Bool
}

// RunnerOption 定义可选配置。
type RunnerOption func(*Runner)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) RunnerOption {
	return func(r *Runner) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithRunnerLogger 指定日志输出。
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMiddleware 追加中间件，先追加的位于外层。
func WithMiddleware(middlewares ...task.Middleware) RunnerOption {
	return func(r *Runner) {
		r.middlewares = append(r.middlewares, middlewares...)
	}
}

// WithStopSignal 指定停止信号。
func WithStopSignal(signal *Signal) RunnerOption {
	return func(r *Runner) {
		r.stop = signal
	}
}

// NewRunner 构造 Runner。
func NewRunner(name string, source task.Source, handler task.Handler, opts ...RunnerOption) *Runner {
	r := &Runner{
		name:        name,
		source:      source,
		handler:     handler,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 消费任务直至结束。停止信号触发或来源耗尽时返回 nil，外部取消时返回
// ctx.Err()，来源的致命错误原样向上传递。Run 返回前所有处理器都已退出。
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil || r.handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "runner 未配置任务来源或处理器")
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrRunnerUsed
	}

	var stop <-chan struct{}
	if r.stop != nil {
		if r.stop.Fired() {
			r.logDebug("停止信号已触发，跳过消费")
			return nil
		}
		stop = r.stop.Done()
	}

	handler := task.Chain(r.handler, r.middlewares...)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumed := make(chan error, 1)
	go func() {
		consumed <- r.source.Consume(runCtx, r.workerCount, handler)
	}()

	select {
	case <-stop:
		cancel()
		<-consumed
		r.logDebug("收到停止信号")
		return nil
	case <-ctx.Done():
		cancel()
		<-consumed
		r.logDebug("外部取消", slog.Any("error", ctx.Err()))
		return ctx.Err()
	case err := <-consumed:
		return r.finish(ctx, err)
	}
}

func (r *Runner) finish(ctx context.Context, err error) error {
	switch {
	case r.stop != nil && r.stop.Fired():
		return nil
	case err == nil:
		r.logDebug("任务来源已耗尽")
		return nil
	case ctx.Err() != nil && stdErrors.Is(err, ctx.Err()):
		return ctx.Err()
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeSourceFailure, err, "消费任务失败")
}

func (r *Runner) logDebug(msg string, attrs ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Debug(msg, append([]any{slog.String("runner", r.name)}, attrs...)...)
}

package task

import (
	"context"
)

// Handler 处理后端投递的一次任务执行。
type Handler interface {
	Handle(ctx context.Context, exec *Execution) error
}

// HandlerFunc 让普通函数满足 Handler。
type HandlerFunc func(ctx context.Context, exec *Execution) error

// Handle 实现 Handler。
func (f HandlerFunc) Handle(ctx context.Context, exec *Execution) error {
	return f(ctx, exec)
}

// Middleware 包装一个 Handler，返回满足同一契约的新 Handler。
type Middleware func(Handler) Handler

// Chain 按顺序组合中间件，第一个中间件位于最外层。
func Chain(handler Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			handler = middlewares[i](handler)
		}
	}
	return handler
}

// Sink 负责向后端投递任务。
type Sink interface {
	Push(ctx context.Context, payload Payload) error
}

// Source 负责把后端中的任务交给处理器。
//
// Consume 在来源耗尽（队列关闭）时返回 nil，在 ctx 取消时返回 ctx.Err()，
// 其余返回值均视为致命错误。单个任务处理失败不会中止 Consume。
// Consume 返回前必须等待所有正在执行的处理器退出。
type Source interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
}

// Backend 同时具备 Sink 与 Source 能力，并支持在两轮测试之间清空状态。
type Backend interface {
	Sink
	Source
	Name() string
	Reset(ctx context.Context) error
	Close() error
}

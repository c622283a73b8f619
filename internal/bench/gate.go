package bench

import (
	"context"
	"strings"
	"sync/atomic"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

// CountPolicy 决定哪些处理结果计入完成数。
type CountPolicy int

const (
	// CountSuccesses 只统计成功的处理，失败的任务既不计数也不会触发停止。
	CountSuccesses CountPolicy = iota
	// CountAttempts 统计每一次处理，无论成功与否，用于限定总工作量。
	CountAttempts
)

func (p CountPolicy) String() string {
	if p == CountAttempts {
		return "attempts"
	}
	return "successes"
}

// ParseCountPolicy 解析配置中的计数策略，空字符串视为 successes。
func ParseCountPolicy(value string) (CountPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "successes", "success":
		return CountSuccesses, nil
	case "attempts", "attempt":
		return CountAttempts, nil
	default:
		return CountSuccesses, xerrors.New(xerrors.CodeInvalidConfig, "未知的计数策略: "+value)
	}
}

// Counter 是一轮测试内所有 Gate 共享的完成计数器，只增不减。
type Counter struct {
	n atomic.Uint64
}

// incr 原子地加一并返回加一之前的值。
func (c *Counter) incr() uint64 {
	return c.n.Add(1) - 1
}

// Load 返回当前完成数。
func (c *Counter) Load() uint64 {
	return c.n.Load()
}

// Signal 是只会触发一次的停止信号，触发后所有等待者都能观察到。
type Signal struct {
	fired atomic.Bool
	done  chan struct{}
}

// NewSignal 创建未触发的停止信号。
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire 触发信号。只有第一次调用返回 true，之后的调用不产生任何效果。
func (s *Signal) Fire() bool {
	if !s.fired.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	return true
}

// Done 返回信号触发时关闭的 channel。
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired 报告信号是否已经触发。
func (s *Signal) Fired() bool {
	return s.fired.Load()
}

// Gate 包装任务处理器，在第 target 次完成时触发停止信号。
type Gate struct {
	counter *Counter
	signal  *Signal
	target  uint64
	policy  CountPolicy
}

// GateOption 定义 Gate 的可选配置。
type GateOption func(*Gate)

// WithCountPolicy 指定计数策略。
func WithCountPolicy(policy CountPolicy) GateOption {
	return func(g *Gate) {
		g.policy = policy
	}
}

// NewGate 构造 Gate。counter 与 signal 为 nil 时各自新建一份。
// target 为 0 时不需要任何任务完成，信号立即触发。
func NewGate(counter *Counter, signal *Signal, target uint64, opts ...GateOption) *Gate {
	if counter == nil {
		counter = &Counter{}
	}
	if signal == nil {
		signal = NewSignal()
	}
	g := &Gate{counter: counter, signal: signal, target: target}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if target == 0 {
		g.signal.Fire()
	}
	return g
}

// Layer 返回计数中间件。同一个 Gate 可以被多次包装，所有副本共享计数器与信号。
func (g *Gate) Layer() task.Middleware {
	return func(next task.Handler) task.Handler {
		return task.HandlerFunc(func(ctx context.Context, exec *task.Execution) error {
			err := next.Handle(ctx, exec)
			if err == nil || g.policy == CountAttempts {
				g.observe()
			}
			return err
		})
	}
}

func (g *Gate) observe() {
	v := g.counter.incr()
	if g.target > 0 && v == g.target-1 {
		g.signal.Fire()
	}
}

// Done 返回停止信号的 channel。
func (g *Gate) Done() <-chan struct{} {
	return g.signal.Done()
}

// Completed 返回已计入的完成数。
func (g *Gate) Completed() uint64 {
	return g.counter.Load()
}

// Target 返回目标完成数。
func (g *Gate) Target() uint64 {
	return g.target
}

package bench

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
	"TaskBench/pkg/logger"
)

// Mode 是一种测量方式。
type Mode string

const (
	ModePush    Mode = "push"
	ModeConsume Mode = "consume"
)

// Population 决定消费测量中任务的写入方式。
type Population string

const (
	// PopulateStream 在消费计时开始的同时并发写入任务。
	PopulateStream Population = "stream"
	// PopulatePrefill 在计时开始前写入全部任务。
	PopulatePrefill Population = "prefill"
)

// ParseMode 解析测量方式。
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModePush, ModeConsume:
		return Mode(value), nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidConfig, "未知的测量方式: "+value)
	}
}

// ParsePopulation 解析任务写入方式，空字符串视为 stream。
func ParsePopulation(value string) (Population, error) {
	switch Population(value) {
	case "", PopulateStream:
		return PopulateStream, nil
	case PopulatePrefill:
		return PopulatePrefill, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidConfig, "未知的任务写入方式: "+value)
	}
}

// Factory 打开一个待测后端。
type Factory func(ctx context.Context) (task.Backend, error)

// Target 是一个命名的待测后端变体。
type Target struct {
	Name string
	Open Factory
}

// Sample 记录一轮测量。
type Sample struct {
	Backend       string        `json:"backend"`
	Mode          Mode          `json:"mode"`
	Iteration     int           `json:"iteration"`
	Tasks         int           `json:"tasks"`
	Elapsed       time.Duration `json:"elapsed"`
	PushErrors    int           `json:"push_errors"`
	HandlerErrors int64         `json:"handler_errors"`
	Err           error         `json:"-"`
}

// OK 报告该轮测量是否成功。
func (s Sample) OK() bool {
	return s.Err == nil
}

// Throughput 返回每秒处理的任务数。
func (s Sample) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Tasks) / s.Elapsed.Seconds()
}

func (s Sample) logAttrs() []any {
	attrs := []any{
		slog.String("backend", s.Backend),
		slog.String("mode", string(s.Mode)),
		slog.Int("iteration", s.Iteration),
		slog.Int("tasks", s.Tasks),
		slog.Duration("elapsed", s.Elapsed),
		slog.Float64("tasks_per_second", s.Throughput()),
		slog.Int("push_errors", s.PushErrors),
		slog.Int64("handler_errors", s.HandlerErrors),
	}
	if s.Err != nil {
		attrs = append(attrs,
			slog.String("error", s.Err.Error()),
			slog.String("error_code", string(xerrors.CodeOf(s.Err))),
		)
	}
	return attrs
}

// Observer 接收每一轮测量结果，例如指标导出。
type Observer interface {
	ObserveSample(Sample)
}

// Driver 按后端、测量方式与轮次编排整个基准测试。
type Driver struct {
	tasks      int
	iterations int
	workers    int
	population Population
	timeout    time.Duration
	modes      []Mode
	handler    task.Handler
	policy     CountPolicy
	logger     *slog.Logger
	observers  []Observer
}

// DriverOption 定义可选配置。
type DriverOption func(*Driver)

// WithTasks 设置每轮的任务数。
func WithTasks(n int) DriverOption {
	return func(d *Driver) { d.tasks = n }
}

// WithIterations 设置每个后端、每种方式的轮数。
func WithIterations(n int) DriverOption {
	return func(d *Driver) { d.iterations = n }
}

// WithDriverWorkers 设置消费协程数量。
func WithDriverWorkers(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithPopulation 设置任务写入方式。
func WithPopulation(p Population) DriverOption {
	return func(d *Driver) { d.population = p }
}

// WithTimeout 设置单轮测量的超时时间。
func WithTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithModes 指定要执行的测量方式。
func WithModes(modes ...Mode) DriverOption {
	return func(d *Driver) {
		if len(modes) > 0 {
			d.modes = append([]Mode(nil), modes...)
		}
	}
}

// WithHandler 指定任务处理器，默认为 EmptyJob。
func WithHandler(handler task.Handler) DriverOption {
	return func(d *Driver) {
		if handler != nil {
			d.handler = handler
		}
	}
}

// WithDriverPolicy 设置计数策略。
func WithDriverPolicy(policy CountPolicy) DriverOption {
	return func(d *Driver) { d.policy = policy }
}

// WithDriverLogger 指定日志输出。
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver 注册测量结果观察者。
func WithObserver(observers ...Observer) DriverOption {
	return func(d *Driver) {
		for _, o := range observers {
			if o != nil {
				d.observers = append(d.observers, o)
			}
		}
	}
}

// NewDriver 构造 Driver 并校验参数。
func NewDriver(opts ...DriverOption) (*Driver, error) {
	d := &Driver{
		tasks:      10000,
		iterations: 10,
		workers:    1,
		population: PopulateStream,
		timeout:    2 * time.Minute,
		modes:      []Mode{ModePush, ModeConsume},
		handler:    EmptyJob,
		policy:     CountSuccesses,
		logger:     logger.Named("bench"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.tasks <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("每轮任务数必须为正: %d", d.tasks))
	}
	if d.iterations <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("轮数必须为正: %d", d.iterations))
	}
	for _, mode := range d.modes {
		if _, err := ParseMode(string(mode)); err != nil {
			return nil, err
		}
	}
	if _, err := ParsePopulation(string(d.population)); err != nil {
		return nil, err
	}
	return d, nil
}

// Run 依次测量每个后端。单轮失败会被记录为失败样本，测量继续进行；
// 只有 ctx 结束才会提前返回。
func (d *Driver) Run(ctx context.Context, targets []Target) (*Report, error) {
	report := &Report{}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d.runTarget(ctx, target, report)
	}
	return report, ctx.Err()
}

func (d *Driver) runTarget(ctx context.Context, target Target, report *Report) {
	log := d.logger.With(slog.String("backend", target.Name))
	if target.Open == nil {
		d.record(report, Sample{Backend: target.Name, Err: xerrors.New(xerrors.CodeInvalidArgument, "后端未配置打开方式")})
		return
	}
	backend, err := target.Open(ctx)
	if err != nil {
		log.Error("打开后端失败", slog.Any("error", err))
		for _, mode := range d.modes {
			d.record(report, Sample{Backend: target.Name, Mode: mode, Tasks: d.tasks, Err: err})
		}
		return
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("关闭后端失败", slog.Any("error", err))
		}
	}()

	log.Info("开始测量",
		slog.Int("tasks", d.tasks),
		slog.Int("iterations", d.iterations),
		slog.Int("workers", d.workers),
		slog.String("population", string(d.population)),
	)
	for _, mode := range d.modes {
		for i := 0; i < d.iterations; i++ {
			if ctx.Err() != nil {
				return
			}
			d.record(report, d.iteration(ctx, backend, target.Name, mode, i))
		}
	}
}

func (d *Driver) record(report *Report, sample Sample) {
	report.Add(sample)
	if sample.OK() {
		logger.Results().Info("测量完成", sample.logAttrs()...)
	} else {
		logger.Results().Warn("测量失败", sample.logAttrs()...)
	}
	for _, o := range d.observers {
		o.ObserveSample(sample)
	}
}

func (d *Driver) iteration(ctx context.Context, backend task.Backend, name string, mode Mode, i int) Sample {
	sample := Sample{Backend: name, Mode: mode, Iteration: i, Tasks: d.tasks}

	iterCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := backend.Reset(iterCtx); err != nil {
		sample.Err = err
		return sample
	}

	switch mode {
	case ModePush:
		result, err := RunPush(iterCtx, backend, d.tasks)
		sample.Elapsed = result.Elapsed
		sample.PushErrors = result.Failed
		sample.Err = err
	case ModeConsume:
		d.consume(iterCtx, backend, &sample)
	}

	// 清理使用外层 ctx，单轮超时后仍然需要清空残留任务。
	if err := backend.Reset(ctx); err != nil && sample.Err == nil {
		sample.Err = err
	}
	return sample
}

func (d *Driver) consume(ctx context.Context, backend task.Backend, sample *Sample) {
	var failures atomic.Int64
	countFailures := func(next task.Handler) task.Handler {
		return task.HandlerFunc(func(ctx context.Context, exec *task.Execution) error {
			err := next.Handle(ctx, exec)
			if err != nil {
				failures.Add(1)
			}
			return err
		})
	}
	opts := []RunOption{
		WithRunName(sample.Backend),
		WithWorkers(d.workers),
		WithPolicy(d.policy),
		WithLayers(countFailures),
		WithRunLogger(d.logger),
	}
	defer func() { sample.HandlerErrors = failures.Load() }()

	if d.population == PopulatePrefill {
		pushed, err := RunPush(ctx, backend, d.tasks)
		sample.PushErrors = pushed.Failed
		if err != nil {
			sample.Err = err
			return
		}
		sample.Elapsed, sample.Err = RunConsume(ctx, backend, d.handler, d.tasks, opts...)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pushed, err := RunPush(gctx, backend, d.tasks)
		sample.PushErrors = pushed.Failed
		return err
	})
	g.Go(func() error {
		elapsed, err := RunConsume(gctx, backend, d.handler, d.tasks, opts...)
		sample.Elapsed = elapsed
		return err
	})
	sample.Err = g.Wait()
}

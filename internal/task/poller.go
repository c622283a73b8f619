package task

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Claimer 是以批次方式领取任务的存储，例如关系型数据库。
type Claimer interface {
	// Claim 原子地领取最多 limit 个待处理任务，没有任务时返回空切片。
	Claim(ctx context.Context, limit int) ([]*Execution, error)
	// Complete 根据处理结果回写任务状态，handlerErr 为 nil 表示成功。
	Complete(ctx context.Context, exec *Execution, handlerErr error) error
}

// PollConfig 控制轮询行为。
type PollConfig struct {
	BufferSize int
	Interval   time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	return c
}

// Poll 以轮询方式从 Claimer 领取任务并分发给 workerCount 个工作协程。
// 没有待处理任务时按 Interval 等待，等待可被 ctx 打断。
func Poll(ctx context.Context, claimer Claimer, cfg PollConfig, workerCount int, handler Handler) error {
	cfg = cfg.withDefaults()
	if workerCount <= 0 {
		workerCount = 1
	}

	jobs := make(chan *Execution, cfg.BufferSize)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case exec, ok := <-jobs:
					if !ok {
						return nil
					}
					handlerErr := handler.Handle(gctx, exec)
					if err := claimer.Complete(gctx, exec, handlerErr); err != nil && gctx.Err() == nil {
						return err
					}
				}
			}
		})
	}

	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			batch, err := claimer.Claim(gctx, cfg.BufferSize)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			if len(batch) == 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				continue
			}
			for _, exec := range batch {
				select {
				case <-gctx.Done():
					return nil
				case jobs <- exec:
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

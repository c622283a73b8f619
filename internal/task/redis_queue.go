package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "TaskBench/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address     string
	Password    string
	DB          int
	Queue       string
	BlockWait   time.Duration
	MaxAttempts int
}

// RedisQueue 使用 Redis list 实现简单的任务队列。
type RedisQueue struct {
	client      *redis.Client
	queue       string
	wait        time.Duration
	maxAttempts int
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidConfig, "Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "taskbench:tasks"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, maxAttempts: maxAttempts}, nil
}

// Name 返回后端名称。
func (q *RedisQueue) Name() string {
	return "redis"
}

// Push 将任务投递到 Redis。
func (q *RedisQueue) Push(ctx context.Context, payload Payload) error {
	data, err := NewExecution(payload).Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, data).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取任务。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				values, err := q.client.BRPop(gctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if gctx.Err() != nil {
						return nil
					}
					if errors.Is(err, redis.ErrClosed) {
						// 连接关闭视为来源耗尽。
						return nil
					}
					return xerrors.Wrap(xerrors.CodeSourceFailure, err, "Redis 取任务失败")
				}
				if len(values) != 2 {
					continue
				}
				exec, err := DecodeExecution([]byte(values[1]))
				if err != nil {
					continue
				}
				if handlerErr := handler.Handle(gctx, exec); handlerErr != nil && exec.Attempt < q.maxAttempts {
					q.requeue(gctx, exec.Retry())
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// requeue 把失败的任务放回队尾，使其在下一次 BRPOP 时被优先取出。
func (q *RedisQueue) requeue(ctx context.Context, exec *Execution) {
	data, err := exec.Encode()
	if err != nil {
		return
	}
	_ = q.client.RPush(ctx, q.queue, data).Err()
}

// Reset 删除队列中的所有任务。
func (q *RedisQueue) Reset(ctx context.Context) error {
	if err := q.client.Del(ctx, q.queue).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeResetFailure, err, "清空 Redis 队列失败")
	}
	return nil
}

// Len 返回队列中积压的任务数量。
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.queue).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeSourceFailure, err, "查询 Redis 队列长度失败")
	}
	return n, nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

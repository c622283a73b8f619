// Package backend builds task queue backends from configuration.
package backend

import (
	"context"
	"fmt"

	"TaskBench/internal/bench"
	"TaskBench/internal/config"
	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/storage/postgres"
	"TaskBench/internal/storage/sqlstore"
	"TaskBench/internal/task"
)

var (
	_ task.Backend = (*task.MemoryQueue)(nil)
	_ task.Backend = (*task.RedisQueue)(nil)
	_ task.Backend = (*task.RabbitMQQueue)(nil)
	_ task.Backend = (*sqlstore.Store)(nil)
	_ task.Backend = (*postgres.Queue)(nil)
	_ task.Claimer = (*sqlstore.Store)(nil)
	_ task.Claimer = (*postgres.Queue)(nil)
)

// Open 根据配置创建并连接一个后端。SQL 后端会在返回前完成迁移。
func Open(ctx context.Context, cfg config.BackendConfig) (task.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case config.DriverMemory:
		return task.NewMemoryQueue(cfg.BufferSize), nil
	case config.DriverRedis:
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:     cfg.DSN,
			Password:    cfg.Password,
			DB:          cfg.DB,
			Queue:       cfg.Queue,
			BlockWait:   cfg.BlockWait,
			MaxAttempts: cfg.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.DriverRabbitMQ:
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.DSN,
			Queue:    cfg.Queue,
			Prefetch: cfg.Prefetch,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.DriverSQLite, config.DriverMySQL:
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Name:         cfg.Name,
			Dialect:      sqlstore.Dialect(cfg.Driver),
			DSN:          cfg.DSN,
			Queue:        cfg.Queue,
			BufferSize:   cfg.BufferSize,
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxAttempts,
			MaxOpenConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		q, err := postgres.Open(ctx, postgres.Config{
			Name:             cfg.Name,
			ConnectionString: cfg.DSN,
			Queue:            cfg.Queue,
			BufferSize:       cfg.BufferSize,
			PollInterval:     cfg.PollInterval,
			MaxAttempts:      cfg.MaxAttempts,
			MaxConns:         int32(cfg.MaxConns),
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, xerrors.New(xerrors.CodeUnsupportedDriver, fmt.Sprintf("不支持的驱动: %s", cfg.Driver))
	}
}

// Targets 把后端配置转换为基准测试目标，每轮测量前按需打开连接。
func Targets(cfgs []config.BackendConfig) []bench.Target {
	targets := make([]bench.Target, 0, len(cfgs))
	for _, cfg := range cfgs {
		cfg := cfg
		targets = append(targets, bench.Target{
			Name: cfg.Name,
			Open: func(ctx context.Context) (task.Backend, error) {
				return Open(ctx, cfg)
			},
		})
	}
	return targets
}

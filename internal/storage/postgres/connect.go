package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	xerrors "TaskBench/internal/errors"
)

// Config 描述 PostgreSQL 连接池与队列参数。
type Config struct {
	Name              string
	ConnectionString  string
	Queue             string
	BufferSize        int
	PollInterval      time.Duration
	MaxAttempts       int
	MaxConns          int32
	MinConns          int32
	HealthCheckPeriod time.Duration
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	RetryAttempts     int
	RetryInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "postgres"
	}
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns <= 0 {
		c.MinConns = 2
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 10 * time.Minute
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	return c
}

// connect 建立连接池，失败时按线性退避重试。
func connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, xerrors.New(xerrors.CodeInvalidConfig, "PostgreSQL 连接串不能为空")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "解析 PostgreSQL 连接串失败")
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	var lastErr error
	for i := range cfg.RetryAttempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, ctx.Err(), "连接 PostgreSQL 被取消")
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}
	return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, lastErr, "无法连接到 PostgreSQL")
}

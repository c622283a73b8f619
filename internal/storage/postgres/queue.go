package postgres

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

const (
	statusPending = "pending"
	statusRunning = "running"
	statusDone    = "done"
	statusFailed  = "failed"
)

// Queue 基于 PostgreSQL 表实现的任务队列。
type Queue struct {
	pool *pgxpool.Pool
	cfg  Config
}

// Open 建立连接池并执行迁移。
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	cfg = cfg.withDefaults()
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	q := &Queue{pool: pool, cfg: cfg}
	if err := q.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "初始化任务表失败")
	}
	return q, nil
}

// Name 返回后端名称。
func (q *Queue) Name() string {
	return q.cfg.Name
}

// Push 插入一条待处理任务。
func (q *Queue) Push(ctx context.Context, payload task.Payload) error {
	exec := task.NewExecution(payload)
	body, err := json.Marshal(exec.Payload)
	if err != nil {
		return xerrors.Wrap(task.CodeTaskEncoding, err, "编码任务载荷失败")
	}
	_, err = q.pool.Exec(ctx, `INSERT INTO taskbench_tasks
        (id, queue, payload, status, attempts, max_attempts, created_at)
        VALUES ($1, $2, $3, $4, 0, $5, $6)`,
		exec.ID, q.cfg.Queue, string(body), statusPending, q.cfg.MaxAttempts, time.Now().UnixNano())
	if err != nil {
		var pgErr *pgconn.PgError
		if stdErrors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.Wrap(xerrors.CodeSinkFailure, err, "任务 ID 冲突", xerrors.WithRetryable(false))
		}
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "写入任务失败")
	}
	return nil
}

// Consume 以轮询方式消费任务。
func (q *Queue) Consume(ctx context.Context, workerCount int, handler task.Handler) error {
	return task.Poll(ctx, q, task.PollConfig{
		BufferSize: q.cfg.BufferSize,
		Interval:   q.cfg.PollInterval,
	}, workerCount, handler)
}

// Claim 领取最多 limit 个待处理任务。
func (q *Queue) Claim(ctx context.Context, limit int) ([]*task.Execution, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := q.pool.Query(ctx, `UPDATE taskbench_tasks
        SET status = $1, attempts = attempts + 1, lock_at = $2
        WHERE id IN (
            SELECT id FROM taskbench_tasks
            WHERE queue = $3 AND status = $4
            ORDER BY created_at
            LIMIT $5
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, payload, attempts`,
		statusRunning, time.Now().UnixNano(), q.cfg.Queue, statusPending, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "领取任务失败")
	}
	execs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*task.Execution, error) {
		var (
			exec    task.Execution
			payload string
		)
		if err := row.Scan(&exec.ID, &payload, &exec.Attempt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &exec.Payload); err != nil {
			return nil, err
		}
		return &exec, nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "解析任务行失败")
	}
	return execs, nil
}

// Complete 回写任务状态。
func (q *Queue) Complete(ctx context.Context, exec *task.Execution, handlerErr error) error {
	if handlerErr == nil {
		if _, err := q.pool.Exec(ctx, `UPDATE taskbench_tasks SET status = $1, done_at = $2 WHERE id = $3`,
			statusDone, time.Now().UnixNano(), exec.ID); err != nil {
			return xerrors.Wrap(xerrors.CodeSourceFailure, err, "标记任务完成失败")
		}
		return nil
	}
	if _, err := q.pool.Exec(ctx, `UPDATE taskbench_tasks
        SET status = CASE WHEN attempts < max_attempts THEN $1 ELSE $2 END,
            last_error = $3, lock_at = NULL
        WHERE id = $4`,
		statusPending, statusFailed, handlerErr.Error(), exec.ID); err != nil {
		return xerrors.Wrap(xerrors.CodeSourceFailure, err, "标记任务失败状态出错")
	}
	return nil
}

// Reset 删除当前队列中的所有任务。
func (q *Queue) Reset(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM taskbench_tasks WHERE queue = $1`, q.cfg.Queue); err != nil {
		return xerrors.Wrap(xerrors.CodeResetFailure, err, "清空任务表失败")
	}
	return nil
}

// Counts 按状态统计当前队列中的任务数量。
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, `SELECT status, COUNT(*) FROM taskbench_tasks WHERE queue = $1 GROUP BY status`, q.cfg.Queue)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "统计任务失败")
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "解析任务统计失败")
		}
		counts[status] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "遍历任务统计失败")
	}
	return counts, nil
}

// Healthcheck 检查连接池可用性。
func (q *Queue) Healthcheck(ctx context.Context) error {
	if err := q.pool.Ping(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "PostgreSQL 健康检查失败")
	}
	return nil
}

// Close 关闭连接池。
func (q *Queue) Close() error {
	if q == nil || q.pool == nil {
		return nil
	}
	q.pool.Close()
	return nil
}

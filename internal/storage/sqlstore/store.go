package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "TaskBench/internal/errors"
	"TaskBench/internal/task"
)

const (
	statusPending = "pending"
	statusRunning = "running"
	statusDone    = "done"
	statusFailed  = "failed"
)

// Store 使用关系型数据库实现任务队列，支持 SQLite 与 MySQL。
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open 连接数据库并执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Dialect {
	case DialectSQLite, DialectMySQL:
	default:
		return nil, xerrors.New(xerrors.CodeUnsupportedDriver, "不支持的 SQL 方言: "+string(cfg.Dialect))
	}
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Dialect)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, cfg: cfg}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "初始化任务表失败")
	}
	return store, nil
}

// Name 返回后端名称。
func (s *Store) Name() string {
	return s.cfg.Name
}

// Push 插入一条待处理任务。
func (s *Store) Push(ctx context.Context, payload task.Payload) error {
	exec := task.NewExecution(payload)
	body, err := json.Marshal(exec.Payload)
	if err != nil {
		return xerrors.Wrap(task.CodeTaskEncoding, err, "编码任务载荷失败")
	}
	const stmt = `INSERT INTO taskbench_tasks
        (id, queue, payload, status, attempts, max_attempts, created_at)
        VALUES (?, ?, ?, ?, 0, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		exec.ID,
		s.cfg.Queue,
		string(body),
		statusPending,
		s.cfg.MaxAttempts,
		time.Now().UnixNano(),
	)
	if err != nil {
		return classifyPushError(err)
	}
	return nil
}

// Consume 以轮询方式消费任务。
func (s *Store) Consume(ctx context.Context, workerCount int, handler task.Handler) error {
	return task.Poll(ctx, s, task.PollConfig{
		BufferSize: s.cfg.BufferSize,
		Interval:   s.cfg.PollInterval,
	}, workerCount, handler)
}

// Claim 领取最多 limit 个待处理任务。
func (s *Store) Claim(ctx context.Context, limit int) ([]*task.Execution, error) {
	if limit <= 0 {
		limit = 1
	}
	if s.cfg.Dialect == DialectSQLite {
		return s.claimReturning(ctx, limit)
	}
	return s.claimLocked(ctx, limit)
}

// claimReturning 依赖 SQLite 的 UPDATE ... RETURNING，在单条语句内完成领取。
func (s *Store) claimReturning(ctx context.Context, limit int) ([]*task.Execution, error) {
	const stmt = `UPDATE taskbench_tasks
        SET status = ?, attempts = attempts + 1, lock_at = ?
        WHERE id IN (
            SELECT id FROM taskbench_tasks
            WHERE queue = ? AND status = ?
            ORDER BY created_at
            LIMIT ?
        )
        RETURNING id, payload, attempts`
	rows, err := s.db.QueryContext(ctx, stmt, statusRunning, time.Now().UnixNano(), s.cfg.Queue, statusPending, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "领取任务失败")
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// claimLocked 在事务中使用 FOR UPDATE SKIP LOCKED 领取任务，适用于 MySQL 8。
func (s *Store) claimLocked(ctx context.Context, limit int) ([]*task.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "开启领取事务失败")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, payload, attempts FROM taskbench_tasks
        WHERE queue = ? AND status = ?
        ORDER BY created_at
        LIMIT ?
        FOR UPDATE SKIP LOCKED`, s.cfg.Queue, statusPending, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "查询待处理任务失败")
	}
	execs, err := scanExecutions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(execs)+2)
	args = append(args, statusRunning, time.Now().UnixNano())
	for _, exec := range execs {
		exec.Attempt++
		args = append(args, exec.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(execs)), ",")
	stmt := `UPDATE taskbench_tasks SET status = ?, attempts = attempts + 1, lock_at = ? WHERE id IN (` + placeholders + `)`
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "标记任务运行中失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "提交领取事务失败")
	}
	return execs, nil
}

// Complete 回写任务状态。失败的任务在尝试次数未用尽时重新进入待处理状态。
func (s *Store) Complete(ctx context.Context, exec *task.Execution, handlerErr error) error {
	if handlerErr == nil {
		_, err := s.db.ExecContext(ctx, `UPDATE taskbench_tasks SET status = ?, done_at = ? WHERE id = ?`,
			statusDone, time.Now().UnixNano(), exec.ID)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeSourceFailure, err, "标记任务完成失败")
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE taskbench_tasks
        SET status = CASE WHEN attempts < max_attempts THEN ? ELSE ? END,
            last_error = ?, lock_at = NULL
        WHERE id = ?`,
		statusPending, statusFailed, handlerErr.Error(), exec.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSourceFailure, err, "标记任务失败状态出错")
	}
	return nil
}

// Reset 删除当前队列中的所有任务。
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM taskbench_tasks WHERE queue = ?`, s.cfg.Queue); err != nil {
		return xerrors.Wrap(xerrors.CodeResetFailure, err, "清空任务表失败")
	}
	return nil
}

// Counts 按状态统计当前队列中的任务数量。
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM taskbench_tasks WHERE queue = ? GROUP BY status`, s.cfg.Queue)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "统计任务失败")
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "解析任务统计失败")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "遍历任务统计失败")
	}
	return counts, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanExecutions(rows *sql.Rows) ([]*task.Execution, error) {
	var execs []*task.Execution
	for rows.Next() {
		var (
			exec    task.Execution
			payload string
		)
		if err := rows.Scan(&exec.ID, &payload, &exec.Attempt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "解析任务行失败")
		}
		if err := json.Unmarshal([]byte(payload), &exec.Payload); err != nil {
			return nil, xerrors.Wrap(task.CodeTaskEncoding, err, "解析任务载荷失败")
		}
		execs = append(execs, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "遍历任务行失败")
	}
	return execs, nil
}

func classifyPushError(err error) error {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "任务 ID 冲突", xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(xerrors.CodeSinkFailure, err, "写入任务失败")
}

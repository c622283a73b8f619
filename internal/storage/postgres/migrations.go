package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"TaskBench/deploy/migrations"
)

func (q *Queue) runMigrations(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	rows, err := q.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("解析 schema_migrations 失败: %w", err)
	}
	applied := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	files, err := migrations.Load("postgres")
	if err != nil {
		return err
	}
	for _, migration := range files {
		if _, ok := applied[migration.Version]; ok {
			continue
		}
		if err := q.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) applyMigration(ctx context.Context, migration migrations.Migration) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range migration.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移 %s 失败: %w", migration.Name, err)
		}
	}
	// 并发启动的多个进程可能同时迁移，版本冲突时忽略。
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)
        ON CONFLICT (version) DO NOTHING`, migration.Version, time.Now().Unix()); err != nil {
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	xerrors "TaskBench/internal/errors"
)

// Dialect 标识 SQL 方言。
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// Config 描述关系型存储的连接与轮询参数。
type Config struct {
	Name            string
	Dialect         Dialect
	DSN             string
	Queue           string
	BufferSize      int
	PollInterval    time.Duration
	MaxAttempts     int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// InMemory 判断 DSN 是否指向 SQLite 内存数据库。
func (c Config) InMemory() bool {
	if c.Dialect != DialectSQLite {
		return false
	}
	return c.DSN == ":memory:" || strings.Contains(c.DSN, "mode=memory")
}

func (c Config) driverName() string {
	if c.Dialect == DialectSQLite {
		// modernc.org/sqlite 注册的驱动名。
		return "sqlite"
	}
	return "mysql"
}

func (c Config) dataSource() string {
	if c.Dialect != DialectSQLite || c.InMemory() || strings.Contains(c.DSN, "?") {
		return c.DSN
	}
	return c.DSN + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidConfig, "数据库 DSN 不能为空")
	}

	db, err := sql.Open(cfg.driverName(), cfg.dataSource())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "打开数据库失败")
	}

	switch {
	case cfg.Dialect == DialectSQLite:
		// SQLite 只有一个写者；内存库每个连接都是独立数据库，必须固定在单个连接上。
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(20)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			db.SetMaxIdleConns(10)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "无法连接到数据库")
	}
	return db, nil
}

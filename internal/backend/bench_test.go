package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"TaskBench/internal/bench"
	"TaskBench/internal/config"
)

const benchTasks = 10000

func benchmarkBackend(b *testing.B, cfg config.BackendConfig) {
	ctx := context.Background()
	q, err := Open(ctx, withDefaults(cfg))
	if err != nil {
		b.Fatalf("open %s: %v", cfg.Name, err)
	}
	defer q.Close()

	b.Run("consume/10000", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			if err := q.Reset(ctx); err != nil {
				b.Fatalf("reset: %v", err)
			}
			b.StartTimer()

			errCh := make(chan error, 1)
			go func() {
				_, err := bench.RunPush(ctx, q, benchTasks)
				errCh <- err
			}()
			if _, err := bench.RunConsume(ctx, q, bench.EmptyJob, benchTasks); err != nil {
				b.Fatalf("consume: %v", err)
			}
			if err := <-errCh; err != nil {
				b.Fatalf("push: %v", err)
			}
		}
	})

	b.Run("push/10000", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			if err := q.Reset(ctx); err != nil {
				b.Fatalf("reset: %v", err)
			}
			b.StartTimer()
			if _, err := bench.RunPush(ctx, q, benchTasks); err != nil {
				b.Fatalf("push: %v", err)
			}
		}
	})

	if err := q.Reset(ctx); err != nil {
		b.Fatalf("vacuum: %v", err)
	}
}

func envBackend(b *testing.B, env string, cfg config.BackendConfig) config.BackendConfig {
	dsn := os.Getenv(env)
	if dsn == "" {
		b.Skip(env + " 未设置")
	}
	cfg.DSN = dsn
	return cfg
}

func BenchmarkMemory(b *testing.B) {
	benchmarkBackend(b, config.BackendConfig{Name: "memory", Driver: config.DriverMemory, BufferSize: benchTasks})
}

func BenchmarkSQLiteInMemory(b *testing.B) {
	benchmarkBackend(b, config.BackendConfig{Name: "sqlite_in_memory", Driver: config.DriverSQLite, DSN: ":memory:", BufferSize: 1000})
}

func BenchmarkSQLiteInFile(b *testing.B) {
	dsn := filepath.Join(b.TempDir(), "taskbench.db")
	benchmarkBackend(b, config.BackendConfig{Name: "sqlite_in_file", Driver: config.DriverSQLite, DSN: dsn, BufferSize: 1000})
}

func BenchmarkRedis(b *testing.B) {
	server := miniredis.NewMiniRedis()
	if err := server.Start(); err != nil {
		b.Fatalf("start miniredis: %v", err)
	}
	defer server.Close()
	benchmarkBackend(b, config.BackendConfig{Name: "redis", Driver: config.DriverRedis, DSN: server.Addr(), BlockWait: time.Second})
}

func BenchmarkMySQL(b *testing.B) {
	benchmarkBackend(b, envBackend(b, "TASKBENCH_MYSQL_DSN", config.BackendConfig{Name: "mysql", Driver: config.DriverMySQL, BufferSize: 1000}))
}

func BenchmarkPostgres(b *testing.B) {
	benchmarkBackend(b, envBackend(b, "TASKBENCH_POSTGRES_URL", config.BackendConfig{Name: "postgres_basic", Driver: config.DriverPostgres, BufferSize: 1000}))
}

func BenchmarkRabbitMQ(b *testing.B) {
	benchmarkBackend(b, envBackend(b, "TASKBENCH_RABBITMQ_URL", config.BackendConfig{Name: "rabbitmq", Driver: config.DriverRabbitMQ, Prefetch: 256}))
}

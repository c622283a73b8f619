package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "TaskBench/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Benchmark.Tasks != 10000 || cfg.Benchmark.Iterations != 10 || cfg.Benchmark.Workers != 1 {
		t.Fatalf("unexpected benchmark defaults %+v", cfg.Benchmark)
	}
	if cfg.Benchmark.Timeout != 2*time.Minute || cfg.Benchmark.Population != "stream" {
		t.Fatalf("unexpected benchmark defaults %+v", cfg.Benchmark)
	}
	if len(cfg.Backends) != 3 {
		t.Fatalf("expected memory and two sqlite variants, got %+v", cfg.Backends)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "bench.yaml", `
benchmark:
  tasks: 500
  iterations: 3
  workers: 4
  population: prefill
  timeout: 30s
  policy: attempts
backends:
  - name: redis_basic
    driver: redis
    dsn: localhost:6380
    max_attempts: 2
  - driver: sqlite
    poll_interval: 20ms
log:
  level: debug
  results:
    enabled: true
metrics:
  file: metrics.prom
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Benchmark.Tasks != 500 || cfg.Benchmark.Workers != 4 || cfg.Benchmark.Timeout != 30*time.Second {
		t.Fatalf("unexpected benchmark %+v", cfg.Benchmark)
	}
	redis := cfg.Backends[0]
	if redis.BlockWait != time.Second || redis.MaxAttempts != 2 || redis.BufferSize != 1000 {
		t.Fatalf("unexpected redis backend %+v", redis)
	}
	sqlite := cfg.Backends[1]
	if sqlite.Name != "sqlite" || sqlite.PollInterval != 20*time.Millisecond {
		t.Fatalf("unexpected sqlite backend %+v", sqlite)
	}
	wantDSN := filepath.Join(filepath.Dir(path), "data", "taskbench.db")
	if sqlite.DSN != wantDSN {
		t.Fatalf("sqlite dsn = %q, want %q", sqlite.DSN, wantDSN)
	}
	if cfg.Log.Results.Path != filepath.Join(filepath.Dir(path), "data", "results.jsonl") {
		t.Fatalf("unexpected results path %q", cfg.Log.Results.Path)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "bench.json", `{
  "benchmark": {"tasks": 42, "modes": ["consume"]},
  "backends": [{"driver": "postgres", "name": "postgres_basic", "dsn": "postgres://localhost/bench"}]
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Benchmark.Tasks != 42 || len(cfg.Benchmark.Modes) != 1 {
		t.Fatalf("unexpected benchmark %+v", cfg.Benchmark)
	}
	if cfg.Backends[0].Name != "postgres_basic" {
		t.Fatalf("unexpected backends %+v", cfg.Backends)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		body string
		code xerrors.Code
	}{
		"negative tasks": {"benchmark:\n  tasks: -1\n", xerrors.CodeInvalidConfig},
		"unknown driver": {"backends:\n  - driver: kafka\n    dsn: x\n", xerrors.CodeUnsupportedDriver},
		"missing dsn":    {"backends:\n  - driver: mysql\n", xerrors.CodeInvalidConfig},
		"duplicate name": {"backends:\n  - driver: memory\n  - driver: memory\n", xerrors.CodeInvalidConfig},
		"malformed yaml": {"benchmark: [", xerrors.CodeInvalidConfig},
		"bad duration":   {"benchmark:\n  timeout: soon\n", xerrors.CodeInvalidConfig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bench.yaml", tc.body))
			if xerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestResolveUsesEnv(t *testing.T) {
	path := writeFile(t, "bench.yaml", "benchmark:\n  tasks: 7\n")
	t.Setenv(EnvPath, path)
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Benchmark.Tasks != 7 {
		t.Fatalf("expected tasks from env config, got %d", cfg.Benchmark.Tasks)
	}

	t.Setenv(EnvPath, "")
	cfg, err = Resolve("")
	if err != nil || cfg.Benchmark.Tasks != 10000 {
		t.Fatalf("expected defaults without a path, got %+v, %v", cfg, err)
	}
}

func TestSelect(t *testing.T) {
	cfg := Default()
	selected, err := cfg.Select([]string{"sqlite"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("selecting by driver should return both sqlite variants, got %d", len(selected))
	}
	if _, err := cfg.Select([]string{"oracle"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

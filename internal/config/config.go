package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "TaskBench/internal/errors"
	"TaskBench/pkg/logger"
)

// EnvPath 是未通过命令行指定配置文件时读取的环境变量。
const EnvPath = "TASKBENCH_CONFIG"

// 支持的后端驱动。
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config 描述一次基准测试需要的全部配置。
type Config struct {
	Benchmark BenchmarkConfig `yaml:"benchmark" json:"benchmark"`
	Backends  []BackendConfig `yaml:"backends" json:"backends"`
	Log       logger.Config   `yaml:"log" json:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Runtime   RuntimeConfig   `yaml:"runtime" json:"runtime"`
}

// BenchmarkConfig 控制测量本身。
type BenchmarkConfig struct {
	Tasks      int           `yaml:"tasks" json:"tasks"`
	Iterations int           `yaml:"iterations" json:"iterations"`
	Workers    int           `yaml:"workers" json:"workers"`
	Population string        `yaml:"population" json:"population"`
	Modes      []string      `yaml:"modes" json:"modes"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	Policy     string        `yaml:"policy" json:"policy"`
	FailEvery  int           `yaml:"fail_every" json:"fail_every"`
	Work       time.Duration `yaml:"work" json:"work"`
}

// BackendConfig 描述一个待测后端。DSN 的含义随驱动变化：
// SQLite 为文件路径或 ":memory:"，MySQL 为 go-sql-driver DSN，
// Postgres 为连接 URL，Redis 为 host:port，RabbitMQ 为 amqp URL。
type BackendConfig struct {
	Name         string        `yaml:"name" json:"name"`
	Driver       string        `yaml:"driver" json:"driver"`
	DSN          string        `yaml:"dsn" json:"dsn"`
	Queue        string        `yaml:"queue" json:"queue"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	BufferSize   int           `yaml:"buffer_size" json:"buffer_size"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	BlockWait    time.Duration `yaml:"block_wait" json:"block_wait"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	Prefetch     int           `yaml:"prefetch" json:"prefetch"`
	MaxConns     int           `yaml:"max_conns" json:"max_conns"`
}

// MetricsConfig 控制 Prometheus 指标的导出。
type MetricsConfig struct {
	File    string `yaml:"file" json:"file"`
	Address string `yaml:"address" json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// Default 返回不依赖任何配置文件的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Resolve 优先使用 path，其次使用 TASKBENCH_CONFIG，都为空时返回默认配置。
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Load 解析指定路径的配置文件。JSON 是 YAML 的子集，两种格式共用同一个解析器。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidConfig, "配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "读取配置文件失败")
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "解析配置失败")
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	b := &c.Benchmark
	if b.Tasks == 0 {
		b.Tasks = 10000
	}
	if b.Iterations == 0 {
		b.Iterations = 10
	}
	if b.Workers == 0 {
		b.Workers = 1
	}
	if b.Population == "" {
		b.Population = "stream"
	}
	if len(b.Modes) == 0 {
		b.Modes = []string{"push", "consume"}
	}
	if b.Timeout == 0 {
		b.Timeout = 2 * time.Minute
	}
	if b.Policy == "" {
		b.Policy = "successes"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = []string{"stderr"}
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Log.Results.Enabled && c.Log.Results.Path == "" {
		c.Log.Results.Path = filepath.Join(c.Runtime.DataDir, "results.jsonl")
	}

	if len(c.Backends) == 0 {
		c.Backends = []BackendConfig{
			{Name: "memory", Driver: DriverMemory},
			{Name: "sqlite_in_memory", Driver: DriverSQLite, DSN: ":memory:"},
			{Name: "sqlite_in_file", Driver: DriverSQLite},
		}
	}
	for i := range c.Backends {
		c.Backends[i].applyDefaults(c.Runtime.DataDir)
	}
}

func (b *BackendConfig) applyDefaults(dataDir string) {
	b.Driver = strings.ToLower(strings.TrimSpace(b.Driver))
	if b.Name == "" {
		b.Name = b.Driver
	}
	if b.BufferSize == 0 {
		b.BufferSize = 1000
	}
	if b.PollInterval == 0 {
		b.PollInterval = 100 * time.Millisecond
	}
	if b.MaxAttempts == 0 {
		b.MaxAttempts = 1
	}
	switch b.Driver {
	case DriverSQLite:
		if b.DSN == "" {
			b.DSN = filepath.Join(dataDir, "taskbench.db")
		}
	case DriverRedis:
		if b.DSN == "" {
			b.DSN = "127.0.0.1:6379"
		}
		if b.BlockWait == 0 {
			b.BlockWait = time.Second
		}
	}
}

// Validate 在测量开始前检查配置，尽早暴露错误。
func (c *Config) Validate() error {
	b := c.Benchmark
	if b.Tasks <= 0 {
		return invalid("benchmark.tasks 必须为正，当前为 %d", b.Tasks)
	}
	if b.Iterations <= 0 {
		return invalid("benchmark.iterations 必须为正，当前为 %d", b.Iterations)
	}
	if b.Workers <= 0 {
		return invalid("benchmark.workers 必须为正，当前为 %d", b.Workers)
	}
	if b.Timeout < 0 || b.Work < 0 || b.FailEvery < 0 {
		return invalid("benchmark.timeout、work 与 fail_every 不能为负")
	}
	if len(c.Backends) == 0 {
		return invalid("至少需要配置一个后端")
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for _, backend := range c.Backends {
		if _, dup := seen[backend.Name]; dup {
			return invalid("后端名称重复: %s", backend.Name)
		}
		seen[backend.Name] = struct{}{}
		if err := backend.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate 检查单个后端配置。
func (b BackendConfig) Validate() error {
	switch b.Driver {
	case DriverMemory:
	case DriverRedis, DriverRabbitMQ, DriverSQLite, DriverMySQL, DriverPostgres:
		if strings.TrimSpace(b.DSN) == "" {
			return invalid("后端 %s 缺少 dsn", b.Name)
		}
	default:
		return xerrors.New(xerrors.CodeUnsupportedDriver, fmt.Sprintf("后端 %s 使用了不支持的驱动 %q", b.Name, b.Driver))
	}
	if b.BufferSize < 0 || b.MaxAttempts < 0 || b.PollInterval < 0 {
		return invalid("后端 %s 的 buffer_size、max_attempts 与 poll_interval 不能为负", b.Name)
	}
	return nil
}

// Select 只保留名称或驱动出现在 names 中的后端，names 为空时返回全部。
func (c *Config) Select(names []string) ([]BackendConfig, error) {
	if len(names) == 0 {
		return c.Backends, nil
	}
	var selected []BackendConfig
	for _, name := range names {
		matched := false
		for _, backend := range c.Backends {
			if backend.Name == name || backend.Driver == name {
				selected = append(selected, backend)
				matched = true
			}
		}
		if !matched {
			return nil, invalid("未找到后端: %s", name)
		}
	}
	return selected, nil
}

func invalid(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidConfig, fmt.Sprintf(format, args...))
}

package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config 描述运行日志与结果日志的输出方式。
type Config struct {
	Level       string        `yaml:"level" json:"level"`
	Format      string        `yaml:"format" json:"format"`
	OutputPaths []string      `yaml:"output_paths" json:"output_paths"`
	Results     ResultsConfig `yaml:"results" json:"results"`
}

// ResultsConfig 控制测量样本的落盘位置。每个样本写成一行 JSON，
// 同一次运行的样本共享 run_id，便于跨运行对比。
type ResultsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

func (c ResultsConfig) withDefaults() ResultsConfig {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 100
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 7
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 30
	}
	return c
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	resultsLogger *slog.Logger
	runID         = uuid.NewString()
	closers       []io.Closer
)

// Init 按配置替换全局日志。失败时保留原有日志不变。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	handler, err := newHandler(cfg.Format, cfg.OutputPaths, &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: true,
	})
	if err != nil {
		return err
	}
	base := slog.New(handler)

	results := base.With(slog.String("run_id", runID))
	if cfg.Results.Enabled {
		if results, err = buildResultsLogger(cfg.Results); err != nil {
			return err
		}
	}

	defaultLogger, resultsLogger = base, results
	return nil
}

func newHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		w, err := openOutput(out)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	w := writers[0]
	if len(writers) > 1 {
		w = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts), nil
	}
	return slog.NewJSONHandler(w, opts), nil
}

// buildResultsLogger 创建写入轮转文件的样本日志。
func buildResultsLogger(cfg ResultsConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("results log path cannot be empty when enabled")
	}
	cfg = cfg.withDefaults()

	writer, err := newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	closers = append(closers, writer)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: sampleAttr,
	})
	return slog.New(handler).With(slog.String("run_id", runID)), nil
}

// sampleAttr 把样本中的时长统一写成秒，时间戳写成 UTC。
func sampleAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
	}
	if a.Value.Kind() == slog.KindDuration {
		return slog.Float64(a.Key+"_seconds", a.Value.Duration().Seconds())
	}
	return a
}

func openOutput(path string) (io.Writer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	closers = append(closers, file)
	return file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L 返回运行日志。未调用 Init 时使用默认配置。
func L() *slog.Logger {
	mu.Lock()
	if defaultLogger == nil {
		defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	l := defaultLogger
	mu.Unlock()
	return l
}

// Results 返回记录测量样本的日志，每条记录都带有本次运行的 run_id。
// 未配置结果文件时写入运行日志。
func Results() *slog.Logger {
	mu.Lock()
	l := resultsLogger
	mu.Unlock()
	if l == nil {
		return L().With(slog.String("run_id", runID))
	}
	return l
}

// RunID 返回本进程的运行标识。
func RunID() string {
	return runID
}

// Sync 关闭所有文件输出。
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}

// Named 返回带组件分组的子日志。
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

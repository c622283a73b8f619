package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"TaskBench/internal/backend"
	"TaskBench/internal/bench"
	"TaskBench/internal/observability/metrics"
	"TaskBench/pkg/logger"
)

var (
	runBackends    []string
	runModes       []string
	runTasks       int
	runIterations  int
	runWorkers     int
	runPopulation  string
	runPolicy      string
	runFailEvery   int
	runWork        string
	runTimeout     string
	runMetricsFile string
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run push and consume measurements against the configured backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.Log); err != nil {
			return err
		}
		defer logger.Sync()

		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return err
		}
		selected, err := cfg.Select(runBackends)
		if err != nil {
			return err
		}
		opts, err := driverOptions(cfg)
		if err != nil {
			return err
		}

		recorder := metrics.NewRecorder()
		opts = append(opts, bench.WithObserver(recorder))
		if cfg.Metrics.Address != "" {
			go func() {
				if err := recorder.Serve(cmd.Context(), cfg.Metrics.Address); err != nil {
					logger.L().Error("指标服务退出", slog.Any("error", err))
				}
			}()
		}

		driver, err := bench.NewDriver(opts...)
		if err != nil {
			return err
		}
		report, runErr := driver.Run(cmd.Context(), backend.Targets(selected))
		if report != nil {
			report.Render(cmd.OutOrStdout())
		}
		if cfg.Metrics.File != "" {
			if err := recorder.WriteFile(cfg.Metrics.File); err != nil {
				logger.L().Error("写入指标文件失败", slog.Any("error", err), slog.String("path", cfg.Metrics.File))
			}
		}
		if runErr != nil {
			return runErr
		}
		if failed := report.Failed(); failed > 0 {
			return fmt.Errorf("%d 轮测量失败", failed)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runBackends, "backend", nil, "只测量指定的后端（名称或驱动），可重复")
	f.StringSliceVar(&runModes, "mode", nil, "测量方式：push、consume")
	f.IntVar(&runTasks, "tasks", 0, "每轮任务数")
	f.IntVar(&runIterations, "iterations", 0, "每个后端、每种方式的轮数")
	f.IntVar(&runWorkers, "workers", 0, "消费协程数量")
	f.StringVar(&runPopulation, "population", "", "任务写入方式：stream 或 prefill")
	f.StringVar(&runPolicy, "policy", "", "计数策略：successes 或 attempts")
	f.IntVar(&runFailEvery, "fail-every", 0, "每 k 次处理注入一次失败，0 表示不注入")
	f.StringVar(&runWork, "work", "", "每个任务模拟的处理耗时，例如 5ms")
	f.StringVar(&runTimeout, "timeout", "", "单轮测量超时时间，例如 2m")
	f.StringVar(&runMetricsFile, "metrics-file", "", "测量结束后写入 Prometheus 文本格式指标的路径")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "测量期间在该地址提供 /metrics")
}

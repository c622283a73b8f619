package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "taskbench",
	Short:         "Benchmark task queue backends",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（YAML 或 JSON），默认读取 $TASKBENCH_CONFIG")
	rootCmd.AddCommand(runCmd, resetCmd)
}

// main 是 taskbench 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("taskbench 运行失败: %v", err)
	}
}

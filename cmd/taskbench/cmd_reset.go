package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"TaskBench/internal/backend"
	"TaskBench/pkg/logger"
)

var resetBackends []string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove pending tasks left behind in the configured backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.Log); err != nil {
			return err
		}
		defer logger.Sync()

		selected, err := cfg.Select(resetBackends)
		if err != nil {
			return err
		}
		var failed int
		for _, target := range backend.Targets(selected) {
			log := logger.Named("reset").With(slog.String("backend", target.Name))
			b, err := target.Open(cmd.Context())
			if err != nil {
				log.Error("打开后端失败", slog.Any("error", err))
				failed++
				continue
			}
			if err := b.Reset(cmd.Context()); err != nil {
				log.Error("清空后端失败", slog.Any("error", err))
				failed++
			} else {
				log.Info("后端已清空")
			}
			_ = b.Close()
		}
		if failed > 0 {
			return fmt.Errorf("%d 个后端清空失败", failed)
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().StringSliceVar(&resetBackends, "backend", nil, "只清空指定的后端（名称或驱动），可重复")
}

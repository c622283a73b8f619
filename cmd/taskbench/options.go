package main

import (
	"time"

	"github.com/spf13/cobra"

	"TaskBench/internal/bench"
	"TaskBench/internal/config"
	xerrors "TaskBench/internal/errors"
)

// loadConfig 读取配置文件并用显式传入的命令行参数覆盖。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	b := &cfg.Benchmark
	if flags.Changed("tasks") {
		b.Tasks = runTasks
	}
	if flags.Changed("iterations") {
		b.Iterations = runIterations
	}
	if flags.Changed("workers") {
		b.Workers = runWorkers
	}
	if flags.Changed("population") {
		b.Population = runPopulation
	}
	if flags.Changed("mode") {
		b.Modes = runModes
	}
	if flags.Changed("policy") {
		b.Policy = runPolicy
	}
	if flags.Changed("fail-every") {
		b.FailEvery = runFailEvery
	}
	if flags.Changed("work") {
		if b.Work, err = parseDuration("work", runWork); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if b.Timeout, err = parseDuration("timeout", runTimeout); err != nil {
			return nil, err
		}
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.File = runMetricsFile
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address = runMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(flag, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "--"+flag+" 不是合法的时长")
	}
	return d, nil
}

// driverOptions 把配置转换为 Driver 选项。
func driverOptions(cfg *config.Config) ([]bench.DriverOption, error) {
	b := cfg.Benchmark
	policy, err := bench.ParseCountPolicy(b.Policy)
	if err != nil {
		return nil, err
	}
	population, err := bench.ParsePopulation(b.Population)
	if err != nil {
		return nil, err
	}
	modes := make([]bench.Mode, 0, len(b.Modes))
	for _, m := range b.Modes {
		mode, err := bench.ParseMode(m)
		if err != nil {
			return nil, err
		}
		modes = append(modes, mode)
	}
	return []bench.DriverOption{
		bench.WithTasks(b.Tasks),
		bench.WithIterations(b.Iterations),
		bench.WithDriverWorkers(b.Workers),
		bench.WithPopulation(population),
		bench.WithTimeout(b.Timeout),
		bench.WithModes(modes...),
		bench.WithDriverPolicy(policy),
		bench.WithHandler(bench.FailEvery(b.FailEvery, bench.SleepJob(b.Work))),
	}, nil
}

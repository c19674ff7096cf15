package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-attendance/internal/common/logger"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/pipeline"

	"go.uber.org/zap"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "validate and compute without writing or publishing")
	verbose := flag.Bool("verbose", false, "force debug level logging")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	// 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-attendance")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting wisefido-attendance pipeline run",
		zap.String("pipeline", cfg.Pipeline.Name),
		zap.Bool("dry_run", *dryRun),
	)

	// 创建服务
	svc, err := pipeline.NewService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create pipeline service", zap.Error(err))
	}
	defer svc.Close()

	// 监听系统信号，取消运行中的批次
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Received signal, cancelling run", zap.String("signal", sig.String()))
		cancel()
	}()

	// 一次性运行：由外部调度器（cron 等）周期触发
	result, err := svc.Run(ctx, *dryRun)
	if err != nil {
		log.Error("Pipeline run failed", zap.Error(err))
		os.Exit(1)
	}

	if result.Skipped {
		log.Info("Run skipped, lease held by another instance")
		return
	}

	log.Info("Pipeline run finished",
		zap.String("run_id", result.RunID),
		zap.Int("polled", result.PolledCount),
		zap.Int("duplicates", result.DuplicateCount),
		zap.Int("created", result.CreatedCount),
		zap.Int("summaries_updated", result.SummariesUpdated),
		zap.Int("summary_failures", result.SummaryFailures),
		zap.Int64("gap_count", result.GapCount),
		zap.Bool("hash_chain_valid", result.HashChainValid),
		zap.Int("attempts", result.Attempts),
	)
}

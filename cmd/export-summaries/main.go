package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"wisefido-attendance/internal/common/database"
	"wisefido-attendance/internal/common/logger"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/export"
	"wisefido-attendance/internal/repository"

	"go.uber.org/zap"
)

func main() {
	from := flag.String("from", "", "start work date (inclusive), format 2006-01-02")
	to := flag.String("to", "", "end work date (inclusive), format 2006-01-02")
	out := flag.String("out", "attendance_summaries.xlsx", "output file path")
	flag.Parse()

	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "Usage: export-summaries -from 2025-03-01 -to 2025-03-31 [-out file.xlsx]")
		os.Exit(1)
	}
	for _, date := range []string{*from, *to} {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid date %q: %v\n", date, err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "export-summaries")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewSummaryRepository(db, log)
	summaries, err := repo.ListByDateRange(context.Background(), *from, *to)
	if err != nil {
		log.Fatal("Failed to load summaries", zap.Error(err))
	}

	data, err := export.GenerateSummaryExport(summaries)
	if err != nil {
		log.Fatal("Failed to generate export", zap.Error(err))
	}

	if err := os.WriteFile(*out, data, 0644); err != nil {
		log.Fatal("Failed to write output file", zap.Error(err))
	}

	log.Info("Export completed",
		zap.String("file", *out),
		zap.Int("summaries", len(summaries)),
		zap.String("from", *from),
		zap.String("to", *to),
	)
}

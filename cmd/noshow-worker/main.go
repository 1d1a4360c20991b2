package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carebridge/clinic-scheduling/internal/config"
	"github.com/carebridge/clinic-scheduling/internal/db"
	"github.com/carebridge/clinic-scheduling/internal/scheduling"
	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("noshow-worker starting", "env", cfg.Env, "schedule", cfg.NoShowSchedule, "grace", cfg.NoShowGrace)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	repo := scheduling.NewPgRepository(pgPool)
	lifecycle := scheduling.NewLifecycle(repo, logger)

	run := func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 20*time.Second)
		defer cancel()

		start := time.Now()
		marked, err := lifecycle.MarkOverdueNoShows(runCtx, time.Now(), cfg.NoShowGrace)
		if err != nil {
			logger.Error("no-show sweep failed", "error", err)
			return
		}
		logger.Info("no-show sweep complete", "marked", marked, "took", time.Since(start).String())
	}

	// Sweep once at startup so a long-dead worker catches up immediately.
	run()

	c := cron.New()
	if _, err := c.AddFunc(cfg.NoShowSchedule, run); err != nil {
		logger.Error("invalid no-show schedule", "schedule", cfg.NoShowSchedule, "error", err)
		os.Exit(1)
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping noshow-worker")

	// Let an in-flight sweep finish.
	<-c.Stop().Done()
	logger.Info("noshow-worker stopped")
}

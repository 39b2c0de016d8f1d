// The reminder worker advances overdue billing dates, records payments and
// queues upcoming-charge reminders on a cron schedule.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"subwatch/internal/amqp"
	"subwatch/internal/config"
	applog "subwatch/internal/log"
	"subwatch/internal/services"
	"subwatch/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentBilling})
	applog.SetDefault(logger)

	logger.Info("Starting reminder-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is optional; without it reminders are queued in the database only.
	var publisher services.ReminderPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	processor := services.NewBillingProcessor(repo, publisher, cfg.ReminderLeadDays)
	auth := services.NewAuthService(repo, cfg.SessionTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := func() {
		now := time.Now()
		if _, err := processor.ProcessDue(ctx, now); err != nil {
			logger.Error("Billing run failed", "error", err)
		}
		if _, err := processor.EnqueueReminders(ctx, now); err != nil {
			logger.Error("Reminder run failed", "error", err)
		}
		if n, err := auth.PurgeExpiredSessions(ctx); err != nil {
			logger.Error("Session purge failed", "error", err)
		} else if n > 0 {
			logger.Info("Purged expired sessions", "count", n)
		}
	}

	// Catch up immediately on startup, then follow the schedule.
	run()

	c := cron.New()
	if _, err := c.AddFunc(cfg.BillingCronSpec, run); err != nil {
		logger.Error("Invalid cron spec", "spec", cfg.BillingCronSpec, "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("Billing schedule started", "spec", cfg.BillingCronSpec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("Worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}

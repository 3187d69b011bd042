package main

import (
	"os"
	"time"
	_ "time/tzdata"

	"ricorrenze/internal/cli"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentProcessor)

	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Materialized occurrences are announced to the sync-worker when AMQP is
	// configured; otherwise its pending scan picks them up.
	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	engine, err := cli.NewEngine(logger, cfg, repo, amqpClient)
	if err != nil {
		logger.Error("Failed to build scheduling engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	processor := services.NewRecurringProcessor(repo, engine.Rules, services.RecurringProcessorConfig{
		Concurrency: cfg.RecurringConcurrency,
		MaxCatchUp:  cfg.RecurringMaxCatchUp,
	})

	interval := cfg.RecurringInterval
	logger.Info("Recurring processor configured",
		"interval", interval,
		"concurrency", cfg.RecurringConcurrency,
		"max_catch_up", cfg.RecurringMaxCatchUp,
		"timezone", cfg.Timezone,
		"sqlite_db", cfg.SQLiteDBPath)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	run := func(label string) {
		today := engine.Clock.Today()
		report, err := processor.ProcessDue(ctx, today)
		if err != nil {
			logger.Error(label+" processing failed", "error", err, "today", today.String())
			return
		}
		logger.Info(label+" processing complete",
			"rules_checked", report.Checked,
			"occurrences_materialized", report.Materialized,
			"rules_failed", report.Failed,
			"next_check", time.Now().Add(interval).Format("15:04:05"))
	}

	logger.Info("Running initial recurring rule processing...")
	run("Initial")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run("Periodic")
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}

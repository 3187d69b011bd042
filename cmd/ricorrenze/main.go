package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"ricorrenze/internal/cli"
	apphttp "ricorrenze/internal/http"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/middleware/ratelimit"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

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

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Rules:        engine.Rules,
		DB:           repo,
		Logger:       logger,
		Limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		CalendarName: cfg.CalendarName,
	})
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting ricorrenze server",
		"port", cfg.Port,
		"timezone", cfg.Timezone,
		"horizon_days", cfg.HorizonDays,
		"amqp", amqpClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

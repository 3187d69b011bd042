// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/ricorrenze, cmd/recurring-worker, cmd/sync-worker and cmd/ricorrenzectl.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/cache"
	"ricorrenze/internal/config"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
	"ricorrenze/internal/timeutil"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default. Unknown levels fall back to info.
func SetupLogger(component string) *applog.Logger {
	level, err := applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := applog.New(applog.Config{
		Level:     level,
		Component: component,
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Ignoring LOG_LEVEL", "error", err)
	}
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *applog.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// InitAMQP connects the publisher when AMQP_URL is set. A nil client means
// events are not published; the sync worker's pending scan still exports
// every transaction.
func InitAMQP(logger *applog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - occurrences will not be announced")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// Engine is the assembled scheduling core shared by the binaries.
type Engine struct {
	Clock     *timeutil.Manager
	Projector *recurrence.Projector
	Rules     *services.RuleService

	caches *cache.Manager
}

// Close stops the range cache sweeper, if any.
func (e *Engine) Close() {
	if e.caches != nil {
		e.caches.Stop()
	}
}

// NewEngine wires the clock, projector and rule service from configuration.
// The publisher may be nil.
func NewEngine(logger *applog.Logger, cfg *config.Config, store services.RuleStore, publisher services.Publisher) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	weekStart, err := cfg.WeekStartDay()
	if err != nil {
		return nil, err
	}

	opts := []timeutil.Option{timeutil.WithLocation(loc), timeutil.WithWeekStart(weekStart)}
	engine := &Engine{}
	if cfg.RangeCacheSize > 0 {
		ranges := cache.NewLRUCache[timeutil.RangeKey, timeutil.Range](cfg.RangeCacheSize, cfg.RangeCacheTTL)
		engine.caches = cache.NewManager(func(removed int) {
			if removed > 0 {
				logger.Debug("Range cache cleanup completed", "entries_removed", removed)
			}
		})
		engine.caches.Register(ranges)
		engine.caches.StartCleanup(cfg.RangeCacheTTL)
		opts = append(opts, timeutil.WithCache(ranges))
	}

	engine.Clock = timeutil.New(opts...)
	engine.Projector = recurrence.New(engine.Clock, recurrence.Options{MaxSteps: cfg.MaxSteps})

	// An interface holding a nil *amqp.Client is not nil.
	if c, ok := publisher.(*amqp.Client); ok && c == nil {
		publisher = nil
	}
	engine.Rules = services.NewRuleService(store, engine.Projector, engine.Clock, publisher, services.RuleServiceConfig{
		HorizonDays: cfg.HorizonDays,
	})
	return engine, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}

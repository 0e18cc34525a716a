/**
 * KanGen Sheet Worker - Main Entry Point
 *
 * Queue worker that turns uploaded kanji study-sheet images into entries.
 *
 * Architecture:
 * - Redis list consumer (default) or Asynq consumer for the job queue
 * - Tesseract OCR, spatial anchoring and dictionary validation per sheet
 * - PostgreSQL persistence of job status and entries
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/logging"
	"github.com/kangen/kangen/internal/processor"
	"github.com/kangen/kangen/internal/queue"
	"github.com/kangen/kangen/internal/storage"
)

// statsInterval is how often queue statistics are logged while running.
const statsInterval = 5 * time.Minute

// consumer is the part of both queue backends main needs.
type consumer interface {
	start(ctx context.Context) error
	stop(ctx context.Context) error
	stats(ctx context.Context) map[string]interface{}
}

type redisBackend struct{ *queue.RedisConsumer }

func (b redisBackend) start(context.Context) error { return b.Start() }
func (b redisBackend) stop(context.Context) error  { return b.Stop() }

func (b redisBackend) stats(ctx context.Context) map[string]interface{} {
	counts, err := b.GetStats(ctx)
	if err != nil {
		return map[string]interface{}{"backend": "redis", "error": err.Error()}
	}
	out := map[string]interface{}{"backend": "redis"}
	for k, v := range counts {
		out[k] = v
	}
	return out
}

type asynqBackend struct{ *queue.Consumer }

func (b asynqBackend) start(ctx context.Context) error { return b.Start(ctx) }
func (b asynqBackend) stop(ctx context.Context) error  { return b.Stop(ctx) }

func (b asynqBackend) stats(context.Context) map[string]interface{} {
	return b.GetStatistics()
}

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info(".env not found, using system environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.Log)
	logger.Info("KanGen worker starting",
		"backend", cfg.Worker.QueueBackend, "queue", cfg.Worker.QueueName, "workers", cfg.Worker.Concurrency)

	ctx := context.Background()

	db, err := storage.NewPostgresClient(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer db.Close()

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("PostgreSQL ready")

	proc, err := processor.NewFromConfig(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sheet processor: %w", err)
	}
	logger.Info("sheet processor initialized",
		"ocr_languages", cfg.OCR.Languages, "validation", cfg.Validation.Enabled)

	c, err := newConsumer(cfg, proc, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	if err := c.start(ctx); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	logger.Info("waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := waitForSignal(ctx, sigChan, c, logger)
	logger.Info("received signal, shutting down", "signal", sig.String())
	logQueueStats(ctx, c, logger)

	stopCtx, stopCancel := context.WithTimeout(ctx, cfg.Worker.ProcessingTimeout+10*time.Second)
	defer stopCancel()
	if err := c.stop(stopCtx); err != nil {
		logger.Error("error stopping queue consumer", "error", err)
	}

	stats := db.GetStats()
	logger.Info("shutdown complete", "open_db_connections", stats.OpenConnections)
	return nil
}

// waitForSignal blocks until a signal arrives, logging queue statistics
// every statsInterval.
func waitForSignal(ctx context.Context, sigChan <-chan os.Signal, c consumer, logger *slog.Logger) os.Signal {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case sig := <-sigChan:
			return sig
		case <-ticker.C:
			logQueueStats(ctx, c, logger)
		}
	}
}

func logQueueStats(ctx context.Context, c consumer, logger *slog.Logger) {
	statsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats := c.stats(statsCtx)
	attrs := make([]any, 0, 2*len(stats))
	for _, k := range slices.Sorted(maps.Keys(stats)) {
		attrs = append(attrs, k, stats[k])
	}
	logger.Info("queue statistics", attrs...)
}

func newConsumer(cfg *config.Config, proc processor.SheetProcessorInterface, logger *slog.Logger) (consumer, error) {
	switch cfg.Worker.QueueBackend {
	case "asynq":
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.Worker.RedisURL,
			QueueName:         cfg.Worker.QueueName,
			Concurrency:       cfg.Worker.Concurrency,
			MaxRetries:        cfg.Worker.MaxRetries,
			Processor:         proc,
			ProcessingTimeout: cfg.Worker.ProcessingTimeout,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return asynqBackend{c}, nil
	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.Worker.RedisURL,
			QueueName:         cfg.Worker.QueueName,
			Concurrency:       cfg.Worker.Concurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Worker.ProcessingTimeout,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return redisBackend{c}, nil
	}
}

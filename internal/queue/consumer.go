/**
 * Asynq Queue Consumer for the sheet worker
 *
 * Consumes "process-sheet" tasks and runs them through the sheet processor.
 * Bad input is not retried; everything else backs off exponentially.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/kangen/kangen/internal/logging"
	"github.com/kangen/kangen/internal/processor"
)

// TaskProcessSheet is the asynq task type for one sheet image.
const TaskProcessSheet = "process-sheet"

// Consumer handles job consumption from an asynq queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.SheetProcessorInterface
	config    *ConsumerConfig
	logger    *slog.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int
	Processor         processor.SheetProcessorInterface
	ProcessingTimeout time.Duration
	Logger            *slog.Logger
}

// NewConsumer creates a new asynq consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.Component(cfg.Logger, "asynq-consumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task processing error",
					"type", task.Type(), "payload_bytes", len(task.Payload()), "error", err)
			}),
		},
	)

	consumer := newConsumer(cfg, logger)
	consumer.server = server
	return consumer, nil
}

func newConsumer(cfg *ConsumerConfig, logger *slog.Logger) *Consumer {
	c := &Consumer{
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}
	c.mux.HandleFunc(TaskProcessSheet, c.handleProcessSheet)
	return c
}

// retryDelay backs off 5s, 10s, 20s... capped at one minute.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n >= 4 {
		return 60 * time.Second
	}
	return time.Duration(5*(1<<uint(n))) * time.Second
}

// Start runs the asynq server in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop waits for in-flight tasks and shuts the server down.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("queue consumer stopped")
	return nil
}

func (c *Consumer) handleProcessSheet(ctx context.Context, task *asynq.Task) error {
	var job SheetJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	_, err := runJob(ctx, c.processor, &job, c.config.ProcessingTimeout, c.logger)
	if err != nil && permanent(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"backend":     "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// Enqueuer submits sheet jobs as asynq tasks.
type Enqueuer struct {
	client     *asynq.Client
	queue      string
	maxRetries int
	timeout    time.Duration
}

// NewEnqueuer connects an asynq client to the queue the consumer serves.
func NewEnqueuer(redisURL, queueName string, maxRetries int, timeout time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{
		client:     asynq.NewClient(redisOpt),
		queue:      queueName,
		maxRetries: maxRetries,
		timeout:    timeout,
	}, nil
}

// Enqueue submits one job and returns the asynq task ID, which is the job
// ID. Jobs without an ID get one.
func (e *Enqueuer) Enqueue(ctx context.Context, job *SheetJob) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	task, err := newSheetTask(job)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{asynq.Queue(e.queue), asynq.MaxRetry(e.maxRetries)}
	if e.timeout > 0 {
		// asynq's own deadline sits past ours so the timeout status gets written
		opts = append(opts, asynq.Timeout(e.timeout+30*time.Second))
	}
	opts = append(opts, asynq.TaskID(job.JobID))

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", job.Filename, err)
	}
	return info.ID, nil
}

// Close releases the client connection.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

func newSheetTask(job *SheetJob) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(TaskProcessSheet, payload), nil
}

/**
 * Direct Redis Queue Consumer for the sheet worker
 *
 * Uses plain Redis LIST operations so any producer that can LPUSH a job ID
 * and HSET its data can feed the worker. Key layout for queue Q:
 *   Q              list of waiting job IDs
 *   Q:data         hash of job ID -> RedisJobData JSON
 *   Q:processing   set of running job IDs (also :completed, :failed)
 *   Q:results      hash of job ID -> result summary JSON (also :errors)
 *   Q:events       pub/sub channel of status events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kangen/kangen/internal/logging"
	"github.com/kangen/kangen/internal/processor"
	"github.com/kangen/kangen/internal/storage"
)

// DefaultQueueName is the list the worker pops when none is configured.
const DefaultQueueName = "kangen:sheets"

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Payload    SheetJob  `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"maxRetries"`
}

// queueKeys derives the Redis keys of one queue.
type queueKeys string

func (q queueKeys) list() string       { return string(q) }
func (q queueKeys) data() string       { return string(q) + ":data" }
func (q queueKeys) processing() string { return string(q) + ":processing" }
func (q queueKeys) completed() string  { return string(q) + ":completed" }
func (q queueKeys) failed() string     { return string(q) + ":failed" }
func (q queueKeys) results() string    { return string(q) + ":results" }
func (q queueKeys) failures() string   { return string(q) + ":errors" }
func (q queueKeys) events() string     { return string(q) + ":events" }

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client    *redis.Client
	processor processor.SheetProcessorInterface
	config    *RedisConsumerConfig
	keys      queueKeys
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.SheetProcessorInterface
	ProcessingTimeout time.Duration
	Logger            *slog.Logger
}

// NewRedisConsumer connects to Redis and checks the connection.
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      queueKeys(cfg.QueueName),
		logger:    logging.Component(cfg.Logger, "redis-consumer"),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop lets running jobs finish, then closes the client.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("worker stopping")
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			log.Error("worker error", "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	id := result[1]

	raw, err := c.client.HGet(c.ctx, c.keys.data(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(id, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.markProcessing(job.ID)

	// processing runs on a context detached from Stop so in-flight jobs finish
	res, err := runJob(context.WithoutCancel(c.ctx), c.processor, &job.Payload, c.config.ProcessingTimeout, c.logger)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxRetries && !permanent(err) {
			updated, _ := json.Marshal(job)
			c.client.HSet(c.ctx, c.keys.data(), job.ID, updated)
			c.client.LPush(c.ctx, c.keys.list(), job.ID)
			c.logger.Info("job re-queued for retry",
				"job_id", job.Payload.JobID, "attempt", job.Attempts, "max_retries", job.MaxRetries)
			return nil
		}
		c.markFailed(job.ID, map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})
		return nil
	}

	c.markCompleted(job.ID, completedMetadata(res, time.Duration(res.ProcessingTimeMs)*time.Millisecond))
	return nil
}

func (c *RedisConsumer) markProcessing(id string) {
	c.client.SAdd(c.ctx, c.keys.processing(), id)
	c.publish(id, storage.StatusProcessing)
}

func (c *RedisConsumer) markCompleted(id string, summary map[string]interface{}) {
	c.client.SRem(c.ctx, c.keys.processing(), id)
	c.client.SAdd(c.ctx, c.keys.completed(), id)
	data, _ := json.Marshal(summary)
	c.client.HSet(c.ctx, c.keys.results(), id, data)
	c.publish(id, storage.StatusCompleted)
}

func (c *RedisConsumer) markFailed(id string, detail map[string]interface{}) {
	c.client.SRem(c.ctx, c.keys.processing(), id)
	c.client.SAdd(c.ctx, c.keys.failed(), id)
	data, _ := json.Marshal(detail)
	c.client.HSet(c.ctx, c.keys.failures(), id, data)
	c.publish(id, storage.StatusFailed)
}

func (c *RedisConsumer) publish(id, status string) {
	data, _ := json.Marshal(statusEvent(id, status, time.Now()))
	c.client.Publish(c.ctx, c.keys.events(), data)
}

func statusEvent(id, status string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     id,
		"timestamp": at.Format(time.RFC3339),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.keys.list()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.keys.processing()).Result()
	completed, _ := c.client.SCard(ctx, c.keys.completed()).Result()
	failed, _ := c.client.SCard(ctx, c.keys.failed()).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

// RedisProducer pushes jobs onto the list a RedisConsumer pops.
type RedisProducer struct {
	client     *redis.Client
	keys       queueKeys
	maxRetries int
}

// NewRedisProducer connects a producer to the queue.
func NewRedisProducer(redisURL, queueName string, maxRetries int) (*RedisProducer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisProducer{client: redis.NewClient(opt), keys: queueKeys(queueName), maxRetries: maxRetries}, nil
}

// Enqueue stores the job data and pushes its ID. Jobs without an ID get one.
func (p *RedisProducer) Enqueue(ctx context.Context, job *SheetJob) (string, error) {
	data := newRedisJobData(job, p.maxRetries, time.Now())
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.data(), data.ID, raw)
		pipe.LPush(ctx, p.keys.list(), data.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", job.Filename, err)
	}
	return data.ID, nil
}

// Close releases the client connection.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}

func newRedisJobData(job *SheetJob, maxRetries int, now time.Time) RedisJobData {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return RedisJobData{
		ID:         job.JobID,
		Type:       TaskProcessSheet,
		Payload:    *job,
		CreatedAt:  now,
		MaxRetries: maxRetries,
	}
}

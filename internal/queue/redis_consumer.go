/**
 * Direct Redis Queue Consumer for the CheckScan Worker
 *
 * Compatible with the upload service's RedisQueue: job IDs are pushed onto
 * a list, job bodies live in the <queue>:data hash, status is tracked in
 * sets and published on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/checkscan-worker/internal/logging"
)

var errNoJobs = errors.New("no jobs available")

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *Runner
	config *RedisConsumerConfig
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Runner      *Runner
	// Client overrides RedisURL, mainly for tests
	Client *redis.Client
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" && cfg.Client == nil {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "checkscan:jobs"
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	client := cfg.Client
	if client == nil {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client = redis.NewClient(opt)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, stop := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: cfg.Runner,
		config: cfg,
		logger: logging.NewLogger("RedisConsumer"),
		ctx:    consumerCtx,
		cancel: stop,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer, letting in-flight jobs finish
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if !errors.Is(err, errNoJobs) && c.ctx.Err() == nil {
					c.logger.Error("Worker error", "worker", id, "error", err)
					time.Sleep(time.Second)
				}
			}
		}
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || c.ctx.Err() != nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	queueJobID := result[1]
	jobData, err := c.client.HGet(c.ctx, c.key("data"), queueJobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.updateJobStatus(queueJobID, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", queueJobID, err)
	}
	if job.ID == "" {
		job.ID = queueJobID
	}

	c.updateJobStatus(job.ID, "processing", nil)

	// in-flight jobs finish even when the consumer is stopping
	outcome, err := c.runner.Run(context.Background(), &job.Payload)
	if err != nil {
		job.Attempts++
		if Retryable(err) && job.Attempts < job.MaxRetries {
			updated, merr := json.Marshal(job)
			if merr == nil {
				c.client.HSet(context.Background(), c.key("data"), job.ID, updated)
				c.client.LPush(context.Background(), c.config.QueueName, job.ID)
				c.logger.Warn("Job re-queued for retry",
					"checkId", job.Payload.CheckID,
					"attempt", job.Attempts,
					"maxRetries", job.MaxRetries)
				return nil
			}
		}
		c.updateJobStatus(job.ID, "failed", map[string]interface{}{
			"error":     err.Error(),
			"attempts":  job.Attempts,
			"retryable": Retryable(err),
		})
		return nil
	}

	c.updateJobStatus(job.ID, "completed", outcome)
	return nil
}

// updateJobStatus moves the job between the status sets, stores the result
// or error and publishes an event for the dashboard
func (c *RedisConsumer) updateJobStatus(jobID string, status string, result interface{}) {
	ctx := context.Background()
	pipe := c.client.TxPipeline()

	switch status {
	case "processing":
		pipe.SAdd(ctx, c.key("processing"), jobID)
	case "completed":
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("completed"), jobID)
		if result != nil {
			data, _ := json.Marshal(result)
			pipe.HSet(ctx, c.key("results"), jobID, data)
		}
	case "failed":
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("failed"), jobID)
		if result != nil {
			data, _ := json.Marshal(result)
			pipe.HSet(ctx, c.key("errors"), jobID, data)
		}
	}

	event, _ := json.Marshal(map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	pipe.Publish(ctx, c.key("events"), event)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to update Redis job status", "jobId", jobID, "status", status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

/**
 * Queue Consumer for the CheckScan Worker
 *
 * Task-server backend built on Asynq (QUEUE_BACKEND=asynq). Tasks of type
 * process-check carry the same payload as the Redis list protocol.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/checkscan-worker/internal/logging"
)

// TaskProcessCheck is the Asynq task type for check jobs
const TaskProcessCheck = "process-check"

// Consumer handles job consumption through an Asynq server
type Consumer struct {
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	runner    *Runner
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Runner      *Runner
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")
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
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	consumer := &Consumer{
		inspector: asynq.NewInspector(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		runner:    cfg.Runner,
		config:    cfg,
		logger:    logger,
	}
	consumer.mux.HandleFunc(TaskProcessCheck, consumer.handleProcessCheck)

	return consumer, nil
}

// retryDelay backs off exponentially: 5s, 10s, 20s, capped at a minute
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// NewCheckTask wraps a payload as an Asynq task
func NewCheckTask(payload *CheckJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal check job: %w", err)
	}
	return asynq.NewTask(TaskProcessCheck, data), nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}
	return nil
}

// handleProcessCheck runs one check task. Undecodable payloads and images
// are not retried.
func (c *Consumer) handleProcessCheck(ctx context.Context, task *asynq.Task) error {
	var payload CheckJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	outcome, err := c.runner.Run(ctx, &payload)
	if err != nil {
		if !Retryable(err) {
			return fmt.Errorf("check processing failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("check processing failed: %w", err)
	}

	if w := task.ResultWriter(); w != nil {
		data, _ := json.Marshal(outcome)
		if _, err := w.Write(data); err != nil {
			c.logger.Warn("Failed to write task result", "checkId", payload.CheckID, "error", err)
		}
	}
	return nil
}

// GetStats returns queue statistics in the same shape as the Redis list
// consumer's
func (c *Consumer) GetStats(ctx context.Context) (map[string]int64, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"waiting":    int64(info.Pending + info.Scheduled + info.Retry),
		"processing": int64(info.Active),
		"completed":  int64(info.Processed),
		"failed":     int64(info.Failed),
		"archived":   int64(info.Archived),
	}, nil
}

// asynqLogger routes asynq's own logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

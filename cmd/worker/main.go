/**
 * CheckScan Worker - Main Entry Point
 *
 * Go worker that turns scanned bank check images into validated,
 * confidence-scored extraction records.
 *
 * Architecture:
 * - Redis list or Asynq consumer for the check job queue
 * - Region segmentation and enhancement of the check image
 * - Tesseract OCR and the vision service run side by side
 * - Field-level fusion, business rule validation, routing hint
 * - PostgreSQL persistence for the review dashboard
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/checkscan-worker/internal/clients"
	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/config"
	"github.com/adverant/nexus/checkscan-worker/internal/engine"
	"github.com/adverant/nexus/checkscan-worker/internal/fusion"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
	"github.com/adverant/nexus/checkscan-worker/internal/processor"
	"github.com/adverant/nexus/checkscan-worker/internal/queue"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
	"github.com/adverant/nexus/checkscan-worker/internal/storage"
	"github.com/adverant/nexus/checkscan-worker/internal/validation"
)

const statsInterval = time.Minute

// consumer is the common surface of both queue backends
type consumer interface {
	Start() error
	Stop() error
	GetStats(ctx context.Context) (map[string]int64, error)
}

type asynqConsumer struct{ *queue.Consumer }

func (a asynqConsumer) Start() error { return a.Consumer.Start(context.Background()) }
func (a asynqConsumer) Stop() error  { return a.Consumer.Stop(context.Background()) }

func main() {
	logger := logging.NewLogger("Main")

	if err := godotenv.Load(".env.checkscan"); err != nil {
		logger.Warn(".env.checkscan not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	heuristics, err := config.LoadHeuristics(cfg.HeuristicsFile)
	if err != nil {
		logger.Error("Failed to load heuristics", "error", err)
		os.Exit(1)
	}
	cfg.ApplyOverrides(&heuristics)
	if err := heuristics.Fusion.Validate(); err != nil {
		logger.Error("Invalid fusion policy", "error", err)
		os.Exit(1)
	}

	logger.Info("CheckScan Worker starting",
		"queueBackend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"visionURL", cfg.VisionURL,
		"regionPolicy", cfg.RegionFailurePolicy,
		"tieBreak", heuristics.Fusion.TieBreak)

	db, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to initialize PostgreSQL client", "error", err)
		os.Exit(1)
	}

	proc, err := buildProcessor(cfg, heuristics, logger)
	if err != nil {
		logger.Error("Failed to initialize check processor", "error", err)
		os.Exit(1)
	}

	runner, err := queue.NewRunner(proc, db, int64(cfg.ProcessingTimeout))
	if err != nil {
		logger.Error("Failed to initialize job runner", "error", err)
		os.Exit(1)
	}

	var jobs consumer
	switch cfg.QueueBackend {
	case "asynq":
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Runner:      runner,
		})
		if err != nil {
			logger.Error("Failed to initialize asynq consumer", "error", err)
			os.Exit(1)
		}
		jobs = asynqConsumer{c}
	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Runner:      runner,
		})
		if err != nil {
			logger.Error("Failed to initialize queue consumer", "error", err)
			os.Exit(1)
		}
		jobs = c
	}

	if err := jobs.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("CheckScan Worker is ready, waiting for jobs")

	statsCtx, stopStats := context.WithCancel(context.Background())
	go reportStats(statsCtx, jobs, db, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig)
	stopStats()

	if err := jobs.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("Error closing database", "error", err)
	}
	logger.Info("Shutdown complete")
}

// buildProcessor wires the extraction pipeline from configuration
func buildProcessor(cfg *config.Config, h config.Heuristics, logger *logging.Logger) (*processor.CheckProcessor, error) {
	tesseract := engine.NewTesseractEngine(engine.TesseractConfig{
		Language: cfg.TesseractLanguage,
		DataPath: cfg.TessdataPrefix,
	})
	logger.Info("Tesseract engine ready", "version", tesseract.Version(), "language", cfg.TesseractLanguage)

	vision := clients.NewVisionClient(clients.VisionConfig{
		BaseURL:      cfg.VisionURL,
		APIKey:       cfg.VisionAPIKey,
		Timeout:      cfg.EngineTimeoutDuration(),
		PollInterval: time.Duration(cfg.VisionPollInterval) * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := vision.HealthCheck(ctx); err != nil {
		// AI extraction degrades per check; OCR still runs
		logger.Warn("Vision service is not healthy", "error", err)
	}

	aiModel := confidence.NewAIModel(h.AI)

	proc, err := processor.NewCheckProcessor(&processor.ProcessorConfig{
		Segmenter:     region.NewSegmenter(h.Layout, cfg.RegionStrategy()),
		OCR:           engine.NewOCRAdapter(tesseract, confidence.NewOCRModel(h.OCR)),
		AI:            engine.NewAIAdapter(vision, aiModel, h.Validation),
		Fusion:        fusion.NewEngine(h.Fusion, h.Summary),
		Validator:     validation.NewValidator(h.Validation),
		Levels:        aiModel,
		EngineTimeout: cfg.EngineTimeoutDuration(),
		MaxImageSize:  cfg.MaxImageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build processor: %w", err)
	}
	return proc, nil
}

// reportStats logs queue depth and database pool usage until ctx ends
func reportStats(ctx context.Context, jobs consumer, db *storage.PostgresClient, logger *logging.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if stats, err := jobs.GetStats(checkCtx); err != nil {
				logger.Warn("Failed to read queue stats", "error", err)
			} else {
				logger.Info("Queue stats",
					"waiting", stats["waiting"],
					"processing", stats["processing"],
					"completed", stats["completed"],
					"failed", stats["failed"])
			}
			if err := db.Ping(checkCtx); err != nil {
				logger.Warn("Database is unreachable", "error", err)
			}
			cancel()

			pool := db.GetStats()
			logger.Info("Database pool stats",
				"open", pool.OpenConnections,
				"inUse", pool.InUse,
				"idle", pool.Idle,
				"waitCount", pool.WaitCount)
		}
	}
}

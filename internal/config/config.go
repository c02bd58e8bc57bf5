/**
 * Configuration for the CheckScan Worker
 *
 * Loads configuration from environment variables matching .env.checkscan.
 * Scoring heuristics live in an optional YAML file (see heuristics.go).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Vision service
	VisionURL          string
	VisionAPIKey       string
	VisionPollInterval int // milliseconds

	// Queue configuration
	QueueBackend      string // "redis" (BRPOP list) or "asynq"
	QueueName         string
	WorkerConcurrency int

	// Timeouts in milliseconds
	ProcessingTimeout int
	EngineTimeout     int

	// Limits
	MaxImageSize int64

	// Tesseract configuration
	TesseractLanguage string
	TessdataPrefix    string

	// Pipeline policy
	HeuristicsFile      string
	RegionFailurePolicy string // "continue" or "abort"
	FusionTieBreak      string // "ocr" or "ai"

	// Node environment
	NodeEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		VisionURL:           getEnvOrDefault("VISION_URL", "http://nexus-mageagent:8080"),
		VisionAPIKey:        getEnvOrDefault("VISION_API_KEY", ""),
		VisionPollInterval:  getEnvAsIntOrDefault("VISION_POLL_INTERVAL", 1000),
		QueueBackend:        strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", "redis")),
		QueueName:           getEnvOrDefault("QUEUE_NAME", "checkscan:jobs"),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout:   getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		EngineTimeout:       getEnvAsIntOrDefault("ENGINE_TIMEOUT", 45000),      // 45 seconds
		MaxImageSize:        getEnvAsInt64OrDefault("MAX_IMAGE_SIZE", 20971520), // 20MB
		TesseractLanguage:   getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		TessdataPrefix:      getEnvOrDefault("TESSDATA_PREFIX", ""),
		HeuristicsFile:      getEnvOrDefault("HEURISTICS_FILE", ""),
		RegionFailurePolicy: strings.ToLower(getEnvOrDefault("REGION_FAILURE_POLICY", "continue")),
		FusionTieBreak:      strings.ToLower(getEnvOrDefault("FUSION_TIE_BREAK", "")),
		NodeEnv:             getEnvOrDefault("NODE_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.VisionURL == "" {
		return fmt.Errorf("VISION_URL is required")
	}

	if c.QueueBackend != "redis" && c.QueueBackend != "asynq" {
		return fmt.Errorf("QUEUE_BACKEND must be redis or asynq, got %q", c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.EngineTimeout < 100 || c.EngineTimeout > c.ProcessingTimeout {
		return fmt.Errorf("ENGINE_TIMEOUT must be between 100ms and PROCESSING_TIMEOUT, got %d", c.EngineTimeout)
	}

	if c.MaxImageSize < 1024 || c.MaxImageSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 100MB, got %d", c.MaxImageSize)
	}

	if c.RegionFailurePolicy != "continue" && c.RegionFailurePolicy != "abort" {
		return fmt.Errorf("REGION_FAILURE_POLICY must be continue or abort, got %q", c.RegionFailurePolicy)
	}

	if c.FusionTieBreak != "" && c.FusionTieBreak != "ocr" && c.FusionTieBreak != "ai" {
		return fmt.Errorf("FUSION_TIE_BREAK must be ocr or ai, got %q", c.FusionTieBreak)
	}

	return nil
}

// ProcessingTimeoutDuration returns ProcessingTimeout as a time.Duration
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// EngineTimeoutDuration returns EngineTimeout as a time.Duration
func (c *Config) EngineTimeoutDuration() time.Duration {
	return time.Duration(c.EngineTimeout) * time.Millisecond
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

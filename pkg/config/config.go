package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds the full process configuration, populated from environment
// variables with the documented defaults.
type Config struct {
	WorkerID string

	// Logging
	LogLevel  string
	LogFormat string

	// Broker
	NATSURL            string
	StreamName         string
	Subject            string
	ConsumerName       string
	FetchBatchSize     int
	FetchTimeout       time.Duration
	ConsumerAttempts   int
	ConsumerRetryDelay time.Duration

	// Jobs
	ProcessingTimeout time.Duration
	MaxPoints         int

	// Health / metrics endpoint
	HealthPort int

	// Object store
	S3Endpoint string
	S3Bucket   string
	S3Region   string

	// Internal LLM endpoint
	InternalLLMBaseURL string
}

// Load reads configuration from the environment. Every knob has a default;
// only S3_BUCKET_NAME is required.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("WORKER_ID", uuid.NewString())
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_STREAM", "VISUALIZATION_TRANSFORMS")
	v.SetDefault("NATS_SUBJECT", "workers.visualization-transform")
	v.SetDefault("NATS_DURABLE_CONSUMER", "visualization-transform-workers")
	v.SetDefault("NATS_FETCH_BATCH_SIZE", 10)
	v.SetDefault("NATS_FETCH_TIMEOUT_SECS", 5)
	v.SetDefault("NATS_CONSUMER_ATTEMPTS", 30)
	v.SetDefault("NATS_CONSUMER_RETRY_DELAY_SECS", 2)

	v.SetDefault("PROCESSING_TIMEOUT_SECS", 3600)
	v.SetDefault("MAX_VISUALIZATION_POINTS", 100_000)

	v.SetDefault("HEALTH_CHECK_PORT", 8081)

	v.SetDefault("AWS_ENDPOINT_URL", "")
	v.SetDefault("S3_BUCKET_NAME", "")
	v.SetDefault("AWS_REGION", "us-east-1")

	v.SetDefault("INTERNAL_LLM_BASE_URL", "http://llm-inference-api:8080")

	cfg := &Config{
		WorkerID: v.GetString("WORKER_ID"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		NATSURL:            v.GetString("NATS_URL"),
		StreamName:         v.GetString("NATS_STREAM"),
		Subject:            v.GetString("NATS_SUBJECT"),
		ConsumerName:       v.GetString("NATS_DURABLE_CONSUMER"),
		FetchBatchSize:     v.GetInt("NATS_FETCH_BATCH_SIZE"),
		FetchTimeout:       time.Duration(v.GetInt("NATS_FETCH_TIMEOUT_SECS")) * time.Second,
		ConsumerAttempts:   v.GetInt("NATS_CONSUMER_ATTEMPTS"),
		ConsumerRetryDelay: time.Duration(v.GetInt("NATS_CONSUMER_RETRY_DELAY_SECS")) * time.Second,

		ProcessingTimeout: time.Duration(v.GetInt("PROCESSING_TIMEOUT_SECS")) * time.Second,
		MaxPoints:         v.GetInt("MAX_VISUALIZATION_POINTS"),

		HealthPort: v.GetInt("HEALTH_CHECK_PORT"),

		S3Endpoint: v.GetString("AWS_ENDPOINT_URL"),
		S3Bucket:   v.GetString("S3_BUCKET_NAME"),
		S3Region:   v.GetString("AWS_REGION"),

		InternalLLMBaseURL: v.GetString("INTERNAL_LLM_BASE_URL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET_NAME environment variable is required")
	}
	if c.FetchBatchSize < 1 {
		return fmt.Errorf("NATS_FETCH_BATCH_SIZE must be at least 1, got %d", c.FetchBatchSize)
	}
	if c.MaxPoints < 1 {
		return fmt.Errorf("MAX_VISUALIZATION_POINTS must be at least 1, got %d", c.MaxPoints)
	}
	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT_SECS must be positive")
	}
	return nil
}

package worker

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/semantic-explorer/viz-worker/pkg/broker"
	"github.com/semantic-explorer/viz-worker/pkg/config"
	"github.com/semantic-explorer/viz-worker/pkg/health"
	"github.com/semantic-explorer/viz-worker/pkg/llm"
	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/pipeline"
	"github.com/semantic-explorer/viz-worker/pkg/storage"
)

// RunProcess wires the full worker from configuration and runs it until a
// termination signal arrives. Initialization order matters: the object
// store and naming client come up first, then the broker consumer, then the
// health endpoints; only once everything is up does the worker report ready
// and start fetching.
func RunProcess(cfg *config.Config) error {
	logger := log.WithComponent("lifecycle")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.New(ctx, storage.Config{
		Endpoint: cfg.S3Endpoint,
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
	})
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	namer := llm.NewNamer(cfg.InternalLLMBaseURL)

	brokerCfg := broker.DefaultConfig()
	brokerCfg.URL = cfg.NATSURL
	brokerCfg.Stream = cfg.StreamName
	brokerCfg.Subject = cfg.Subject
	brokerCfg.ConsumerName = cfg.ConsumerName
	brokerCfg.BindAttempts = cfg.ConsumerAttempts
	brokerCfg.BindRetryDelay = cfg.ConsumerRetryDelay

	client, err := broker.Connect(brokerCfg, cfg.WorkerID)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer client.Close()

	if err := client.EnsureConsumer(ctx); err != nil {
		return fmt.Errorf("ensure consumer: %w", err)
	}

	healthSrv := health.NewServer(cfg.HealthPort)
	go func() {
		if err := healthSrv.Start(); err != nil {
			logger.Error().Err(err).Msg("health server failed")
		}
	}()

	orchestrator := pipeline.New(pipeline.Options{
		Namer:     namer,
		MaxPoints: cfg.MaxPoints,
		Budget:    cfg.ProcessingTimeout,
	})

	w := New(Options{
		Fetcher:      client,
		Publisher:    client,
		Processor:    orchestrator,
		Uploader:     store,
		FetchBatch:   cfg.FetchBatchSize,
		FetchTimeout: cfg.FetchTimeout,
	})

	healthSrv.SetReady(true)
	logger.Info().Str("worker_id", cfg.WorkerID).Msg("worker ready")

	w.Run(ctx)

	// Shutdown: stop fetching, drain handlers, then stop the endpoints.
	healthSrv.SetReady(false)
	logger.Info().Msg("shutting down, draining in-flight jobs")
	clean := w.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("health server shutdown failed")
	}

	if !clean {
		return fmt.Errorf("drain timed out with jobs in flight")
	}
	return nil
}

// Package worker drives job consumption: it pulls batches from the durable
// consumer, runs each job through the pipeline on its own goroutine, and
// routes acknowledgements by failure kind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/semantic-explorer/viz-worker/pkg/broker"
	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/metrics"
	"github.com/semantic-explorer/viz-worker/pkg/pipeline"
	"github.com/semantic-explorer/viz-worker/pkg/status"
	"github.com/semantic-explorer/viz-worker/pkg/types"
)

const (
	defaultMaxInFlight  = 10
	defaultDrainTimeout = 300 * time.Second

	// permanentFetchPause throttles the loop when fetch fails with an
	// error that is neither a timeout nor recognizably transient.
	permanentFetchPause = 5 * time.Second
)

// Processor runs the pipeline for one decoded job.
type Processor interface {
	Run(ctx context.Context, job *types.Job, rep pipeline.Reporter) (*pipeline.Output, error)
}

// Uploader persists the rendered artifact and returns its object key.
type Uploader interface {
	UploadVisualization(ctx context.Context, owner string, transformID, visualizationID int64, html []byte) (string, error)
}

// Options configure a Worker.
type Options struct {
	Fetcher   broker.Fetcher
	Publisher broker.Publisher
	Processor Processor
	Uploader  Uploader

	FetchBatch   int
	FetchTimeout time.Duration
	MaxInFlight  int
	DrainTimeout time.Duration
}

// Worker owns the fetch loop and the in-flight handler pool.
type Worker struct {
	fetcher   broker.Fetcher
	publisher broker.Publisher
	processor Processor
	uploader  Uploader

	fetchBatch   int
	fetchTimeout time.Duration
	drainTimeout time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     zerolog.Logger
}

// New builds a Worker from options.
func New(opts Options) *Worker {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = opts.MaxInFlight
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}

	handlerCtx, handlerCancel := context.WithCancel(context.Background())
	return &Worker{
		fetcher:       opts.Fetcher,
		publisher:     opts.Publisher,
		processor:     opts.Processor,
		uploader:      opts.Uploader,
		fetchBatch:    opts.FetchBatch,
		fetchTimeout:  opts.FetchTimeout,
		drainTimeout:  opts.DrainTimeout,
		slots:         make(chan struct{}, opts.MaxInFlight),
		handlerCtx:    handlerCtx,
		handlerCancel: handlerCancel,
		tracer:        otel.Tracer("viz-worker"),
		propagator:    propagation.TraceContext{},
		logger:        log.WithComponent("worker"),
	}
}

// Run fetches and dispatches until ctx is canceled. Messages already
// dispatched keep running; call Drain afterwards to wait for them.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Int("batch", w.fetchBatch).Msg("worker loop started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("worker loop stopping")
			return
		}

		msgs, err := w.fetcher.Fetch(w.fetchBatch, w.fetchTimeout)
		if err != nil {
			w.pauseAfterFetchError(ctx, err)
			continue
		}

		for _, msg := range msgs {
			metrics.MessagesReceived.Inc()
			select {
			case w.slots <- struct{}{}:
			case <-ctx.Done():
				// Undispatched messages redeliver after the ack wait.
				return
			}
			w.wg.Add(1)
			go w.handle(msg)
		}
	}
}

// Drain waits for in-flight handlers up to the drain timeout, then cancels
// whatever is still running. It reports whether the drain was clean.
func (w *Worker) Drain() bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("drain complete")
		return true
	case <-time.After(w.drainTimeout):
		w.logger.Warn().Dur("timeout", w.drainTimeout).Msg("drain timed out, canceling in-flight jobs")
		w.handlerCancel()
		<-done
		return false
	}
}

func (w *Worker) pauseAfterFetchError(ctx context.Context, err error) {
	var te *broker.TransientError
	if errors.As(err, &te) {
		delay := broker.BackoffDelay(te.Consecutive)
		w.logger.Warn().
			Err(te.Err).
			Int("consecutive_errors", te.Consecutive).
			Dur("backoff", delay).
			Msg("transient fetch error, backing off")
		sleepCtx(ctx, delay)
		return
	}

	w.logger.Error().Err(err).Msg("fetch failed")
	sleepCtx(ctx, permanentFetchPause)
}

// handle processes one message to a terminal acknowledgement.
func (w *Worker) handle(msg broker.Message) {
	defer w.wg.Done()
	defer func() { <-w.slots }()

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	ctx := w.propagator.Extract(w.handlerCtx, propagation.HeaderCarrier(http.Header(msg.Headers())))
	ctx, span := w.tracer.Start(ctx, "process_visualization_job",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	start := time.Now()

	job, err := types.DecodeJob(msg.Data())
	if err != nil {
		// Poison pill: the envelope can never become valid, so retrying
		// is pointless. Ack without a status envelope.
		kind := decodeErrorKind(err)
		w.logger.Error().Err(err).Str("error_type", string(kind)).Msg("discarding undecodable message")
		metrics.JobFailures.WithLabelValues(string(kind)).Inc()
		metrics.JobsTotal.WithLabelValues(string(types.StatusFailed)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		w.ack(msg)
		return
	}

	span.SetAttributes(
		attribute.String("job.id", job.JobID.String()),
		attribute.Int64("visualization.transform_id", job.VisualizationTransformID),
		attribute.Int64("visualization.id", job.VisualizationID),
	)
	logger := w.logger.With().
		Str("job_id", job.JobID.String()).
		Int64("transform_id", job.VisualizationTransformID).
		Logger()
	logger.Info().Str("collection", job.CollectionName).Msg("job received")

	pub := status.NewPublisher(w.publisher, job)
	pub.Progress("starting", 0)

	res, runErr := w.process(ctx, job, pub, start)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(types.KindOf(runErr)))
		metrics.JobFailures.WithLabelValues(string(types.KindOf(runErr))).Inc()
	}

	if err := pub.Terminal(res); err != nil {
		logger.Error().Err(err).Msg("terminal publish failed, requesting redelivery")
		metrics.JobFailures.WithLabelValues(string(types.KindPublish)).Inc()
		w.nak(msg)
		return
	}

	metrics.JobsTotal.WithLabelValues(string(res.Status)).Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())
	metrics.LastJobTimestamp.SetToCurrentTime()

	if runErr != nil && types.KindOf(runErr) == types.KindUnexpected {
		// Unclassified failures may be environmental; let the broker retry
		// up to its delivery limit.
		w.nak(msg)
		return
	}
	w.ack(msg)

	logger.Info().
		Str("status", string(res.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("job finished")
}

// process runs the pipeline and upload, returning the terminal envelope and
// the failure (if any) for acknowledgement routing.
func (w *Worker) process(ctx context.Context, job *types.Job, pub *status.Publisher, start time.Time) (*types.Result, error) {
	out, err := w.processor.Run(ctx, job, pub)
	if err == nil {
		var key string
		key, err = w.uploader.UploadVisualization(ctx, job.OwnerID, job.VisualizationTransformID, job.VisualizationID, out.HTML)
		if err != nil {
			err = types.NewJobError(types.KindUpload, err)
		} else {
			res := types.NewResult(job, types.StatusSuccess)
			res.HTMLObjectKey = key
			res.PointCount = types.IntPtr(out.PointCount)
			res.ClusterCount = types.IntPtr(out.ClusterCount)
			res.ProcessingDurationMS = types.Int64Ptr(time.Since(start).Milliseconds())
			res.Stats = out.Stats
			return res, nil
		}
	}

	res := types.NewResult(job, types.StatusFailed)
	res.ErrorMessage = oneLine(err)
	res.ProcessingDurationMS = types.Int64Ptr(time.Since(start).Milliseconds())
	return res, err
}

// oneLine renders the kind and message without stack traces.
func oneLine(err error) string {
	kind := types.KindOf(err)
	var je *types.JobError
	if errors.As(err, &je) {
		return fmt.Sprintf("%s: %v", kind, je.Err)
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

func decodeErrorKind(err error) types.ErrorKind {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return types.KindValidation
	}
	return types.KindJSONDecode
}

func (w *Worker) ack(msg broker.Message) {
	if err := msg.Ack(); err != nil {
		w.logger.Warn().Err(err).Msg("ack failed")
		return
	}
	metrics.MessagesAcked.Inc()
}

func (w *Worker) nak(msg broker.Message) {
	if err := msg.Nak(); err != nil {
		w.logger.Warn().Err(err).Msg("nak failed")
		return
	}
	metrics.MessagesNacked.Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

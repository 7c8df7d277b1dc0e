// Package pipeline runs the five-stage visualization pipeline: vector
// fetch, 2-D projection, density clustering, cluster naming, and HTML
// generation. Stage progress is reported through a per-job reporter and
// the whole run is bounded by a single processing budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/assets"
	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/metrics"
	"github.com/semantic-explorer/viz-worker/pkg/render"
	"github.com/semantic-explorer/viz-worker/pkg/types"
	"github.com/semantic-explorer/viz-worker/pkg/vectorstore"
)

// Reporter receives interim progress for one job.
type Reporter interface {
	Progress(stage string, percent int)
}

// ClusterNamer labels clusters given per-cluster sample texts.
type ClusterNamer interface {
	NameClusters(ctx context.Context, clusters map[int][]string, cfg *types.LLMConfig, batchSize int) map[int]string
}

// StoreFactory builds a vector-store client from a job's connection record.
type StoreFactory func(cfg types.VectorDatabaseConfig) vectorstore.Client

// Options configure an Orchestrator. Zero-value stage fields fall back to
// the built-in implementations.
type Options struct {
	NewStore  StoreFactory
	Namer     ClusterNamer
	Projector Projector
	Clusterer Clusterer
	Renderer  render.Renderer

	// MaxPoints caps the number of points pulled from a collection;
	// larger collections are sampled down to it.
	MaxPoints int

	// Budget bounds one full pipeline run.
	Budget time.Duration
}

// Output is the product of a successful run.
type Output struct {
	HTML         []byte
	PointCount   int
	ClusterCount int
	Stats        map[string]any
}

// Orchestrator executes the pipeline for one job at a time. It is safe for
// concurrent use by multiple handler goroutines.
type Orchestrator struct {
	newStore  StoreFactory
	namer     ClusterNamer
	projector Projector
	clusterer Clusterer
	renderer  render.Renderer
	maxPoints int
	budget    time.Duration
	logger    zerolog.Logger
}

// New builds an Orchestrator from options.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		newStore:  opts.NewStore,
		namer:     opts.Namer,
		projector: opts.Projector,
		clusterer: opts.Clusterer,
		renderer:  opts.Renderer,
		maxPoints: opts.MaxPoints,
		budget:    opts.Budget,
		logger:    log.WithComponent("pipeline"),
	}
	if o.newStore == nil {
		o.newStore = func(cfg types.VectorDatabaseConfig) vectorstore.Client {
			return vectorstore.NewQdrantClient(cfg.ConnectionURL, cfg.APIKey)
		}
	}
	if o.projector == nil {
		o.projector = PCAProjector{}
	}
	if o.clusterer == nil {
		o.clusterer = DensityClusterer{}
	}
	if o.renderer == nil {
		o.renderer = render.NewCanvas()
	}
	if o.maxPoints <= 0 {
		o.maxPoints = 100_000
	}
	if o.budget <= 0 {
		o.budget = time.Hour
	}
	return o
}

// Run executes all five stages for the job, reporting progress through rep.
// Errors come back kinded for acknowledgement routing.
func (o *Orchestrator) Run(ctx context.Context, job *types.Job, rep Reporter) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	logger := o.logger.With().Str("job_id", job.JobID.String()).Logger()
	cfg := job.VisualizationConfig
	store := o.newStore(job.VectorDatabaseConfig)

	// Stage 1: fetch.
	rep.Progress("fetching_vectors", 5)
	vectors, hovers, err := fetchVectors(ctx, store, job.CollectionName, o.maxPoints)
	if err != nil {
		if deadlineHit(ctx, err) {
			return nil, budgetError(err)
		}
		return nil, types.NewJobError(types.KindVectorStore, err)
	}
	if len(vectors) == 0 {
		return nil, types.NewJobError(types.KindVectorStore,
			fmt.Errorf("collection %q contains no points", job.CollectionName))
	}
	logger.Info().Int("points", len(vectors)).Msg("vectors fetched")
	rep.Progress("fetching_vectors", 20)

	// Stage 2: projection.
	rep.Progress("applying_umap", 25)
	var coords [][2]float64
	err = runOffloaded(ctx, func() error {
		var perr error
		coords, perr = o.projector.Project(vectors, cfg.NNeighbors, cfg.MinDist, cfg.Metric, projectionSeed)
		return perr
	})
	if err != nil {
		if deadlineHit(ctx, err) {
			return nil, budgetError(err)
		}
		return nil, types.NewJobError(types.KindUnexpected, fmt.Errorf("projection: %w", err))
	}
	rep.Progress("applying_umap", 50)

	// Stage 3: clustering.
	rep.Progress("clustering", 55)
	var clusterLabels []int
	err = runOffloaded(ctx, func() error {
		var cerr error
		clusterLabels, cerr = o.clusterer.Cluster(coords, cfg.MinClusterSize, cfg.MinSamples)
		return cerr
	})
	if err != nil {
		if deadlineHit(ctx, err) {
			return nil, budgetError(err)
		}
		return nil, types.NewJobError(types.KindUnexpected, fmt.Errorf("clustering: %w", err))
	}
	clusterCount, noiseCount := countClusters(clusterLabels)
	logger.Info().Int("clusters", clusterCount).Int("noise_points", noiseCount).Msg("clustering complete")
	rep.Progress("clustering", 70)

	// Stage 4: naming.
	rep.Progress("naming_clusters", 72)
	names := o.nameClusters(ctx, clusterLabels, hovers, job)
	rep.Progress("naming_clusters", 85)

	// Stage 5: render and patch.
	rep.Progress("generating_html", 88)
	labelNames := make([]string, len(clusterLabels))
	for i, l := range clusterLabels {
		if l < 0 {
			labelNames[i] = cfg.NoiseLabel
		} else {
			labelNames[i] = names[l]
		}
	}

	var html []byte
	err = runOffloaded(ctx, func() error {
		var rerr error
		html, rerr = o.renderer.Render(coords, labelNames, hovers, cfg)
		return rerr
	})
	if err != nil {
		if deadlineHit(ctx, err) {
			return nil, budgetError(err)
		}
		return nil, types.NewJobError(types.KindRendering, err)
	}
	html = []byte(assets.PatchHTML(string(html)))
	rep.Progress("generating_html", 100)

	metrics.PointsCreated.Add(float64(len(vectors)))
	metrics.ClustersCreated.Add(float64(clusterCount))

	return &Output{
		HTML:         html,
		PointCount:   len(vectors),
		ClusterCount: clusterCount,
		Stats: map[string]any{
			"unique_clusters":          clusterCount,
			"noise_points":             noiseCount,
			"umap_n_neighbors":         cfg.NNeighbors,
			"hdbscan_min_cluster_size": cfg.MinClusterSize,
		},
	}, nil
}

// nameClusters applies the labeling protocol: LLM naming when a usable
// configuration is present, numeric fallback otherwise. Naming never fails
// the job.
func (o *Orchestrator) nameClusters(ctx context.Context, labels []int, hovers []string, job *types.Job) map[int]string {
	samplesPer := job.VisualizationConfig.SamplesPerCluster
	if samplesPer < 1 {
		samplesPer = 1
	}

	// Every cluster id gets a key even when it has no usable texts, so the
	// naming stage always produces a label for it.
	clusters := make(map[int][]string)
	for i, l := range labels {
		if l < 0 {
			continue
		}
		if _, ok := clusters[l]; !ok {
			clusters[l] = nil
		}
		if hovers[i] != "" && len(clusters[l]) < samplesPer {
			clusters[l] = append(clusters[l], hovers[i])
		}
	}

	if job.LLMConfig.UseLLM() && o.namer != nil {
		return o.namer.NameClusters(ctx, clusters, job.LLMConfig, job.VisualizationConfig.LLMBatchSize)
	}

	names := make(map[int]string, len(clusters))
	for l := range clusters {
		names[l] = fmt.Sprintf("Cluster %d", l)
	}
	return names
}

func countClusters(labels []int) (clusters, noise int) {
	seen := make(map[int]bool)
	for _, l := range labels {
		if l < 0 {
			noise++
			continue
		}
		seen[l] = true
	}
	return len(seen), noise
}

// runOffloaded executes a CPU-bound stage on its own goroutine so the
// caller stays responsive to the budget deadline. On deadline the stage
// goroutine is abandoned; its result is discarded.
func runOffloaded(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deadlineHit(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func budgetError(err error) error {
	return types.NewJobError(types.KindTimeout, fmt.Errorf("processing budget exceeded: %w", err))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualization_transform_jobs_total",
			Help: "Total number of visualization transform jobs processed by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visualization_transform_duration_seconds",
			Help:    "Duration of visualization transform jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	JobFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualization_job_failures_total",
			Help: "Total number of visualization job failures by error kind",
		},
		[]string{"error_type"},
	)

	PointsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visualization_transform_points_created",
			Help: "Total number of visualization points created",
		},
	)

	ClustersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visualization_transform_clusters_created",
			Help: "Total number of clusters created by visualization transforms",
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visualization_s3_upload_duration_seconds",
			Help:    "Duration of object-store uploads for visualization results",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	// Broker metrics
	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_received_total",
			Help: "Total number of broker messages received",
		},
	)

	MessagesAcked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_acked_total",
			Help: "Total number of broker messages acknowledged",
		},
	)

	MessagesNacked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_nacked_total",
			Help: "Total number of broker messages negatively acknowledged",
		},
	)

	FetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_fetch_errors_total",
			Help: "Total number of transient broker fetch errors",
		},
	)

	// Worker state
	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "visualization_active_jobs",
			Help: "Number of visualization jobs currently being processed",
		},
	)

	WorkerReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "visualization_worker_ready",
			Help: "1 if the worker is ready, 0 otherwise",
		},
	)

	LastJobTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "visualization_last_job_timestamp_seconds",
			Help: "Unix timestamp of the last completed job",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(JobFailures)
	prometheus.MustRegister(PointsCreated)
	prometheus.MustRegister(ClustersCreated)
	prometheus.MustRegister(UploadDuration)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesAcked)
	prometheus.MustRegister(MessagesNacked)
	prometheus.MustRegister(FetchErrors)
	prometheus.MustRegister(ActiveJobs)
	prometheus.MustRegister(WorkerReady)
	prometheus.MustRegister(LastJobTimestamp)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

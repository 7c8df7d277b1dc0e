package types

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Status is the terminal or interim state of a job on the status subject.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Result is the outbound status envelope. Keys are camelCase on the wire
// and null-valued fields are omitted; the job identifier serializes as the
// lowercase hex UUID string.
type Result struct {
	JobID                    uuid.UUID      `json:"jobId"`
	VisualizationTransformID int64          `json:"visualizationTransformId"`
	VisualizationID          int64          `json:"visualizationId"`
	OwnerID                  string         `json:"ownerId"`
	Status                   Status         `json:"status"`
	HTMLObjectKey            string         `json:"htmlS3Key,omitempty"`
	PointCount               *int           `json:"pointCount,omitempty"`
	ClusterCount             *int           `json:"clusterCount,omitempty"`
	ProcessingDurationMS     *int64         `json:"processingDurationMs,omitempty"`
	ErrorMessage             string         `json:"errorMessage,omitempty"`
	Stats                    map[string]any `json:"statsJson,omitempty"`
}

// NewResult returns an envelope carrying the job's identity fields.
func NewResult(job *Job, status Status) *Result {
	return &Result{
		JobID:                    job.JobID,
		VisualizationTransformID: job.VisualizationTransformID,
		VisualizationID:          job.VisualizationID,
		OwnerID:                  job.OwnerID,
		Status:                   status,
	}
}

// Encode serializes the envelope for publishing.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// IntPtr is a small helper for the optional count fields.
func IntPtr(v int) *int { return &v }

// Int64Ptr is a small helper for the optional duration field.
func Int64Ptr(v int64) *int64 { return &v }

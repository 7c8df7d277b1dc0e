package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// VectorDatabaseConfig describes the vector store the job's collection
// lives in.
type VectorDatabaseConfig struct {
	DatabaseType  string `json:"database_type"`
	ConnectionURL string `json:"connection_url"`
	APIKey        string `json:"api_key,omitempty"`
}

// VisualizationConfig holds the projection, clustering, naming, and
// rendering parameters for one job. Unknown fields in the inbound JSON are
// ignored; absent fields keep the defaults from DefaultVisualizationConfig.
type VisualizationConfig struct {
	// Projection parameters
	NNeighbors int     `json:"n_neighbors"`
	MinDist    float64 `json:"min_dist"`
	Metric     string  `json:"metric"`

	// Clustering parameters
	MinClusterSize int `json:"min_cluster_size"`
	MinSamples     int `json:"min_samples"`

	// Topic naming parameters
	LLMBatchSize      int `json:"llm_batch_size"`
	SamplesPerCluster int `json:"samples_per_cluster"`

	// Rendering parameters
	Width                   int     `json:"width"`
	Height                  int     `json:"height"`
	Darkmode                bool    `json:"darkmode"`
	Title                   string  `json:"title,omitempty"`
	SubTitle                string  `json:"sub_title,omitempty"`
	NoiseLabel              string  `json:"noise_label"`
	NoiseColor              string  `json:"noise_color"`
	LabelWrapWidth          int     `json:"label_wrap_width"`
	FontFamily              string  `json:"font_family"`
	MinFontsize             float64 `json:"min_fontsize"`
	MaxFontsize             float64 `json:"max_fontsize"`
	PaletteHueShift         float64 `json:"palette_hue_shift"`
	UseMedoids              bool    `json:"use_medoids"`
	ClusterBoundaryPolygons bool    `json:"cluster_boundary_polygons"`
	PolygonAlpha            float64 `json:"polygon_alpha"`
	CVDSafer                bool    `json:"cvd_safer"`
	EnableTopicTree         bool    `json:"enable_topic_tree"`
}

// DefaultVisualizationConfig returns the documented defaults for every
// visualization parameter.
func DefaultVisualizationConfig() VisualizationConfig {
	return VisualizationConfig{
		NNeighbors:              15,
		MinDist:                 0.1,
		Metric:                  "cosine",
		MinClusterSize:          15,
		MinSamples:              5,
		LLMBatchSize:            10,
		SamplesPerCluster:       5,
		Width:                   1200,
		Height:                  800,
		NoiseLabel:              "Unlabelled",
		NoiseColor:              "#999999",
		LabelWrapWidth:          16,
		FontFamily:              "Arial, sans-serif",
		MinFontsize:             12,
		MaxFontsize:             24,
		ClusterBoundaryPolygons: true,
		PolygonAlpha:            0.3,
	}
}

// LLMProvider tags the closed set of supported naming backends.
type LLMProvider string

const (
	ProviderCohere   LLMProvider = "cohere"
	ProviderOpenAI   LLMProvider = "openai"
	ProviderInternal LLMProvider = "internal"
)

// LLMOptions is the free-form configuration bag attached to an LLM config.
// The known knobs are typed; everything else is preserved in Extra.
type LLMOptions struct {
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	SamplesPerCluster *int     `json:"samples_per_cluster,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON binds the typed knobs and keeps unknown keys in Extra.
func (o *LLMOptions) UnmarshalJSON(data []byte) error {
	type known struct {
		MaxTokens         *int     `json:"max_tokens"`
		Temperature       *float64 `json:"temperature"`
		SamplesPerCluster *int     `json:"samples_per_cluster"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "max_tokens")
	delete(raw, "temperature")
	delete(raw, "samples_per_cluster")

	o.MaxTokens = k.MaxTokens
	o.Temperature = k.Temperature
	o.SamplesPerCluster = k.SamplesPerCluster
	if len(raw) > 0 {
		o.Extra = raw
	} else {
		o.Extra = nil
	}
	return nil
}

// LLMConfig selects and parameterizes the naming backend for one job.
type LLMConfig struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	APIKey   string     `json:"api_key"`
	Config   LLMOptions `json:"config"`
}

// ProviderTag returns the provider normalized to lowercase.
func (c *LLMConfig) ProviderTag() LLMProvider {
	return LLMProvider(strings.ToLower(c.Provider))
}

// UseLLM reports whether the config is usable: the internal provider needs
// no key, external providers need a non-empty one.
func (c *LLMConfig) UseLLM() bool {
	if c == nil {
		return false
	}
	if c.ProviderTag() == ProviderInternal {
		return true
	}
	return strings.TrimSpace(c.APIKey) != ""
}

// Job is the inbound job envelope published by the producer API on the
// worker subject. Keys are snake_case on the wire.
type Job struct {
	JobID                    uuid.UUID            `json:"job_id"`
	VisualizationTransformID int64                `json:"visualization_transform_id"`
	VisualizationID          int64                `json:"visualization_id"`
	OwnerID                  string               `json:"owner_id"`
	EmbeddedDatasetID        int64                `json:"embedded_dataset_id"`
	CollectionName           string               `json:"qdrant_collection_name"`
	VisualizationConfig      VisualizationConfig  `json:"visualization_config"`
	VectorDatabaseConfig     VectorDatabaseConfig `json:"vector_database_config"`
	LLMConfig                *LLMConfig           `json:"llm_config,omitempty"`
}

// ValidationError reports a job envelope that parsed as JSON but violates
// an invariant. It is terminal for the message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job envelope: %s %s", e.Field, e.Reason)
}

// Validate checks the envelope invariants: positive integer identifiers and
// a non-empty collection name.
func (j *Job) Validate() error {
	if j.JobID == uuid.Nil {
		return &ValidationError{Field: "job_id", Reason: "must be set"}
	}
	if j.VisualizationTransformID <= 0 {
		return &ValidationError{Field: "visualization_transform_id", Reason: "must be positive"}
	}
	if j.VisualizationID <= 0 {
		return &ValidationError{Field: "visualization_id", Reason: "must be positive"}
	}
	if j.EmbeddedDatasetID <= 0 {
		return &ValidationError{Field: "embedded_dataset_id", Reason: "must be positive"}
	}
	if j.OwnerID == "" {
		return &ValidationError{Field: "owner_id", Reason: "must be non-empty"}
	}
	if j.CollectionName == "" {
		return &ValidationError{Field: "qdrant_collection_name", Reason: "must be non-empty"}
	}
	if j.VisualizationConfig.NNeighbors <= 0 {
		return &ValidationError{Field: "visualization_config.n_neighbors", Reason: "must be positive"}
	}
	if j.VisualizationConfig.MinClusterSize <= 1 {
		return &ValidationError{Field: "visualization_config.min_cluster_size", Reason: "must be greater than 1"}
	}
	if bs := j.VisualizationConfig.LLMBatchSize; bs < 1 || bs > 100 {
		return &ValidationError{Field: "visualization_config.llm_batch_size", Reason: "must be in [1, 100]"}
	}
	if j.LLMConfig != nil {
		switch j.LLMConfig.ProviderTag() {
		case ProviderCohere, ProviderOpenAI, ProviderInternal:
		default:
			return &ValidationError{Field: "llm_config.provider", Reason: "must be one of cohere, openai, internal"}
		}
	}
	return nil
}

// DecodeJob parses and validates an inbound job envelope. JSON syntax errors
// come back as *json.SyntaxError (or json.UnmarshalTypeError); invariant
// violations come back as *ValidationError.
func DecodeJob(data []byte) (*Job, error) {
	job := Job{VisualizationConfig: DefaultVisualizationConfig()}
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job envelope: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

package types

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() map[string]any {
	return map[string]any{
		"job_id":                     "3b9e6f3e-8f0a-4f27-9f4e-1c1d2e3f4a5b",
		"visualization_transform_id": 42,
		"visualization_id":           100,
		"owner_id":                   "u1",
		"embedded_dataset_id":        7,
		"qdrant_collection_name":     "docs",
		"visualization_config":       map[string]any{},
		"vector_database_config": map[string]any{
			"database_type":  "qdrant",
			"connection_url": "http://localhost:6333",
		},
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDecodeJobDefaults(t *testing.T) {
	job, err := DecodeJob(marshal(t, validEnvelope()))
	require.NoError(t, err)

	assert.Equal(t, int64(42), job.VisualizationTransformID)
	assert.Equal(t, "u1", job.OwnerID)
	assert.Equal(t, 15, job.VisualizationConfig.NNeighbors)
	assert.Equal(t, 0.1, job.VisualizationConfig.MinDist)
	assert.Equal(t, "cosine", job.VisualizationConfig.Metric)
	assert.Equal(t, 15, job.VisualizationConfig.MinClusterSize)
	assert.Equal(t, 5, job.VisualizationConfig.SamplesPerCluster)
	assert.True(t, job.VisualizationConfig.ClusterBoundaryPolygons)
	assert.Nil(t, job.LLMConfig)
}

func TestDecodeJobOverridesAndUnknownFields(t *testing.T) {
	env := validEnvelope()
	env["visualization_config"] = map[string]any{
		"n_neighbors":      30,
		"darkmode":         true,
		"noise_color":      "#000000",
		"not_a_real_field": "ignored",
	}

	job, err := DecodeJob(marshal(t, env))
	require.NoError(t, err)
	assert.Equal(t, 30, job.VisualizationConfig.NNeighbors)
	assert.True(t, job.VisualizationConfig.Darkmode)
	assert.Equal(t, "#000000", job.VisualizationConfig.NoiseColor)
	// Untouched fields keep their defaults.
	assert.Equal(t, 16, job.VisualizationConfig.LabelWrapWidth)
}

func TestDecodeJobValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{
			name:   "zero transform id",
			mutate: func(m map[string]any) { m["visualization_transform_id"] = 0 },
			field:  "visualization_transform_id",
		},
		{
			name:   "negative visualization id",
			mutate: func(m map[string]any) { m["visualization_id"] = -1 },
			field:  "visualization_id",
		},
		{
			name:   "empty collection",
			mutate: func(m map[string]any) { m["qdrant_collection_name"] = "" },
			field:  "qdrant_collection_name",
		},
		{
			name:   "missing owner",
			mutate: func(m map[string]any) { delete(m, "owner_id") },
			field:  "owner_id",
		},
		{
			name: "batch size out of range",
			mutate: func(m map[string]any) {
				m["visualization_config"] = map[string]any{"llm_batch_size": 101}
			},
			field: "visualization_config.llm_batch_size",
		},
		{
			name: "unknown provider",
			mutate: func(m map[string]any) {
				m["llm_config"] = map[string]any{"provider": "parrot", "model": "m"}
			},
			field: "llm_config.provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(env)
			_, err := DecodeJob(marshal(t, env))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDecodeJobMalformedJSON(t *testing.T) {
	_, err := DecodeJob([]byte("{not json"))
	require.Error(t, err)

	var verr *ValidationError
	assert.False(t, json.Valid([]byte("{not json")))
	assert.NotErrorAs(t, err, &verr)
}

func TestLLMOptionsBag(t *testing.T) {
	var cfg LLMConfig
	raw := `{
		"provider": "internal",
		"model": "mistralai/Mistral-7B-Instruct-v0.2",
		"api_key": "",
		"config": {"samples_per_cluster": 3, "temperature": 0.7, "custom_knob": "x"}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))

	require.NotNil(t, cfg.Config.SamplesPerCluster)
	assert.Equal(t, 3, *cfg.Config.SamplesPerCluster)
	require.NotNil(t, cfg.Config.Temperature)
	assert.Equal(t, 0.7, *cfg.Config.Temperature)
	assert.Nil(t, cfg.Config.MaxTokens)
	assert.Contains(t, cfg.Config.Extra, "custom_knob")

	assert.True(t, cfg.UseLLM())
	assert.Equal(t, ProviderInternal, cfg.ProviderTag())
}

func TestUseLLMRequiresKeyForExternalProviders(t *testing.T) {
	cohere := &LLMConfig{Provider: "Cohere", APIKey: "  "}
	assert.False(t, cohere.UseLLM())

	cohere.APIKey = "ck-123"
	assert.True(t, cohere.UseLLM())

	var absent *LLMConfig
	assert.False(t, absent.UseLLM())
}

func TestResultEncoding(t *testing.T) {
	job := &Job{
		JobID:                    uuid.MustParse("3b9e6f3e-8f0a-4f27-9f4e-1c1d2e3f4a5b"),
		VisualizationTransformID: 42,
		VisualizationID:          100,
		OwnerID:                  "u1",
	}

	r := NewResult(job, StatusSuccess)
	r.HTMLObjectKey = "visualizations/42/visualization-2026-01-02T03:04:05Z.html"
	r.PointCount = IntPtr(500)
	r.ClusterCount = IntPtr(4)
	r.ProcessingDurationMS = Int64Ptr(1234)

	data, err := r.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "3b9e6f3e-8f0a-4f27-9f4e-1c1d2e3f4a5b", wire["jobId"])
	assert.Equal(t, float64(42), wire["visualizationTransformId"])
	assert.Equal(t, "u1", wire["ownerId"])
	assert.Equal(t, "success", wire["status"])
	assert.Equal(t, float64(500), wire["pointCount"])
	// Null-valued fields are omitted entirely.
	assert.NotContains(t, wire, "errorMessage")
	assert.NotContains(t, wire, "statsJson")
}

func TestProcessingResultCarriesStats(t *testing.T) {
	job := &Job{JobID: uuid.New(), VisualizationTransformID: 1, VisualizationID: 2, OwnerID: "o"}
	r := NewResult(job, StatusProcessing)
	r.Stats = map[string]any{"stage": "clustering", "progress_percent": 55}

	data, err := r.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	stats := wire["statsJson"].(map[string]any)
	assert.Equal(t, "clustering", stats["stage"])
	assert.Equal(t, float64(55), stats["progress_percent"])
}

package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semantic-explorer/viz-worker/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

func TestHoverText(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		expected string
	}{
		{"title and text", map[string]any{"item_title": "Title", "text": "Body"}, "Title\n\nBody"},
		{"title only", map[string]any{"item_title": "Title"}, "Title"},
		{"text only", map[string]any{"text": "Body"}, "Body"},
		{"empty payload", map[string]any{}, ""},
		{"nil payload", nil, ""},
		{"non-string fields", map[string]any{"item_title": 42, "text": "Body"}, "Body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HoverText(tt.payload))
		})
	}
}

func TestQdrantGetCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`{"result": {"points_count": 500}, "status": "ok"}`))
	}))
	defer srv.Close()

	c := NewQdrantClient(srv.URL, "secret")
	info, err := c.GetCollection(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 500, info.PointsCount)
}

func TestQdrantScrollPagination(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/docs/points/scroll", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1000), body["limit"])

		if page == 0 {
			assert.NotContains(t, body, "offset")
			_, _ = w.Write([]byte(`{"result": {
				"points": [{"id": 1, "vector": [0.1, 0.2], "payload": {"text": "a"}}],
				"next_page_offset": 2
			}}`))
		} else {
			assert.Equal(t, float64(2), body["offset"])
			_, _ = w.Write([]byte(`{"result": {"points": [], "next_page_offset": null}}`))
		}
		page++
	}))
	defer srv.Close()

	c := NewQdrantClient(srv.URL, "")
	points, next, err := c.Scroll(context.Background(), "docs", ScrollRequest{Limit: 1000, WithVectors: true, WithPayload: true})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "1", points[0].ID)
	assert.Equal(t, []float32{0.1, 0.2}, points[0].Vector)
	assert.Equal(t, "2", string(next))

	points, next, err = c.Scroll(context.Background(), "docs", ScrollRequest{Limit: 1000, Offset: next, WithVectors: true, WithPayload: true})
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Equal(t, "null", string(next))
}

func TestQdrantErrorsAreWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewQdrantClient(srv.URL, "")
	_, err := c.GetCollection(context.Background(), "missing")
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "get_collection", verr.Op)
	assert.Contains(t, err.Error(), "404")
}

func TestQdrantRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/docs/points", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["ids"], 2)

		_, _ = w.Write([]byte(`{"result": [
			{"id": "a1", "vector": [1, 2], "payload": {"item_title": "T"}},
			{"id": "b2", "vector": [3, 4], "payload": {}}
		]}`))
	}))
	defer srv.Close()

	c := NewQdrantClient(srv.URL, "")
	points, err := c.Retrieve(context.Background(), "docs", []string{"a1", "b2"}, true, true)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "a1", points[0].ID)
	assert.Equal(t, "T", points[0].Payload["item_title"])
}

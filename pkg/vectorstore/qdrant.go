package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/log"
)

// QdrantClient implements Client against Qdrant's REST API.
type QdrantClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewQdrantClient builds a client for the given connection URL.
func NewQdrantClient(connectionURL, apiKey string) *QdrantClient {
	return &QdrantClient{
		baseURL: strings.TrimRight(connectionURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithComponent("vectorstore"),
	}
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantCollection struct {
	PointsCount int `json:"points_count"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Vector  []float32       `json:"vector"`
	Payload map[string]any  `json:"payload"`
}

type qdrantScrollResult struct {
	Points         []qdrantPoint   `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

// GetCollection fetches collection counters.
func (c *QdrantClient) GetCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	var col qdrantCollection
	if err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, &col); err != nil {
		return nil, &Error{Op: "get_collection", Err: err}
	}
	return &CollectionInfo{PointsCount: col.PointsCount}, nil
}

// Scroll fetches one page of points and the next page cursor. A nil cursor
// means the scroll is exhausted.
func (c *QdrantClient) Scroll(ctx context.Context, name string, req ScrollRequest) ([]Point, json.RawMessage, error) {
	body := map[string]any{
		"limit":        req.Limit,
		"with_vector":  req.WithVectors,
		"with_payload": req.WithPayload,
	}
	if len(req.Offset) > 0 {
		body["offset"] = json.RawMessage(req.Offset)
	}

	var res qdrantScrollResult
	if err := c.do(ctx, http.MethodPost, "/collections/"+name+"/points/scroll", body, &res); err != nil {
		return nil, nil, &Error{Op: "scroll", Err: err}
	}

	points := make([]Point, 0, len(res.Points))
	for _, p := range res.Points {
		points = append(points, toPoint(p))
	}
	return points, res.NextPageOffset, nil
}

// Retrieve fetches specific points by identifier.
func (c *QdrantClient) Retrieve(ctx context.Context, name string, ids []string, withVectors, withPayload bool) ([]Point, error) {
	body := map[string]any{
		"ids":          ids,
		"with_vector":  withVectors,
		"with_payload": withPayload,
	}

	var raw []qdrantPoint
	if err := c.do(ctx, http.MethodPost, "/collections/"+name+"/points", body, &raw); err != nil {
		return nil, &Error{Op: "retrieve", Err: err}
	}

	points := make([]Point, 0, len(raw))
	for _, p := range raw {
		points = append(points, toPoint(p))
	}
	return points, nil
}

func toPoint(p qdrantPoint) Point {
	// Point ids can be integers or UUID strings on the wire.
	id := strings.Trim(string(p.ID), `"`)
	return Point{ID: id, Vector: p.Vector, Payload: p.Payload}
}

func (c *QdrantClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var env qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

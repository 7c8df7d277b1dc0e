package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Point is one stored vector with its identifier and free-form payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// CollectionInfo carries the collection-level counters the worker needs.
type CollectionInfo struct {
	PointsCount int
}

// ScrollRequest parameterizes one page of a scroll.
type ScrollRequest struct {
	Limit       int
	Offset      json.RawMessage
	WithVectors bool
	WithPayload bool
}

// Client is the vector-store collaborator interface. The production
// implementation talks to Qdrant's REST surface; tests use in-memory fakes.
type Client interface {
	GetCollection(ctx context.Context, name string) (*CollectionInfo, error)
	Scroll(ctx context.Context, name string, req ScrollRequest) ([]Point, json.RawMessage, error)
	Retrieve(ctx context.Context, name string, ids []string, withVectors, withPayload bool) ([]Point, error)
}

// Error wraps any vector-store failure so callers can classify it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("vector store %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// HoverText derives the human-readable hover string for a point from its
// payload: item_title and text joined by a blank line, falling back to
// whichever is present.
func HoverText(payload map[string]any) string {
	title, _ := payload["item_title"].(string)
	text, _ := payload["text"].(string)
	switch {
	case title != "" && text != "":
		return title + "\n\n" + text
	case title != "":
		return title
	default:
		return text
	}
}

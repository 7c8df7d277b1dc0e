package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"

	"github.com/semantic-explorer/viz-worker/pkg/vectorstore"
)

const (
	scrollPageSize   = 1000
	idScrollPageSize = 5000
	retrieveBatch    = 500
)

// fetchVectors pulls every vector and hover text for the collection. When
// the collection exceeds the cap it scrolls identifiers only, samples
// uniformly without replacement down to the cap, and retrieves payloads in
// batches.
func fetchVectors(ctx context.Context, store vectorstore.Client, collection string, maxPoints int) ([][]float32, []string, error) {
	info, err := store.GetCollection(ctx, collection)
	if err != nil {
		return nil, nil, err
	}

	var points []vectorstore.Point
	if info.PointsCount <= maxPoints {
		points, err = scrollAll(ctx, store, collection)
	} else {
		points, err = sampleAndRetrieve(ctx, store, collection, maxPoints)
	}
	if err != nil {
		return nil, nil, err
	}

	vectors := make([][]float32, len(points))
	hovers := make([]string, len(points))
	for i, p := range points {
		vectors[i] = p.Vector
		hovers[i] = vectorstore.HoverText(p.Payload)
	}
	return vectors, hovers, nil
}

// scrollAll pages through the whole collection with vectors and payloads.
// An empty page or a cursor equal to the previous one ends the scroll, the
// latter guarding against servers that stop advancing.
func scrollAll(ctx context.Context, store vectorstore.Client, collection string) ([]vectorstore.Point, error) {
	var (
		all    []vectorstore.Point
		cursor []byte
	)
	for {
		page, next, err := store.Scroll(ctx, collection, vectorstore.ScrollRequest{
			Limit:       scrollPageSize,
			Offset:      cursor,
			WithVectors: true,
			WithPayload: true,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) == 0 || isNullCursor(next) || bytes.Equal(next, cursor) {
			return all, nil
		}
		cursor = next
	}
}

// sampleAndRetrieve scrolls identifiers only, samples down to the cap, and
// retrieves the sampled points with vectors and payloads.
func sampleAndRetrieve(ctx context.Context, store vectorstore.Client, collection string, maxPoints int) ([]vectorstore.Point, error) {
	var (
		ids    []string
		cursor []byte
	)
	for {
		page, next, err := store.Scroll(ctx, collection, vectorstore.ScrollRequest{
			Limit:       idScrollPageSize,
			Offset:      cursor,
			WithVectors: false,
			WithPayload: false,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			ids = append(ids, p.ID)
		}

		if len(page) == 0 || isNullCursor(next) || bytes.Equal(next, cursor) {
			break
		}
		cursor = next
	}

	ids = sampleIDs(ids, maxPoints)

	var all []vectorstore.Point
	for start := 0; start < len(ids); start += retrieveBatch {
		end := start + retrieveBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := store.Retrieve(ctx, collection, ids[start:end], true, true)
		if err != nil {
			return nil, fmt.Errorf("retrieve batch at %d: %w", start, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// sampleIDs picks k identifiers uniformly without replacement via a seeded
// partial Fisher-Yates shuffle.
func sampleIDs(ids []string, k int) []string {
	if len(ids) <= k {
		return ids
	}
	rng := rand.New(rand.NewSource(projectionSeed))
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:k]
}

func isNullCursor(cursor []byte) bool {
	return len(cursor) == 0 || bytes.Equal(cursor, []byte("null"))
}

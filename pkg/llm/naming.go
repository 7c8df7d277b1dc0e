package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/semantic-explorer/viz-worker/pkg/types"
)

const (
	minBatchSize = 1
	maxBatchSize = 100
)

// NameClusters labels every cluster in the map, running up to batchSize
// calls concurrently. Naming never fails the caller: a cluster whose call
// errors, or that has no sample texts, falls back to "Cluster {id}".
func (n *Namer) NameClusters(ctx context.Context, clusters map[int][]string, cfg *types.LLMConfig, batchSize int) map[int]string {
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	names := make(map[int]string, len(clusters))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSize)

	for id, texts := range clusters {
		id, texts := id, texts
		g.Go(func() error {
			name := fmt.Sprintf("Cluster %d", id)
			if len(texts) > 0 {
				generated, err := n.TopicName(ctx, texts, cfg)
				if err != nil {
					n.logger.Warn().
						Int("cluster", id).
						Err(err).
						Msg("topic naming failed, using numeric fallback")
				} else {
					name = generated
				}
			}
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors, so Wait only synchronizes.
	_ = g.Wait()
	return names
}

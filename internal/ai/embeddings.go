package ai

import (
	"context"
	"fmt"

	"pdf-knowledge-pipeline/internal/logger"

	genai "github.com/google/generative-ai-go/genai"
)

// EmbedTexts returns one embedding vector per input string, in input order.
// Requests are sent in batches to respect upstream request-size limits; batch
// boundaries are invisible to the caller. Failure of any batch aborts the
// whole call; no partial results are returned.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	model := c.client.EmbeddingModel(c.cfg.EmbeddingsModel)

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		result, err := c.execute(ctx, func() (interface{}, error) {
			b := model.NewBatch()
			for _, text := range batch {
				b = b.AddContent(genai.Text(text))
			}
			return model.BatchEmbedContents(ctx, b)
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d failed: %w", start, end, err)
		}

		resp := result.(*genai.BatchEmbedContentsResponse)
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(resp.Embeddings), len(batch))
		}

		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding returned for text %d", start+i)
			}
			vectors = append(vectors, emb.Values)
		}

		logger.Debug("Embeddings generated", "done", len(vectors), "total", len(texts))
	}

	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

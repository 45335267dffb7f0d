package services

import (
	"context"
	"fmt"

	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/internal/vector"
	"pdf-knowledge-pipeline/models"

	"github.com/google/uuid"
)

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// VectorStore is the slice of the vector index the injection pipeline needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, vectorSize int) error
	Upsert(ctx context.Context, collection string, points []vector.Point) error
	GetCollectionInfo(ctx context.Context, name string) (*vector.CollectionInfo, error)
}

// InjectStats summarizes one injection run.
type InjectStats struct {
	InjectedChunks           int    `json:"injected_chunks"`
	TotalTokens              int    `json:"total_tokens"`
	CollectionName           string `json:"collection_name"`
	TotalVectorsInCollection uint64 `json:"total_vectors_in_collection"`
}

// Injector embeds chunks and upserts them into a vector collection.
type Injector struct {
	embedder  Embedder
	store     VectorStore
	vectorDim int
}

// NewInjector creates an injection pipeline.
func NewInjector(embedder Embedder, store VectorStore, vectorDim int) *Injector {
	return &Injector{
		embedder:  embedder,
		store:     store,
		vectorDim: vectorDim,
	}
}

// Inject embeds every chunk and upserts the resulting points. The collection
// is created lazily on first use. Each point carries the chunk text and its
// provenance in the payload.
func (in *Injector) Inject(ctx context.Context, chunks []models.Chunk, collection, jobID, filename string) (*InjectStats, error) {
	if err := in.store.EnsureCollection(ctx, collection, in.vectorDim); err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	totalTokens := 0
	for i, chunk := range chunks {
		texts[i] = chunk.Text
		totalTokens += chunk.TokenCount
	}

	vectors, err := in.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	points := make([]vector.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = vector.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"text":        chunk.Text,
				"chunk_id":    chunk.Seq,
				"token_count": chunk.TokenCount,
				"char_count":  chunk.CharCount,
				"job_id":      jobID,
				"filename":    filename,
				"source":      "pdf-pipeline",
			},
		}
	}

	if err := in.store.Upsert(ctx, collection, points); err != nil {
		return nil, err
	}

	logger.Info("Chunks injected", "collection", collection, "count", len(points), "tokens", totalTokens)

	info, err := in.store.GetCollectionInfo(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection stats: %w", err)
	}

	return &InjectStats{
		InjectedChunks:           len(points),
		TotalTokens:              totalTokens,
		CollectionName:           collection,
		TotalVectorsInCollection: info.PointsCount,
	}, nil
}

package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
)

// Client talks to a Qdrant instance over its REST API. The only state it
// carries is the base URL and credentials, so one Client is safe for
// concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Point is one record to upsert: a random unique id, an embedding vector and
// an arbitrary payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// ScoredPoint is one nearest-neighbor search result.
type ScoredPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// StoredPoint is one record returned by a scroll page, without its vector.
type StoredPoint struct {
	ID      interface{}            `json:"id"`
	Payload map[string]interface{} `json:"payload"`
}

// CollectionSummary describes one collection for listings.
type CollectionSummary struct {
	Name         string `json:"name"`
	VectorsCount uint64 `json:"vectors_count"`
	VectorSize   int    `json:"vector_size"`
}

// CollectionInfo carries the subset of collection metadata this service uses.
type CollectionInfo struct {
	PointsCount uint64
	VectorSize  int
}

// NewClient creates a Qdrant REST client with a fixed request timeout.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.QdrantURL,
		apiKey:  cfg.QdrantAPIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.QdrantTimeout) * time.Second,
		},
	}
}

// do sends one JSON request and decodes the JSON response into out.
// A non-2xx status is returned as an error carrying the response body.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode qdrant response: %w", err)
		}
	}
	return nil
}

// ErrNotFound marks a missing collection or point.
var ErrNotFound = fmt.Errorf("qdrant: not found")

type collectionInfoResponse struct {
	Result struct {
		PointsCount uint64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// GetCollectionInfo describes a collection; returns ErrNotFound if absent.
func (c *Client) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	var resp collectionInfoResponse
	if err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, &resp); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		PointsCount: resp.Result.PointsCount,
		VectorSize:  resp.Result.Config.Params.Vectors.Size,
	}, nil
}

// EnsureCollection creates the named collection with cosine distance if it
// does not already exist. Existing collections are left untouched.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	_, err := c.GetCollectionInfo(ctx, name)
	if err == nil {
		logger.Debug("Collection already exists", "collection", name)
		return nil
	}
	if err != ErrNotFound {
		return fmt.Errorf("failed to check collection %q: %w", name, err)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}

	logger.Info("Collection created", "collection", name, "vector_size", vectorSize)
	return nil
}

// Upsert inserts or replaces the given points by id. The write waits for
// Qdrant to apply the whole batch, so from the caller's perspective it either
// fully succeeds or fails.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	body := map[string]interface{}{"points": points}
	if err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("failed to upsert %d points into %q: %w", len(points), collection, err)
	}
	return nil
}

type searchResponse struct {
	Result []ScoredPoint `json:"result"`
}

// Search runs nearest-neighbor search over the collection, descending by
// score, truncated to limit. When scoreThreshold is non-nil, results scoring
// below it are excluded server-side.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold *float64) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if scoreThreshold != nil {
		body["score_threshold"] = *scoreThreshold
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search in %q failed: %w", collection, err)
	}
	return resp.Result, nil
}

type scrollResponse struct {
	Result struct {
		Points         []StoredPoint `json:"points"`
		NextPageOffset interface{}   `json:"next_page_offset"`
	} `json:"result"`
}

// Scroll returns one page of points (payloads only, no vectors) plus the
// offset for the next page. A nil next offset signals exhaustion. Pass a nil
// offset to start from the beginning.
func (c *Client) Scroll(ctx context.Context, collection string, limit int, offset interface{}) ([]StoredPoint, interface{}, error) {
	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if offset != nil {
		body["offset"] = offset
	}

	var resp scrollResponse
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &resp); err != nil {
		return nil, nil, fmt.Errorf("scroll over %q failed: %w", collection, err)
	}
	return resp.Result.Points, resp.Result.NextPageOffset, nil
}

type listCollectionsResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

// ListCollections lists all collections with their point counts and vector
// sizes.
func (c *Client) ListCollections(ctx context.Context) ([]CollectionSummary, error) {
	var resp listCollectionsResponse
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	summaries := make([]CollectionSummary, 0, len(resp.Result.Collections))
	for _, col := range resp.Result.Collections {
		info, err := c.GetCollectionInfo(ctx, col.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to describe collection %q: %w", col.Name, err)
		}
		summaries = append(summaries, CollectionSummary{
			Name:         col.Name,
			VectorsCount: info.PointsCount,
			VectorSize:   info.VectorSize,
		})
	}
	return summaries, nil
}

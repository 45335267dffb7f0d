package routes

import (
	"net/http"
	"sort"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/internal/vector"
	"pdf-knowledge-pipeline/middleware"
	"pdf-knowledge-pipeline/services"
	"pdf-knowledge-pipeline/utils"

	"github.com/gin-gonic/gin"
)

const scrollPageSize = 250

type searchRequest struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection_name"`
	TopK       int      `json:"top_k"`
	MinScore   *float64 `json:"min_score"`
}

// HandleListCollections returns every Qdrant collection with its point count.
func HandleListCollections(store *vector.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		collections, err := store.ListCollections(c.Request.Context())
		if err != nil {
			logger.Error("Failed to list collections", "request_id", middleware.GetRequestID(c), "error", err)
			utils.RespondWithUpstreamError(c, "vector_db_error", "Failed to list collections")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"collections": collections,
			"count":       len(collections),
		})
	}
}

// HandleSearch embeds a free-text query and runs a semantic search over a
// collection.
func HandleSearch(cfg *config.Config, embedder services.Embedder, store *vector.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "invalid_request", "Invalid JSON body")
			return
		}
		if req.Query == "" {
			utils.RespondWithBadRequest(c, "missing_query", "query is required")
			return
		}
		if req.Collection == "" {
			req.Collection = cfg.DefaultCollection
		}
		if req.TopK <= 0 {
			req.TopK = 5
		}
		if req.TopK > 50 {
			req.TopK = 50
		}

		vec, err := embedder.EmbedQuery(c.Request.Context(), req.Query)
		if err != nil {
			logger.Error("Query embedding failed", "request_id", middleware.GetRequestID(c), "error", err)
			utils.RespondWithUpstreamError(c, "embedding_failed", "Failed to embed query")
			return
		}

		hits, err := store.Search(c.Request.Context(), req.Collection, vec, req.TopK, req.MinScore)
		if err != nil {
			logger.Error("Vector search failed", "request_id", middleware.GetRequestID(c), "collection", req.Collection, "error", err)
			utils.RespondWithUpstreamError(c, "search_failed", "Vector search failed")
			return
		}

		results := make([]gin.H, len(hits))
		for i, hit := range hits {
			results[i] = gin.H{
				"score":       hit.Score,
				"text":        hit.Payload["text"],
				"chunk_id":    hit.Payload["chunk_id"],
				"filename":    hit.Payload["filename"],
				"token_count": hit.Payload["token_count"],
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"query":           req.Query,
			"collection_name": req.Collection,
			"results":         results,
			"count":           len(results),
		})
	}
}

// scrollAll walks every page of a collection.
func scrollAll(c *gin.Context, store *vector.Client, collection string) ([]vector.StoredPoint, error) {
	var all []vector.StoredPoint
	var offset interface{}
	for {
		points, next, err := store.Scroll(c.Request.Context(), collection, scrollPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, points...)
		if next == nil {
			return all, nil
		}
		offset = next
	}
}

// HandleListDocuments aggregates the stored chunks by source document.
func HandleListDocuments(cfg *config.Config, store *vector.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		collection := c.DefaultQuery("collection_name", cfg.DefaultCollection)

		points, err := scrollAll(c, store, collection)
		if err != nil {
			if err == vector.ErrNotFound {
				utils.RespondWithNotFound(c, "collection_not_found", "Collection not found")
				return
			}
			logger.Error("Failed to scroll collection", "request_id", middleware.GetRequestID(c), "collection", collection, "error", err)
			utils.RespondWithUpstreamError(c, "vector_db_error", "Failed to read collection")
			return
		}

		type docSummary struct {
			Filename    string `json:"filename"`
			Chunks      int    `json:"chunks"`
			TotalTokens int    `json:"total_tokens"`
			JobID       string `json:"job_id"`
		}
		byFile := make(map[string]*docSummary)
		for _, p := range points {
			name, _ := p.Payload["filename"].(string)
			doc, ok := byFile[name]
			if !ok {
				doc = &docSummary{Filename: name}
				if jobID, ok := p.Payload["job_id"].(string); ok {
					doc.JobID = jobID
				}
				byFile[name] = doc
			}
			doc.Chunks++
			if tokens, ok := p.Payload["token_count"].(float64); ok {
				doc.TotalTokens += int(tokens)
			}
		}

		docs := make([]docSummary, 0, len(byFile))
		for _, doc := range byFile {
			docs = append(docs, *doc)
		}
		sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })

		c.JSON(http.StatusOK, gin.H{
			"collection_name": collection,
			"documents":       docs,
			"count":           len(docs),
			"total_chunks":    len(points),
		})
	}
}

// HandleListChunks returns the raw chunk records of a collection, optionally
// filtered by filename.
func HandleListChunks(cfg *config.Config, store *vector.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		collection := c.DefaultQuery("collection_name", cfg.DefaultCollection)
		filename := c.Query("filename")

		points, err := scrollAll(c, store, collection)
		if err != nil {
			if err == vector.ErrNotFound {
				utils.RespondWithNotFound(c, "collection_not_found", "Collection not found")
				return
			}
			logger.Error("Failed to scroll collection", "request_id", middleware.GetRequestID(c), "collection", collection, "error", err)
			utils.RespondWithUpstreamError(c, "vector_db_error", "Failed to read collection")
			return
		}

		chunks := make([]gin.H, 0, len(points))
		for _, p := range points {
			name, _ := p.Payload["filename"].(string)
			if filename != "" && name != filename {
				continue
			}
			chunks = append(chunks, gin.H{
				"id":          p.ID,
				"chunk_id":    p.Payload["chunk_id"],
				"filename":    name,
				"job_id":      p.Payload["job_id"],
				"token_count": p.Payload["token_count"],
				"char_count":  p.Payload["char_count"],
				"text":        p.Payload["text"],
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"collection_name": collection,
			"chunks":          chunks,
			"count":           len(chunks),
		})
	}
}

// HandleDatabaseStats reports collection-level statistics.
func HandleDatabaseStats(cfg *config.Config, store *vector.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		collection := c.DefaultQuery("collection_name", cfg.DefaultCollection)

		info, err := store.GetCollectionInfo(c.Request.Context(), collection)
		if err != nil {
			if err == vector.ErrNotFound {
				utils.RespondWithNotFound(c, "collection_not_found", "Collection not found")
				return
			}
			logger.Error("Failed to get collection info", "request_id", middleware.GetRequestID(c), "collection", collection, "error", err)
			utils.RespondWithUpstreamError(c, "vector_db_error", "Failed to read collection info")
			return
		}

		points, err := scrollAll(c, store, collection)
		if err != nil {
			logger.Error("Failed to scroll collection", "request_id", middleware.GetRequestID(c), "collection", collection, "error", err)
			utils.RespondWithUpstreamError(c, "vector_db_error", "Failed to read collection")
			return
		}

		files := make(map[string]struct{})
		totalTokens := 0
		for _, p := range points {
			if name, ok := p.Payload["filename"].(string); ok {
				files[name] = struct{}{}
			}
			if tokens, ok := p.Payload["token_count"].(float64); ok {
				totalTokens += int(tokens)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"collection_name": collection,
			"points_count":    info.PointsCount,
			"vector_size":     info.VectorSize,
			"documents":       len(files),
			"total_tokens":    totalTokens,
		})
	}
}

package routes

import (
	"net/http"
	"os"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/middleware"
	"pdf-knowledge-pipeline/models"
	"pdf-knowledge-pipeline/services"
	"pdf-knowledge-pipeline/utils"

	"github.com/gin-gonic/gin"
)

type pipelineRequest struct {
	Collection   string `json:"collection_name"`
	ChunkSize    *int   `json:"chunk_size"`
	ChunkOverlap *int   `json:"chunk_overlap"`
}

// bindPipelineRequest reads the optional JSON body shared by the chunking
// endpoints. Omitted fields fall back to the configured defaults; an omitted
// chunk_overlap is distinct from an explicit 0.
func bindPipelineRequest(c *gin.Context, cfg *config.Config) (collection string, size, overlap int, ok bool) {
	var req pipelineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "invalid_request", "Invalid JSON body")
			return "", 0, 0, false
		}
	}

	collection = req.Collection
	if collection == "" {
		collection = cfg.DefaultCollection
	}
	size, overlap = cfg.ChunkSize, cfg.ChunkOverlap
	if req.ChunkSize != nil {
		size = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		overlap = *req.ChunkOverlap
	}
	return collection, size, overlap, true
}

// completedJobMarkdown loads the converted markdown of a job, writing the
// error response itself when the job is missing, unfinished or unreadable.
func completedJobMarkdown(c *gin.Context, tracker *services.JobTracker) (models.ConversionJob, string, bool) {
	jobID := c.Param("job_id")
	job, ok := tracker.Get(jobID)
	if !ok {
		utils.RespondWithNotFound(c, "job_not_found", "Job not found")
		return models.ConversionJob{}, "", false
	}
	if job.Status != models.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error_code": "job_not_completed",
			"message":    "Conversion has not completed for this job",
			"status":     job.Status,
		})
		return models.ConversionJob{}, "", false
	}

	data, err := os.ReadFile(job.OutputPath)
	if err != nil {
		utils.RespondWithInternalError(c, "output_read_error", "Failed to read converted markdown")
		return models.ConversionJob{}, "", false
	}
	return job, string(data), true
}

// HandleChunk splits a completed job's markdown into token-bounded chunks
// and returns the full chunk list with statistics. Nothing is persisted.
func HandleChunk(cfg *config.Config, tracker *services.JobTracker, chunker *services.Chunker) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, markdown, ok := completedJobMarkdown(c, tracker)
		if !ok {
			return
		}

		_, size, overlap, ok := bindPipelineRequest(c, cfg)
		if !ok {
			return
		}
		chunks, err := chunker.ChunkMarkdown(markdown, size, overlap)
		if err != nil {
			utils.RespondWithBadRequest(c, "invalid_chunk_params", err.Error())
			return
		}

		totalTokens := 0
		minTokens, maxTokens := 0, 0
		chunkList := make([]gin.H, len(chunks))
		for i, ch := range chunks {
			totalTokens += ch.TokenCount
			if i == 0 || ch.TokenCount < minTokens {
				minTokens = ch.TokenCount
			}
			if ch.TokenCount > maxTokens {
				maxTokens = ch.TokenCount
			}
			chunkList[i] = gin.H{
				"chunk_id":    ch.Seq,
				"content":     ch.Text,
				"token_count": ch.TokenCount,
				"char_count":  ch.CharCount,
				"preview":     ch.Preview,
			}
		}

		avgTokens := 0
		if len(chunks) > 0 {
			avgTokens = totalTokens / len(chunks)
		}

		c.JSON(http.StatusOK, gin.H{
			"job_id":       job.ID,
			"filename":     job.Filename,
			"total_chunks": len(chunks),
			"chunks":       chunkList,
			"statistics": gin.H{
				"total_tokens":         totalTokens,
				"avg_tokens_per_chunk": avgTokens,
				"min_tokens":           minTokens,
				"max_tokens":           maxTokens,
				"chunk_size":           size,
				"chunk_overlap":        overlap,
			},
		})
	}
}

// HandleInject chunks a completed job's markdown, embeds every chunk and
// upserts the vectors into the target collection.
func HandleInject(cfg *config.Config, tracker *services.JobTracker, chunker *services.Chunker, injector *services.Injector) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, markdown, ok := completedJobMarkdown(c, tracker)
		if !ok {
			return
		}

		collection, size, overlap, ok := bindPipelineRequest(c, cfg)
		if !ok {
			return
		}

		chunks, err := chunker.ChunkMarkdown(markdown, size, overlap)
		if err != nil {
			utils.RespondWithBadRequest(c, "invalid_chunk_params", err.Error())
			return
		}
		if len(chunks) == 0 {
			utils.RespondWithBadRequest(c, "empty_document", "Converted document contains no text to inject")
			return
		}

		stats, err := injector.Inject(c.Request.Context(), chunks, collection, job.ID, job.Filename)
		if err != nil {
			logger.Error("Injection failed", "request_id", middleware.GetRequestID(c), "job_id", job.ID, "error", err)
			utils.RespondWithUpstreamError(c, "injection_failed", err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job_id":          job.ID,
			"filename":        job.Filename,
			"collection_name": stats.CollectionName,
			"injected_chunks": stats.InjectedChunks,
			"total_tokens":    stats.TotalTokens,
			"total_vectors":   stats.TotalVectorsInCollection,
		})
	}
}

// HandleAutoPipeline runs chunking and injection in one call for a job whose
// conversion already finished.
func HandleAutoPipeline(cfg *config.Config, tracker *services.JobTracker, chunker *services.Chunker, injector *services.Injector) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, markdown, ok := completedJobMarkdown(c, tracker)
		if !ok {
			return
		}

		collection, size, overlap, ok := bindPipelineRequest(c, cfg)
		if !ok {
			return
		}

		chunks, err := chunker.ChunkMarkdown(markdown, size, overlap)
		if err != nil {
			utils.RespondWithBadRequest(c, "invalid_chunk_params", err.Error())
			return
		}
		if len(chunks) == 0 {
			utils.RespondWithBadRequest(c, "empty_document", "Converted document contains no text to inject")
			return
		}

		stats, err := injector.Inject(c.Request.Context(), chunks, collection, job.ID, job.Filename)
		if err != nil {
			logger.Error("Auto pipeline injection failed", "request_id", middleware.GetRequestID(c), "job_id", job.ID, "error", err)
			utils.RespondWithUpstreamError(c, "injection_failed", err.Error())
			return
		}

		logger.Info("Auto pipeline completed", "request_id", middleware.GetRequestID(c), "job_id", job.ID, "chunks", stats.InjectedChunks, "collection", collection)

		c.JSON(http.StatusOK, gin.H{
			"job_id":   job.ID,
			"filename": job.Filename,
			"pipeline": gin.H{
				"conversion": gin.H{
					"method": job.Method,
					"pages":  job.Pages,
				},
				"chunking": gin.H{
					"total_chunks":  len(chunks),
					"chunk_size":    size,
					"chunk_overlap": overlap,
				},
				"injection": gin.H{
					"collection_name": stats.CollectionName,
					"injected_chunks": stats.InjectedChunks,
					"total_tokens":    stats.TotalTokens,
					"total_vectors":   stats.TotalVectorsInCollection,
				},
			},
		})
	}
}

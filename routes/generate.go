package routes

import (
	"errors"
	"net/http"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/middleware"
	"pdf-knowledge-pipeline/services"
	"pdf-knowledge-pipeline/utils"

	"github.com/gin-gonic/gin"
)

type generateRequest struct {
	Keywords     string   `json:"keywords"`
	Instructions string   `json:"instructions"`
	Collection   string   `json:"collection_name"`
	TopK         int      `json:"top_k"`
	MinScore     *float64 `json:"min_score"`
}

func (r *generateRequest) applyDefaults(cfg *config.Config) {
	if r.Collection == "" {
		r.Collection = cfg.DefaultCollection
	}
	if r.TopK <= 0 {
		r.TopK = 10
	}
	if r.TopK > 50 {
		r.TopK = 50
	}
}

func bindGenerateRequest(c *gin.Context, cfg *config.Config) (*generateRequest, bool) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "invalid_request", "Invalid JSON body")
		return nil, false
	}
	if req.Keywords == "" {
		utils.RespondWithBadRequest(c, "missing_keywords", "keywords is required")
		return nil, false
	}
	req.applyDefaults(cfg)
	return &req, true
}

// respondGenerationError maps retrieval and completion failures onto HTTP
// statuses. A model refusal is a 422 with diagnostics, not a server error.
func respondGenerationError(c *gin.Context, err error) {
	var insufficient *services.InsufficientDataError
	switch {
	case errors.Is(err, services.ErrNoContent):
		utils.RespondWithNotFound(c, "no_content", "No relevant content found in the database")
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error_code":    "insufficient_relevant_data",
			"message":       insufficient.Message,
			"chunks_found":  insufficient.ChunksFound,
			"avg_relevance": insufficient.AvgRelevance,
			"max_relevance": insufficient.MaxRelevance,
			"sources":       insufficient.Sources,
			"suggestion":    "Try different keywords or lower min_score",
		})
	default:
		logger.Error("Generation failed", "request_id", middleware.GetRequestID(c), "error", err)
		utils.RespondWithUpstreamError(c, "generation_failed", err.Error())
	}
}

// HandleGenerateDraft produces a short curated note from the passages that
// best match the requested keywords.
func HandleGenerateDraft(cfg *config.Config, generator *services.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindGenerateRequest(c, cfg)
		if !ok {
			return
		}

		result, err := generator.GenerateDraft(c.Request.Context(), req.Keywords, req.Collection, req.TopK)
		if err != nil {
			respondGenerationError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleGenerateContent produces instruction-driven content grounded
// strictly in retrieved passages.
func HandleGenerateContent(cfg *config.Config, generator *services.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindGenerateRequest(c, cfg)
		if !ok {
			return
		}
		if req.Instructions == "" {
			utils.RespondWithBadRequest(c, "missing_instructions", "instructions is required")
			return
		}

		minScore := 0.3
		if req.MinScore != nil {
			minScore = *req.MinScore
		}

		result, err := generator.GenerateContent(c.Request.Context(), req.Keywords, req.Instructions, req.Collection, req.TopK, minScore)
		if err != nil {
			respondGenerationError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleExtractQuotes returns verbatim quotes about the keywords as a
// markdown document.
func HandleExtractQuotes(cfg *config.Config, generator *services.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindGenerateRequest(c, cfg)
		if !ok {
			return
		}

		result, err := generator.ExtractQuotes(c.Request.Context(), req.Keywords, req.Collection, req.TopK)
		if err != nil {
			respondGenerationError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

package routes

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/middleware"
	"pdf-knowledge-pipeline/services"
	"pdf-knowledge-pipeline/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// previewLines caps the markdown preview included in the conversion response.
const previewLines = 50

// HandleObsidianConvert accepts a PDF and converts it to vault markdown in
// the request, returning the conversion metadata and a preview. The markdown
// file stays on disk for HandleObsidianDownload.
func HandleObsidianConvert(cfg *config.Config, converter *services.ObsidianConverter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithBadRequest(c, "file_too_large", "File size exceeds maximum limit")
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "no_file", "No file provided")
			return
		}
		defer file.Close()

		if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			utils.RespondWithBadRequest(c, "invalid_file_type", "Only PDF files are allowed")
			return
		}

		if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "directory_error", "Failed to create upload directory")
			return
		}

		jobID := uuid.NewString()
		pdfPath := filepath.Join(cfg.UploadDir, fmt.Sprintf("%s_%s", jobID, filepath.Base(header.Filename)))
		dst, err := os.OpenFile(pdfPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			utils.RespondWithInternalError(c, "file_open_error", "Failed to open destination")
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize)); err != nil {
			dst.Close()
			utils.RespondWithInternalError(c, "file_save_error", "Failed to save file")
			return
		}
		dst.Close()

		conv, markdown, err := converter.Convert(jobID, pdfPath, header.Filename)
		if err != nil {
			os.Remove(pdfPath)
			logger.Error("Obsidian conversion failed", "request_id", middleware.GetRequestID(c), "filename", header.Filename, "error", err)
			utils.RespondWithInternalError(c, "conversion_failed", "Conversion failed")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"job_id":        conv.JobID,
			"filename":      conv.Filename,
			"category":      conv.Category,
			"tags":          conv.Tags,
			"pages":         conv.Pages,
			"markdown_size": len(markdown),
			"preview":       markdownPreview(markdown),
			"method":        conv.Method,
		})
	}
}

// HandleObsidianDownload serves the markdown produced by a prior conversion
// as a file attachment.
func HandleObsidianDownload(converter *services.ObsidianConverter) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("job_id")
		conv, ok := converter.Get(jobID)
		if !ok {
			utils.RespondWithNotFound(c, "job_not_found", "Job not found")
			return
		}
		if _, err := os.Stat(conv.MarkdownPath); err != nil {
			utils.RespondWithNotFound(c, "file_not_found", "Markdown file not found")
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(conv.MarkdownPath)))
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.File(conv.MarkdownPath)
	}
}

// markdownPreview returns the first previewLines lines, noting how many were
// cut.
func markdownPreview(markdown string) string {
	lines := strings.Split(markdown, "\n")
	if len(lines) <= previewLines {
		return markdown
	}
	preview := strings.Join(lines[:previewLines], "\n")
	return preview + fmt.Sprintf("\n\n... (%d more lines)", len(lines)-previewLines)
}

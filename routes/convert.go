package routes

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/models"
	"pdf-knowledge-pipeline/services"
	"pdf-knowledge-pipeline/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleUpload accepts a PDF, saves it to disk and queues it for conversion.
// The response returns immediately with the job ID; extraction runs on the
// worker pool.
func HandleUpload(cfg *config.Config, tracker *services.JobTracker) gin.HandlerFunc {
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
		if header.Size > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "file_too_large", "File size exceeds maximum limit")
			return
		}

		// Check the magic bytes before trusting the extension.
		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil {
			utils.RespondWithBadRequest(c, "invalid_file", "Cannot read file header")
			return
		}
		if string(headerBuf[:4]) != "%PDF" {
			utils.RespondWithBadRequest(c, "invalid_pdf", "File does not appear to be a valid PDF")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "file_seek_error", "Failed to reset file for saving")
			return
		}

		if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "directory_error", "Failed to create upload directory")
			return
		}

		jobID := uuid.NewString()
		pdfPath := filepath.Join(cfg.UploadDir, fmt.Sprintf("%s.pdf", jobID))
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

		job := &models.ConversionJob{
			ID:         jobID,
			Filename:   header.Filename,
			PDFPath:    pdfPath,
			OutputPath: filepath.Join(cfg.OutputDir, fmt.Sprintf("%s.md", jobID)),
		}
		if err := tracker.Enqueue(job); err != nil {
			os.Remove(pdfPath)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error_code": "queue_full",
				"message":    "Conversion queue is full, try again later",
			})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message":  "PDF accepted for conversion",
			"job_id":   jobID,
			"status":   models.StatusQueued,
			"filename": header.Filename,
			"size":     header.Size,
		})
	}
}

// CheckJobStatus reports the current state of a conversion job.
func CheckJobStatus(tracker *services.JobTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("job_id")
		job, ok := tracker.Get(jobID)
		if !ok {
			utils.RespondWithNotFound(c, "job_not_found", "Job not found")
			return
		}

		resp := gin.H{
			"job_id":     job.ID,
			"status":     job.Status,
			"message":    job.Message,
			"filename":   job.Filename,
			"started_at": job.StartedAt,
		}
		if job.Status == models.StatusCompleted {
			resp["method"] = job.Method
			resp["pages"] = job.Pages
			resp["completed_at"] = job.CompletedAt
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DownloadMarkdown serves the converted markdown of a completed job as a
// file attachment.
func DownloadMarkdown(tracker *services.JobTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("job_id")
		job, ok := tracker.Get(jobID)
		if !ok {
			utils.RespondWithNotFound(c, "job_not_found", "Job not found")
			return
		}
		if job.Status != models.StatusCompleted {
			c.JSON(http.StatusConflict, gin.H{
				"error_code": "job_not_completed",
				"message":    fmt.Sprintf("Job is %s, not completed", job.Status),
			})
			return
		}

		name := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename)) + ".md"
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.File(job.OutputPath)
	}
}

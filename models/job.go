package models

import "time"

// JobStatus represents the lifecycle state of a conversion job
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// ExtractionMethod identifies which extraction strategy produced the markdown
type ExtractionMethod string

const (
	MethodLocal   ExtractionMethod = "local"
	MethodParser  ExtractionMethod = "parser"
	MethodUnknown ExtractionMethod = "unknown"
)

// ConversionJob tracks one PDF-to-markdown conversion request.
// Jobs live only in process memory; they are never persisted across restarts.
type ConversionJob struct {
	ID          string           `json:"job_id"`
	Status      JobStatus        `json:"status"`
	Message     string           `json:"message"`
	Filename    string           `json:"filename"`
	PDFPath     string           `json:"pdf_path"`
	OutputPath  string           `json:"output_path"`
	Method      ExtractionMethod `json:"method"`
	Pages       int              `json:"pages"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *ConversionJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}

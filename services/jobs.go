package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/models"
)

// JobTracker owns the process-wide registry of conversion jobs and the
// bounded worker pool that executes them. The registry map is guarded by a
// RWMutex; per-job mutation happens only through tracker methods, from the
// single worker that owns the job.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*models.ConversionJob

	extractor *Extractor
	queue     chan string
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewJobTracker creates a tracker with a bounded conversion queue.
func NewJobTracker(extractor *Extractor, queueDepth int) *JobTracker {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &JobTracker{
		jobs:      make(map[string]*models.ConversionJob),
		extractor: extractor,
		queue:     make(chan string, queueDepth),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the worker pool.
func (t *JobTracker) Start(workerCount int) {
	if workerCount <= 0 {
		workerCount = 2
	}
	logger.Info("Starting conversion workers", "count", workerCount)

	for i := 0; i < workerCount; i++ {
		t.wg.Add(1)
		go t.worker(i)
	}
}

// Stop signals workers to drain and waits for in-flight jobs to finish.
func (t *JobTracker) Stop() {
	close(t.stopChan)
	t.wg.Wait()
}

// Enqueue registers a queued job and submits it to the pool. A full queue is
// reported to the caller instead of blocking the request.
func (t *JobTracker) Enqueue(job *models.ConversionJob) error {
	job.Status = models.StatusQueued
	job.Message = "Waiting for a conversion worker..."
	job.Method = models.MethodUnknown
	job.StartedAt = time.Now()

	t.mu.Lock()
	t.jobs[job.ID] = job
	t.mu.Unlock()

	select {
	case t.queue <- job.ID:
		return nil
	default:
		t.update(job.ID, func(j *models.ConversionJob) {
			j.Status = models.StatusError
			j.Message = "Conversion queue is full"
		})
		return fmt.Errorf("conversion queue is full")
	}
}

// Get returns a snapshot copy of the job so callers never alias
// worker-mutated state.
func (t *JobTracker) Get(id string) (models.ConversionJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return models.ConversionJob{}, false
	}
	return *job, true
}

// EvictTerminal removes completed and errored jobs older than maxAge and
// returns the number evicted. Running jobs are never evicted.
func (t *JobTracker) EvictTerminal(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, job := range t.jobs {
		if job.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(t.jobs, id)
			evicted++
		}
	}
	return evicted
}

func (t *JobTracker) update(id string, fn func(*models.ConversionJob)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.jobs[id]; ok {
		fn(job)
	}
}

func (t *JobTracker) worker(workerID int) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopChan:
			logger.Debug("Conversion worker stopped", "worker", workerID)
			return
		case jobID := <-t.queue:
			t.process(workerID, jobID)
		}
	}
}

// process runs one conversion end to end. Errors are swallowed into job
// state; they are discoverable only via the status endpoint.
func (t *JobTracker) process(workerID int, jobID string) {
	job, ok := t.Get(jobID)
	if !ok {
		return
	}

	logger.Info("Processing conversion", "worker", workerID, "job_id", jobID, "file", job.Filename)

	t.update(jobID, func(j *models.ConversionJob) {
		j.Status = models.StatusProcessing
		j.Message = "Extracting text..."
	})

	result, err := t.extractor.Extract(context.Background(), job.PDFPath)
	if err != nil {
		t.fail(jobID, err)
		return
	}

	t.update(jobID, func(j *models.ConversionJob) {
		j.Message = fmt.Sprintf("Saving markdown (%s)...", result.Method)
	})

	if err := os.WriteFile(job.OutputPath, []byte(result.Text), 0o600); err != nil {
		t.fail(jobID, fmt.Errorf("failed to write markdown: %w", err))
		return
	}

	now := time.Now()
	t.update(jobID, func(j *models.ConversionJob) {
		j.Status = models.StatusCompleted
		j.Message = fmt.Sprintf("Conversion finished (%s)", result.Method)
		j.Method = result.Method
		j.Pages = result.Pages
		j.CompletedAt = &now
	})

	logger.Info("Conversion completed", "worker", workerID, "job_id", jobID, "method", result.Method, "pages", result.Pages)
}

func (t *JobTracker) fail(jobID string, err error) {
	now := time.Now()
	t.update(jobID, func(j *models.ConversionJob) {
		j.Status = models.StatusError
		j.Message = fmt.Sprintf("Error: %v", err)
		j.CompletedAt = &now
	})
	logger.Error("Conversion failed", "job_id", jobID, "error", err)
}
